package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AndersonBY/vv-agent/internal/retry"
)

// FailoverConfig configures a multi-endpoint Failover client:
// circuit-breaker state per endpoint, classify-then-retry-then-failover.
type FailoverConfig struct {
	RetryConfig             retry.Config
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// DefaultFailoverConfig returns the stock failover settings.
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		RetryConfig:             retry.EndpointFailover(),
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

type endpointState struct {
	failures      int
	circuitOpen   bool
	circuitOpenAt time.Time
}

// Failover composes multiple ChatClient endpoints with per-endpoint retry
// and a circuit breaker, surfacing ErrEndpointsExhausted only once every endpoint has
// failed.
type Failover struct {
	endpoints []ChatClient
	config    FailoverConfig

	mu     sync.Mutex
	states map[string]*endpointState
}

// NewFailover creates a Failover over the given endpoints, tried in order.
func NewFailover(config FailoverConfig, endpoints ...ChatClient) *Failover {
	if config.RetryConfig.MaxAttempts <= 0 {
		config = DefaultFailoverConfig()
	}
	return &Failover{
		endpoints: endpoints,
		config:    config,
		states:    make(map[string]*endpointState),
	}
}

// Name implements ChatClient.
func (f *Failover) Name() string { return "failover" }

// Complete implements ChatClient, trying each endpoint in order.
func (f *Failover) Complete(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	for _, ep := range f.endpoints {
		state := f.stateFor(ep.Name())
		if !f.available(state) {
			continue
		}

		resp, attempts := retry.DoWithValue(ctx, f.config.RetryConfig, func() (Response, error) {
			resp, err := ep.Complete(ctx, req)
			if err != nil && !shouldFailover(err) {
				return resp, retry.Permanent(err)
			}
			return resp, err
		})
		if attempts.Err == nil {
			f.recordSuccess(ep.Name())
			return resp, nil
		}
		lastErr = attempts.Err
		f.recordFailure(ep.Name())
		if !shouldFailover(attempts.Err) {
			return Response{}, attempts.Err
		}
	}
	if lastErr == nil {
		lastErr = ErrEndpointsExhausted
	}
	return Response{}, fmt.Errorf("%w: %v", ErrEndpointsExhausted, lastErr)
}

// Stream implements ChatClient, trying each endpoint in order. There is
// no mid-stream failover: once a stream starts emitting deltas it owns
// the turn.
func (f *Failover) Stream(ctx context.Context, req Request) (<-chan Delta, error) {
	var lastErr error
	for _, ep := range f.endpoints {
		state := f.stateFor(ep.Name())
		if !f.available(state) {
			continue
		}
		ch, err := ep.Stream(ctx, req)
		if err == nil {
			f.recordSuccess(ep.Name())
			return ch, nil
		}
		lastErr = err
		f.recordFailure(ep.Name())
		if !shouldFailover(err) {
			return nil, err
		}
	}
	if lastErr == nil {
		lastErr = ErrEndpointsExhausted
	}
	return nil, fmt.Errorf("%w: %v", ErrEndpointsExhausted, lastErr)
}

// ErrEndpointsExhausted is returned once no endpoint is left to try:
// each one either failed with an error that permits failover or had an
// open circuit.
var ErrEndpointsExhausted = fmt.Errorf("all chat client endpoints exhausted")

func (f *Failover) stateFor(name string) *endpointState {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[name]
	if !ok {
		s = &endpointState{}
		f.states[name] = s
	}
	return s
}

func (f *Failover) available(s *endpointState) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !s.circuitOpen {
		return true
	}
	if time.Since(s.circuitOpenAt) > f.config.CircuitBreakerTimeout {
		s.circuitOpen = false
		s.failures = 0
		return true
	}
	return false
}

func (f *Failover) recordSuccess(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.states[name]
	if s != nil {
		s.failures = 0
		s.circuitOpen = false
	}
}

func (f *Failover) recordFailure(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.states[name]
	if s == nil {
		return
	}
	s.failures++
	if f.config.CircuitBreakerThreshold > 0 && s.failures >= f.config.CircuitBreakerThreshold {
		s.circuitOpen = true
		s.circuitOpenAt = time.Now()
	}
}

func shouldFailover(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return true
	case strings.Contains(msg, "server error"), strings.Contains(msg, "503"), strings.Contains(msg, "502"):
		return true
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "model not found"):
		return true
	default:
		return false
	}
}
