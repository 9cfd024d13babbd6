// Package retry implements a bounded retry loop with exponential
// backoff. It backs the chat-client endpoint failover path
// (internal/provider) and the checkpoint write's load-modify-save loop
// (internal/runtime).
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config bounds one retry loop.
type Config struct {
	// MaxAttempts is the total attempt budget, including the first try.
	MaxAttempts int
	// InitialDelay is the sleep after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the growing sleep.
	MaxDelay time.Duration
	// Factor multiplies the sleep between attempts.
	Factor float64
	// Jitter randomizes each sleep into [0.5x, 1.5x].
	Jitter bool
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2.0
	}
	return c
}

// EndpointFailover returns the backoff profile used when retrying a
// single chat-client endpoint before the caller fails over to the next
// one. Short attempts, short caps: failover to a healthy endpoint
// should win over waiting out a slow one.
func EndpointFailover() Config {
	return Config{
		MaxAttempts:  2,
		InitialDelay: 150 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

// CheckpointWrite returns the profile for retrying an optimistic
// checkpoint save after a version conflict. Conflicts resolve as soon
// as the competing writer finishes, so the delays stay small.
func CheckpointWrite() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     200 * time.Millisecond,
		Factor:       2.0,
		Jitter:       true,
	}
}

// Result reports how a retry loop ended.
type Result struct {
	// Attempts is how many times op ran.
	Attempts int
	// Err is the last error, nil on success.
	Err error
}

// Do runs op until it succeeds, returns a Permanent error, ctx is
// cancelled, or the attempt budget runs out.
func Do(ctx context.Context, config Config, op func() error) Result {
	config = config.withDefaults()

	var res Result
	sleep := config.InitialDelay
	for {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		res.Attempts++
		res.Err = op()
		if res.Err == nil || IsPermanent(res.Err) || res.Attempts >= config.MaxAttempts {
			return res
		}

		d := sleep
		if config.Jitter {
			d = time.Duration(float64(sleep) * (0.5 + rand.Float64())) // #nosec G404 -- jitter needs no crypto randomness
		}
		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		case <-time.After(d):
		}

		sleep = time.Duration(float64(sleep) * config.Factor)
		if sleep > config.MaxDelay {
			sleep = config.MaxDelay
		}
	}
}

// DoWithValue is Do for operations that produce a value.
func DoWithValue[T any](ctx context.Context, config Config, op func() (T, error)) (T, Result) {
	var value T
	res := Do(ctx, config, func() error {
		var err error
		value, err = op()
		return err
	})
	return value, res
}

// permanentError marks an error Do must not retry.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do stops immediately instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
