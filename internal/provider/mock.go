package provider

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Scripted is a deterministic test ChatClient that replays a fixed
// sequence of Responses, one per Complete call, looping on the last
// entry once exhausted.
type Scripted struct {
	name      string
	responses []Response
	calls     atomic.Int64
}

// NewScripted creates a Scripted client named name that replays responses
// in order.
func NewScripted(name string, responses ...Response) *Scripted {
	return &Scripted{name: name, responses: responses}
}

// Name implements ChatClient.
func (s *Scripted) Name() string { return s.name }

// Calls returns how many times Complete/Stream has been invoked.
func (s *Scripted) Calls() int64 { return s.calls.Load() }

// Complete implements ChatClient.
func (s *Scripted) Complete(ctx context.Context, req Request) (Response, error) {
	idx := int(s.calls.Add(1)) - 1
	if len(s.responses) == 0 {
		return Response{}, fmt.Errorf("scripted client %q has no responses configured", s.name)
	}
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

// Stream implements ChatClient by replaying the scripted response as a
// single text delta (if any), one ToolCallDelta per tool call, and a
// final Done delta carrying its usage (so streaming and non-streaming
// exercise the same fixtures).
func (s *Scripted) Stream(ctx context.Context, req Request) (<-chan Delta, error) {
	resp, err := s.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan Delta, len(resp.ToolCalls)+2)
	if resp.Text != "" {
		ch <- Delta{Text: resp.Text}
	}
	for i, tc := range resp.ToolCalls {
		ch <- Delta{ToolCallDelta: &ToolCallDelta{Index: i, ID: tc.ID, Name: tc.Name, ArgumentFragment: string(tc.Arguments)}}
	}
	ch <- Delta{Done: true, Usage: resp.Usage}
	close(ch)
	return ch, nil
}

// Failing is a ChatClient whose every call fails with Err.
type Failing struct {
	name string
	err  error
}

// NewFailing creates a ChatClient named name that always returns err.
func NewFailing(name string, err error) *Failing { return &Failing{name: name, err: err} }

// Name implements ChatClient.
func (f *Failing) Name() string { return f.name }

// Complete implements ChatClient.
func (f *Failing) Complete(ctx context.Context, req Request) (Response, error) {
	return Response{}, f.err
}

// Stream implements ChatClient.
func (f *Failing) Stream(ctx context.Context, req Request) (<-chan Delta, error) {
	return nil, f.err
}
