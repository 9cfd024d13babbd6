package hooks

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestDispatchRunsHandlersInPriorityOrder(t *testing.T) {
	m := NewManager(nil)
	var order []string
	m.Register(BeforeLLM, PriorityLow, func(ctx context.Context, payload any) error {
		order = append(order, "low")
		return nil
	})
	m.Register(BeforeLLM, PriorityHigh, func(ctx context.Context, payload any) error {
		order = append(order, "high")
		return nil
	})
	m.Register(BeforeLLM, PriorityNormal, func(ctx context.Context, payload any) error {
		order = append(order, "normal")
		return nil
	})

	if err := m.Dispatch(context.Background(), BeforeLLM, nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(order) != 3 || order[0] != "high" || order[1] != "normal" || order[2] != "low" {
		t.Fatalf("order = %v", order)
	}
}

func TestDispatchStopsAtFirstError(t *testing.T) {
	m := NewManager(nil)
	boom := errors.New("boom")
	ran := false
	m.Register(AfterLLM, PriorityHigh, func(ctx context.Context, payload any) error {
		return boom
	})
	m.Register(AfterLLM, PriorityNormal, func(ctx context.Context, payload any) error {
		ran = true
		return nil
	})

	if err := m.Dispatch(context.Background(), AfterLLM, nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if ran {
		t.Fatal("later handler ran after an earlier failure")
	}
}

func TestUnregisterRemovesHandler(t *testing.T) {
	m := NewManager(nil)
	calls := 0
	id := m.Register(BeforeToolCall, PriorityNormal, func(ctx context.Context, payload any) error {
		calls++
		return nil
	})

	_ = m.Dispatch(context.Background(), BeforeToolCall, nil)
	m.Unregister(BeforeToolCall, id)
	_ = m.Dispatch(context.Background(), BeforeToolCall, nil)

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDispatchPassesPayload(t *testing.T) {
	m := NewManager(nil)
	var got any
	m.Register(AfterMemoryCompact, PriorityNormal, func(ctx context.Context, payload any) error {
		got = payload
		return nil
	})
	_ = m.Dispatch(context.Background(), AfterMemoryCompact, "payload-42")
	if got != "payload-42" {
		t.Fatalf("payload = %v", got)
	}
}

func TestConcurrentRegisterAndDispatch(t *testing.T) {
	m := NewManager(nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Register(BeforeLLM, PriorityNormal, func(ctx context.Context, payload any) error { return nil })
		}()
		go func() {
			defer wg.Done()
			_ = m.Dispatch(context.Background(), BeforeLLM, nil)
		}()
	}
	wg.Wait()
}
