package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       2.0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	})
	if res.Err != nil || res.Attempts != 1 || calls != 1 {
		t.Fatalf("res = %+v, calls = %d", res, calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if res.Err != nil {
		t.Fatalf("err = %v", res.Err)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", res.Attempts)
	}
}

func TestDoExhaustsAttemptBudget(t *testing.T) {
	boom := errors.New("boom")
	res := Do(context.Background(), fastConfig(3), func() error {
		return boom
	})
	if !errors.Is(res.Err, boom) {
		t.Fatalf("err = %v, want boom", res.Err)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", res.Attempts)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	fatal := errors.New("bad request")
	res := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return Permanent(fatal)
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (permanent must not retry)", calls)
	}
	if !errors.Is(res.Err, fatal) {
		t.Fatalf("err = %v, want wrapped bad request", res.Err)
	}
}

func TestDoObservesContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	res := Do(ctx, Config{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Factor: 1.0}, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", res.Err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (cancelled during backoff)", calls)
	}
}

func TestDoWithValueReturnsLastValue(t *testing.T) {
	calls := 0
	value, res := DoWithValue(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if res.Err != nil || value != "ok" {
		t.Fatalf("value = %q, res = %+v", value, res)
	}
}

func TestPermanentNilStaysNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) must be nil")
	}
	if IsPermanent(errors.New("plain")) {
		t.Fatal("plain error reported permanent")
	}
}

func TestProfilesAreBounded(t *testing.T) {
	for _, cfg := range []Config{EndpointFailover(), CheckpointWrite()} {
		if cfg.MaxAttempts < 1 || cfg.InitialDelay <= 0 || cfg.MaxDelay < cfg.InitialDelay {
			t.Fatalf("profile not sane: %+v", cfg)
		}
	}
}
