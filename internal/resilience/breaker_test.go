package resilience_test

import (
	"errors"
	"testing"
	"time"

	"github.com/pitchcoach/pitchcoach/internal/resilience"
)

var errBoom = errors.New("boom")

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{
		Name:         "test",
		MaxFailures:  3,
		ResetTimeout: time.Hour,
	})

	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v, want errBoom", i, err)
		}
	}
	if got := b.State(); got != resilience.BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}

	// Open breaker fails fast without invoking fn.
	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, resilience.ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn was called while the breaker was open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	_ = b.Do(func() error { return errBoom })
	_ = b.Do(func() error { return nil })
	_ = b.Do(func() error { return errBoom })

	if got := b.State(); got != resilience.BreakerClosed {
		t.Errorf("state = %v, want closed (non-consecutive failures)", got)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Millisecond,
		ProbeBudget:  2,
	})

	_ = b.Do(func() error { return errBoom })
	if got := b.State(); got != resilience.BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(5 * time.Millisecond)
	if got := b.State(); got != resilience.BreakerHalfOpen {
		t.Fatalf("state after timeout = %v, want half-open", got)
	}

	// Two successful probes close the breaker.
	for i := 0; i < 2; i++ {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if got := b.State(); got != resilience.BreakerClosed {
		t.Errorf("state after probes = %v, want closed", got)
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Millisecond,
		ProbeBudget:  3,
	})

	_ = b.Do(func() error { return errBoom })
	time.Sleep(5 * time.Millisecond)

	if err := b.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("probe err = %v, want errBoom", err)
	}
	// Immediately after a failed probe the breaker is open again.
	if err := b.Do(func() error { return nil }); !errors.Is(err, resilience.ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}
}

func TestBreakerReset(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = b.Do(func() error { return errBoom })
	b.Reset()
	if got := b.State(); got != resilience.BreakerClosed {
		t.Errorf("state after Reset = %v, want closed", got)
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Errorf("Do after Reset: %v", err)
	}
}
