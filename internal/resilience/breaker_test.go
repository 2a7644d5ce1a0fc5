package resilience

import (
	"errors"
	"testing"
	"time"
)

var errPlatform = errors.New("platform unavailable")

func TestClosedPassesThrough(t *testing.T) {
	b := NewBreaker(3, time.Second)

	called := false
	if err := b.Do(func() error { called = true; return nil }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !called {
		t.Fatal("fn not called while closed")
	}
}

func TestOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Second)

	for range 3 {
		_ = b.Do(func() error { return errPlatform })
	}

	err := b.Do(func() error { t.Fatal("fn called while open"); return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
}

func TestProbeAfterCooldownCloses(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }

	for range 2 {
		_ = b.Do(func() error { return errPlatform })
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen inside cooldown, got %v", err)
	}

	now = now.Add(2 * time.Second)

	// The probe call goes through and its success closes the circuit.
	called := false
	if err := b.Do(func() error { called = true; return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !called {
		t.Fatal("probe fn not called")
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("circuit did not close after successful probe: %v", err)
	}
}

func TestProbeFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }

	for range 2 {
		_ = b.Do(func() error { return errPlatform })
	}
	now = now.Add(2 * time.Second)

	_ = b.Do(func() error { return errPlatform })

	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("circuit not reopened after failed probe: %v", err)
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	b := NewBreaker(3, time.Second)

	_ = b.Do(func() error { return errPlatform })
	_ = b.Do(func() error { return errPlatform })
	_ = b.Do(func() error { return nil })
	_ = b.Do(func() error { return errPlatform })
	_ = b.Do(func() error { return errPlatform })

	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("circuit tripped without a full streak: %v", err)
	}
}
