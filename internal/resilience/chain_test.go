package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/dialog"
	dialogmock "github.com/ThinhHoang1/AI-english-startup-conversation/pkg/dialog/mock"
)

var errPrimaryDown = errors.New("primary down")

func TestProviderChain_PrimaryHealthy(t *testing.T) {
	primary := &dialogmock.Provider{}
	fallback := &dialogmock.Provider{}

	chain := NewProviderChain("gemini", primary, ChainConfig{})
	chain.Add("openai", fallback)

	sess, err := chain.Connect(context.Background(), dialog.Config{Model: "gemini-live"})
	if err != nil {
		t.Fatalf("Connect() = %v, want nil", err)
	}
	defer sess.Close()

	if got := len(primary.Sessions()); got != 1 {
		t.Errorf("primary sessions = %d, want 1", got)
	}
	if got := len(fallback.Sessions()); got != 0 {
		t.Errorf("fallback sessions = %d, want 0", got)
	}
	if primary.Last().Config.Model != "gemini-live" {
		t.Errorf("Config.Model = %q, want %q", primary.Last().Config.Model, "gemini-live")
	}
}

func TestProviderChain_FailsOverToFallback(t *testing.T) {
	primary := &dialogmock.Provider{ConnectErr: errPrimaryDown}
	fallback := &dialogmock.Provider{}

	chain := NewProviderChain("gemini", primary, ChainConfig{})
	chain.Add("openai", fallback)

	sess, err := chain.Connect(context.Background(), dialog.Config{})
	if err != nil {
		t.Fatalf("Connect() = %v, want nil", err)
	}
	defer sess.Close()

	if got := len(fallback.Sessions()); got != 1 {
		t.Errorf("fallback sessions = %d, want 1", got)
	}
}

func TestProviderChain_AllBackendsDown(t *testing.T) {
	primary := &dialogmock.Provider{ConnectErr: errPrimaryDown}
	fallback := &dialogmock.Provider{ConnectErr: errors.New("fallback down")}

	chain := NewProviderChain("gemini", primary, ChainConfig{})
	chain.Add("openai", fallback)

	_, err := chain.Connect(context.Background(), dialog.Config{})
	if !errors.Is(err, ErrNoBackend) {
		t.Errorf("Connect() = %v, want ErrNoBackend", err)
	}
}

func TestProviderChain_SkipsTrippedPrimary(t *testing.T) {
	primary := &dialogmock.Provider{ConnectErr: errPrimaryDown}
	fallback := &dialogmock.Provider{}

	chain := NewProviderChain("gemini", primary, ChainConfig{
		Breaker: BreakerConfig{TripAfter: 2, Cooldown: time.Minute},
	})
	chain.Add("openai", fallback)

	// Two failed connects trip the primary's breaker.
	for i := 0; i < 2; i++ {
		sess, err := chain.Connect(context.Background(), dialog.Config{})
		if err != nil {
			t.Fatalf("Connect() #%d = %v, want nil", i, err)
		}
		sess.Close()
	}

	// The third connect must not even dial the primary.
	before := len(primary.Sessions())
	sess, err := chain.Connect(context.Background(), dialog.Config{})
	if err != nil {
		t.Fatalf("Connect() with tripped primary = %v, want nil", err)
	}
	defer sess.Close()

	if got := len(primary.Sessions()); got != before {
		t.Errorf("primary sessions = %d, want %d (breaker should skip it)", got, before)
	}
	if got := len(fallback.Sessions()); got != 3 {
		t.Errorf("fallback sessions = %d, want 3", got)
	}
}

func TestProviderChain_PrimaryRecovers(t *testing.T) {
	primary := &dialogmock.Provider{ConnectErr: errPrimaryDown}
	fallback := &dialogmock.Provider{}

	chain := NewProviderChain("gemini", primary, ChainConfig{
		Breaker: BreakerConfig{TripAfter: 1, Cooldown: 10 * time.Millisecond, ProbeBudget: 1},
	})
	chain.Add("openai", fallback)

	sess, err := chain.Connect(context.Background(), dialog.Config{})
	if err != nil {
		t.Fatalf("Connect() = %v, want nil", err)
	}
	sess.Close()

	primary.ConnectErr = nil
	time.Sleep(15 * time.Millisecond)

	sess, err = chain.Connect(context.Background(), dialog.Config{})
	if err != nil {
		t.Fatalf("Connect() after recovery = %v, want nil", err)
	}
	defer sess.Close()

	if got := len(primary.Sessions()); got != 1 {
		t.Errorf("primary sessions = %d, want 1 after recovery", got)
	}
}

func TestProviderChain_Backends(t *testing.T) {
	chain := NewProviderChain("gemini", &dialogmock.Provider{}, ChainConfig{})
	chain.Add("openai", &dialogmock.Provider{})

	got := chain.Backends()
	want := []string{"gemini", "openai"}
	if len(got) != len(want) {
		t.Fatalf("Backends() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Backends()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
