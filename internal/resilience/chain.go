package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/dialog"
)

// ErrNoBackend is returned by [ProviderChain.Connect] when every backend
// in the chain either failed or is cooling down.
var ErrNoBackend = errors.New("resilience: no dialog backend available")

var _ dialog.Provider = (*ProviderChain)(nil)

// ChainConfig configures a [ProviderChain].
type ChainConfig struct {
	// Breaker is the breaker configuration applied to every backend.
	// The Backend field is overwritten per backend.
	Breaker BreakerConfig
}

type backend struct {
	name     string
	provider dialog.Provider
	breaker  *Breaker
}

// ProviderChain implements [dialog.Provider] over an ordered list of
// backends. Connect tries each backend in order, skipping those whose
// breaker is cooling down, and returns the first session it gets. The
// session itself is the backend's own; the chain only arbitrates the
// connect.
type ProviderChain struct {
	cfg ChainConfig

	mu       sync.Mutex
	backends []backend
}

// NewProviderChain creates a chain with primary as its first backend.
func NewProviderChain(name string, primary dialog.Provider, cfg ChainConfig) *ProviderChain {
	c := &ProviderChain{cfg: cfg}
	c.Add(name, primary)
	return c
}

// Add appends a fallback backend to the chain. Backends are tried in the
// order they were added.
func (c *ProviderChain) Add(name string, p dialog.Provider) {
	bcfg := c.cfg.Breaker
	bcfg.Backend = name
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backends = append(c.backends, backend{
		name:     name,
		provider: p,
		breaker:  NewBreaker(bcfg),
	})
}

// Connect implements [dialog.Provider]. It walks the chain until a
// backend yields a session, and wraps the last failure in [ErrNoBackend]
// when none does.
func (c *ProviderChain) Connect(ctx context.Context, cfg dialog.Config) (dialog.Session, error) {
	c.mu.Lock()
	backends := make([]backend, len(c.backends))
	copy(backends, c.backends)
	c.mu.Unlock()

	var lastErr error
	for i, b := range backends {
		var sess dialog.Session
		err := b.breaker.Do(func() error {
			var cerr error
			sess, cerr = b.provider.Connect(ctx, cfg)
			return cerr
		})
		if err == nil {
			if i > 0 {
				slog.Info("dialog connected via fallback backend",
					"backend", b.name,
					"skipped", i)
			}
			return sess, nil
		}

		lastErr = err
		if errors.Is(err, ErrBackendCooling) {
			slog.Debug("skipping cooling dialog backend", "backend", b.name)
		} else {
			slog.Warn("dialog backend connect failed",
				"backend", b.name,
				"err", err)
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrNoBackend, lastErr)
}

// Backends returns the configured backend names in chain order.
func (c *ProviderChain) Backends() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.name
	}
	return names
}
