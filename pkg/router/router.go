package router

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/eventwire/eventwire/pkg/config"
	"github.com/eventwire/eventwire/pkg/provider"
)

// ErrNoProviders is returned when no configured backend is usable.
var ErrNoProviders = errors.New("no usable providers configured")

// Router picks a backend for each request.
type Router struct {
	pool   []config.ProviderConfig
	intn   func(n int) int
	opts   []provider.Option
	logger *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithRand replaces the index source used by Select.
func WithRand(intn func(n int) int) Option {
	return func(r *Router) { r.intn = intn }
}

// WithProviderOptions are passed to provider.New by Adapter.
func WithProviderOptions(opts ...provider.Option) Option {
	return func(r *Router) { r.opts = append(r.opts, opts...) }
}

// New builds the pool from entries. Entries without a name or credential are
// dropped. fallback is used only when nothing else remains.
func New(entries []config.ProviderConfig, fallback *config.ProviderConfig, logger *slog.Logger, opts ...Option) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{intn: rand.IntN, logger: logger}
	for _, opt := range opts {
		opt(r)
	}

	for i, e := range entries {
		if !usable(e) {
			logger.Warn("skipping provider entry", "index", i, "name", e.Name,
				"reason", missing(e))
			continue
		}
		r.pool = append(r.pool, e)
	}

	if len(r.pool) == 0 {
		if fallback == nil || !usable(*fallback) {
			return nil, ErrNoProviders
		}
		logger.Info("using fallback provider", "name", fallback.Name)
		r.pool = append(r.pool, *fallback)
	}

	return r, nil
}

// Select returns a pool entry chosen uniformly at random.
func (r *Router) Select() config.ProviderConfig {
	return r.pool[r.intn(len(r.pool))]
}

// Adapter selects an entry and builds its adapter.
func (r *Router) Adapter() (provider.Adapter, error) {
	return provider.New(r.Select(), r.opts...)
}

// Providers returns a copy of the pool.
func (r *Router) Providers() []config.ProviderConfig {
	out := make([]config.ProviderConfig, len(r.pool))
	copy(out, r.pool)
	return out
}

func usable(p config.ProviderConfig) bool {
	return strings.TrimSpace(p.Name) != "" && strings.TrimSpace(p.APIKey) != ""
}

func missing(p config.ProviderConfig) string {
	if strings.TrimSpace(p.Name) == "" {
		return "missing name"
	}
	return "missing api_key"
}
