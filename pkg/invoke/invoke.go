// Package invoke wraps backend adapters with rate-limit backoff and turns
// every failure into an empty result.
package invoke

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/eventwire/eventwire/pkg/models"
	"github.com/eventwire/eventwire/pkg/provider"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Recorder persists one invocation record.
type Recorder interface {
	Record(ctx context.Context, rec models.InvocationRecord) error
}

// Observer receives invocation metrics.
type Observer interface {
	ObserveInvocation(provider, model string, outcome models.Outcome, elapsed time.Duration, usage models.Usage)
	ObserveRetry(provider string)
}

// Invoker executes chat requests against an adapter.
type Invoker struct {
	maxAttempts int
	baseDelay   time.Duration
	sleep       Sleeper
	jitter      func() time.Duration
	now         func() time.Time
	logger      *slog.Logger
	recorder    Recorder
	observer    Observer
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithSleeper replaces the backoff sleep.
func WithSleeper(s Sleeper) Option {
	return func(i *Invoker) {
		if s != nil {
			i.sleep = s
		}
	}
}

// WithJitter replaces the U[0,1s) jitter source.
func WithJitter(fn func() time.Duration) Option {
	return func(i *Invoker) {
		if fn != nil {
			i.jitter = fn
		}
	}
}

// WithMaxAttempts sets the total attempt budget.
func WithMaxAttempts(n int) Option {
	return func(i *Invoker) {
		if n > 0 {
			i.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the unit of the exponential backoff.
func WithBaseDelay(d time.Duration) Option {
	return func(i *Invoker) {
		if d > 0 {
			i.baseDelay = d
		}
	}
}

// WithClock overrides the clock used for latency and timestamps.
func WithClock(fn func() time.Time) Option {
	return func(i *Invoker) {
		if fn != nil {
			i.now = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Invoker) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithRecorder stores each invocation, e.g. in the usage tracker.
func WithRecorder(r Recorder) Option {
	return func(i *Invoker) { i.recorder = r }
}

// WithObserver reports each invocation to metrics.
func WithObserver(o Observer) Option {
	return func(i *Invoker) { i.observer = o }
}

// New creates an Invoker with 3 attempts and 2^n s + U[0,1) s backoff.
func New(opts ...Option) *Invoker {
	i := &Invoker{
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		sleep:       sleepContext,
		jitter:      func() time.Duration { return time.Duration(rand.Float64() * float64(time.Second)) },
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Execute sends req to a. Only rate-limit responses are retried. The result
// is the backend text, or "" on any failure.
func (i *Invoker) Execute(ctx context.Context, a provider.Adapter, req models.ChatRequest) string {
	start := i.now()
	rec := models.InvocationRecord{
		ID:        uuid.NewString(),
		Provider:  a.Name(),
		Model:     a.Model(),
		Outcome:   models.OutcomeFailed,
		CreatedAt: start,
	}
	var (
		text  string
		usage models.Usage
	)

	rateLimited := 0
	for attempt := 1; attempt <= i.maxAttempts; attempt++ {
		rec.Attempts = attempt
		c, err := a.Invoke(ctx, req)
		if err == nil {
			text, usage = c.Text, c.Usage
			rec.Outcome = models.OutcomeOK
			rec.StatusCode = 0
			break
		}

		rec.StatusCode = provider.StatusCode(err)
		i.logFailure(a, attempt, err)

		if !provider.IsRateLimited(err) {
			rec.Outcome = models.OutcomeFailed
			break
		}
		rec.Outcome = models.OutcomeRateLimited
		rateLimited++
		if attempt == i.maxAttempts {
			i.logger.Warn("rate limit retries exhausted",
				"provider", a.Name(), "model", a.Model(), "attempts", attempt)
			break
		}

		delay := i.baseDelay*time.Duration(1<<rateLimited) + i.jitter()
		i.logger.Info("rate limited, backing off",
			"provider", a.Name(), "attempt", attempt, "delay", delay)
		if i.observer != nil {
			i.observer.ObserveRetry(a.Name())
		}
		if err := i.sleep(ctx, delay); err != nil {
			i.logger.Warn("backoff interrupted", "provider", a.Name(), "error", err)
			rec.Outcome = models.OutcomeFailed
			break
		}
	}

	elapsed := i.now().Sub(start)
	rec.LatencyMs = elapsed.Milliseconds()
	rec.PromptTokens = usage.PromptTokens
	rec.CompletionTokens = usage.CompletionTokens
	rec.TotalTokens = usage.TotalTokens
	i.report(ctx, rec, elapsed, usage)

	return text
}

func (i *Invoker) logFailure(a provider.Adapter, attempt int, err error) {
	attrs := []any{"provider", a.Name(), "model", a.Model(), "attempt", attempt, "error", err}
	var se *provider.StatusError
	if errors.As(err, &se) {
		attrs = append(attrs, "status", se.StatusCode)
		if se.Detail != nil {
			attrs = append(attrs, "detail", se.Detail)
		}
		if se.RetryAfter > 0 {
			attrs = append(attrs, "retry_after", se.RetryAfter)
		}
	}
	i.logger.Warn("invocation failed", attrs...)
}

func (i *Invoker) report(ctx context.Context, rec models.InvocationRecord, elapsed time.Duration, usage models.Usage) {
	if i.observer != nil {
		i.observer.ObserveInvocation(rec.Provider, rec.Model, rec.Outcome, elapsed, usage)
	}
	if i.recorder == nil {
		return
	}
	// The record must survive a cancelled caller.
	if err := i.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		i.logger.Error("record invocation", "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
