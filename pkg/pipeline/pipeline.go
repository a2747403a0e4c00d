// Package pipeline drives the fetch, classify, summarize and deliver loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eventwire/eventwire/pkg/cache"
	"github.com/eventwire/eventwire/pkg/config"
	"github.com/eventwire/eventwire/pkg/digest"
	"github.com/eventwire/eventwire/pkg/metrics"
	"github.com/eventwire/eventwire/pkg/models"
)

// Source pulls posts matching a keyword.
type Source interface {
	Fetch(ctx context.Context, keyword string, count int, pageToken string) ([]models.ContentItem, string, error)
}

// Classifier decides and summarizes posts.
type Classifier interface {
	IsEvent(ctx context.Context, text string) bool
	Enrich(ctx context.Context, items []models.ContentItem, cfg config.SummaryConfig) []models.ContentItem
}

// Notifier delivers one rendered message to one chat.
type Notifier interface {
	Deliver(ctx context.Context, chatID int64, text string) error
}

// Subscribers lists the chats that receive periodic digests.
type Subscribers interface {
	ChatIDs(ctx context.Context) ([]int64, error)
}

// Deps wires the collaborators into the pipeline.
type Deps struct {
	Source      Source
	Classifier  Classifier
	Cache       *cache.Cache
	Notifier    Notifier
	Subscribers Subscribers
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	Summary    config.SummaryConfig
	Keyword    string
	FetchCount int
	Location   *time.Location
}

// Result describes one pass: how many posts made it into the digest and the
// rendered messages.
type Result struct {
	Count    int
	Messages []string
}

// Pipeline implements the event digest workflow.
type Pipeline struct {
	source      Source
	classifier  Classifier
	cache       *cache.Cache
	notifier    Notifier
	subscribers Subscribers
	metrics     *metrics.Metrics
	logger      *slog.Logger

	summary    config.SummaryConfig
	keyword    string
	fetchCount int
	loc        *time.Location
	now        func() time.Time
}

// New constructs the pipeline.
func New(deps Deps) *Pipeline {
	p := &Pipeline{
		source:      deps.Source,
		classifier:  deps.Classifier,
		cache:       deps.Cache,
		notifier:    deps.Notifier,
		subscribers: deps.Subscribers,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		summary:     deps.Summary,
		keyword:     deps.Keyword,
		fetchCount:  deps.FetchCount,
		loc:         deps.Location,
		now:         time.Now,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.cache == nil {
		p.cache = cache.New(cache.DefaultPositiveTTL, cache.DefaultNegativeTTL)
	}
	if p.fetchCount <= 0 {
		p.fetchCount = 20
	}
	if p.loc == nil {
		p.loc = time.Local
	}
	return p
}

// RunOnce fetches the default keyword, classifies unseen posts, and sends
// the digest of events to every subscriber.
func (p *Pipeline) RunOnce(ctx context.Context) (Result, error) {
	items, _, err := p.source.Fetch(ctx, p.keyword, p.fetchCount, "")
	if err != nil {
		return Result{}, fmt.Errorf("fetch: %w", err)
	}
	p.logger.Info("fetched posts", "count", len(items), "keyword", p.keyword)

	var (
		events []models.ContentItem
		keys   []string
	)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if item.Text == "" {
			p.metrics.Post("empty")
			continue
		}

		key := cache.Key(item)
		if p.cache.IsCached(key) {
			p.metrics.CacheLookup(true)
			p.metrics.Post("cached")
			continue
		}
		p.metrics.CacheLookup(false)

		if !p.classifier.IsEvent(ctx, item.Text) {
			p.cache.Put(key, false)
			p.metrics.Post("not_event")
			continue
		}
		p.metrics.Post("event")
		p.logger.Info("detected event", "url", item.URL)
		events = append(events, item)
		keys = append(keys, key)
	}

	enriched := p.enrich(ctx, events)
	// Only rendered events get the positive window; the rest are re-checked
	// once the negative window lapses.
	for i, item := range enriched {
		ok := digest.Deliverable(item)
		p.cache.Put(keys[i], ok)
		if !ok {
			p.logger.Warn("event not rendered, retrying on a later pass", "url", item.URL)
		}
	}

	res := p.result(enriched)
	if len(res.Messages) > 0 {
		p.broadcast(ctx, res.Messages)
	}
	p.metrics.RunCompleted(p.now())
	return res, nil
}

// Refresh fetches posts for keyword and renders them without event filtering
// or caching. Nothing is delivered.
func (p *Pipeline) Refresh(ctx context.Context, keyword string) (Result, error) {
	if keyword == "" {
		keyword = p.keyword
	}
	items, _, err := p.source.Fetch(ctx, keyword, p.fetchCount, "")
	if err != nil {
		return Result{}, fmt.Errorf("fetch %q: %w", keyword, err)
	}
	return p.result(p.enrich(ctx, items)), nil
}

// Run calls RunOnce now and on every tick until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("pipeline interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Pipeline) tick(ctx context.Context) {
	start := p.now()
	res, err := p.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("pipeline pass failed", "error", err)
		}
		return
	}
	p.logger.Info("pipeline pass complete", "events", res.Count, "elapsed", p.now().Sub(start))
}

func (p *Pipeline) enrich(ctx context.Context, items []models.ContentItem) []models.ContentItem {
	if len(items) == 0 {
		return nil
	}
	return p.classifier.Enrich(ctx, items, p.summary)
}

func (p *Pipeline) result(items []models.ContentItem) Result {
	if len(items) == 0 {
		return Result{}
	}
	return Result{
		Count:    len(digest.Filter(items)),
		Messages: digest.RenderChunks(items, p.loc, digest.MaxMessageRunes),
	}
}

func (p *Pipeline) broadcast(ctx context.Context, messages []string) {
	if p.notifier == nil || p.subscribers == nil {
		return
	}
	chats, err := p.subscribers.ChatIDs(ctx)
	if err != nil {
		p.logger.Error("list subscribers", "error", err)
		return
	}
	for _, chatID := range chats {
		for _, msg := range messages {
			if err := p.notifier.Deliver(ctx, chatID, msg); err != nil {
				p.metrics.Delivery(false)
				p.logger.Error("deliver digest", "chat_id", chatID, "error", err)
				continue
			}
			p.metrics.Delivery(true)
		}
		p.logger.Info("sent digest", "chat_id", chatID, "messages", len(messages))
	}
}
