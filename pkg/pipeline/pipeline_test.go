package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eventwire/eventwire/pkg/cache"
	"github.com/eventwire/eventwire/pkg/classify"
	"github.com/eventwire/eventwire/pkg/config"
	"github.com/eventwire/eventwire/pkg/logging"
	"github.com/eventwire/eventwire/pkg/models"
	"github.com/eventwire/eventwire/pkg/provider"
)

type stubSource struct {
	items    []models.ContentItem
	err      error
	keywords []string
}

func (s *stubSource) Fetch(ctx context.Context, keyword string, count int, pageToken string) ([]models.ContentItem, string, error) {
	s.keywords = append(s.keywords, keyword)
	return s.items, "", s.err
}

type stubAdapter struct{}

func (stubAdapter) Name() string  { return "stub" }
func (stubAdapter) Model() string { return "stub-model" }
func (stubAdapter) Invoke(context.Context, models.ChatRequest) (provider.Completion, error) {
	return provider.Completion{}, errors.New("unused")
}

type stubRouter struct{}

func (stubRouter) Adapter() (provider.Adapter, error) { return stubAdapter{}, nil }

// backend answers event checks by looking for "Концерт" and returns one
// summary line per text.
type backend struct {
	mu          sync.Mutex
	eventChecks int
	summaries   int
	summaryDown bool
	afterCheck  func()
}

func (b *backend) Execute(ctx context.Context, a provider.Adapter, req models.ChatRequest) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	user := req.Turns[len(req.Turns)-1].Content
	if req.MaxOutputTokens == 10 {
		b.eventChecks++
		if b.afterCheck != nil {
			b.afterCheck()
		}
		if strings.Contains(user, "Концерт") {
			return "YES"
		}
		return "NO"
	}
	b.summaries++
	if b.summaryDown {
		return ""
	}
	n := strings.Count(user, "--- text ")
	lines := make([]string, n)
	for i := range lines {
		lines[i] = "公园音乐会"
	}
	return strings.Join(lines, "\n")
}

type sentMessage struct {
	chatID int64
	text   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	fail bool
}

func (n *recordingNotifier) Deliver(ctx context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("blocked")
	}
	n.sent = append(n.sent, sentMessage{chatID, text})
	return nil
}

type staticSubscribers []int64

func (s staticSubscribers) ChatIDs(context.Context) ([]int64, error) { return s, nil }

type fixture struct {
	clock    time.Time
	source   *stubSource
	backend  *backend
	cache    *cache.Cache
	notifier *recordingNotifier
	pipeline *Pipeline
}

func newFixture(t *testing.T, items []models.ContentItem) *fixture {
	t.Helper()
	f := &fixture{
		clock:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		source:   &stubSource{items: items},
		backend:  &backend{},
		notifier: &recordingNotifier{},
	}
	f.cache = cache.New(18000*time.Second, 600*time.Second, cache.WithClock(func() time.Time { return f.clock }))
	f.pipeline = New(Deps{
		Source:      f.source,
		Classifier:  classify.New(stubRouter{}, f.backend, logging.Discard()),
		Cache:       f.cache,
		Notifier:    f.notifier,
		Subscribers: staticSubscribers{100, 200},
		Logger:      logging.Discard(),
		Summary:     config.SummaryConfig{PrimaryLanguage: "zh", PrimaryMaxLength: 30, SecondaryMaxLength: 60},
		Keyword:     "новости",
		FetchCount:  20,
		Location:    time.UTC,
	})
	return f
}

func scenario() []models.ContentItem {
	return []models.ContentItem{
		{ID: "1", Text: "Концерт в парке", URL: "u1", Timestamp: time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)},
		{ID: "2", Text: "Обычная новость", URL: "u2"},
		{ID: "3", Text: "", URL: "u3"},
	}
}

func TestRunOnceDeliversEvents(t *testing.T) {
	f := newFixture(t, scenario())

	res, err := f.pipeline.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 1 {
		t.Errorf("expected 1 event, got %d", res.Count)
	}

	if outcome, ok := f.cache.Get("u1"); !ok || !outcome {
		t.Errorf("expected u1 cached as event, got outcome=%v ok=%v", outcome, ok)
	}
	if outcome, ok := f.cache.Get("u2"); !ok || outcome {
		t.Errorf("expected u2 cached as non-event, got outcome=%v ok=%v", outcome, ok)
	}
	if f.cache.IsCached("u3") {
		t.Error("empty post must not be classified or cached")
	}
	if f.backend.eventChecks != 2 {
		t.Errorf("expected 2 event checks, got %d", f.backend.eventChecks)
	}

	if len(f.notifier.sent) != 2 {
		t.Fatalf("expected one message per subscriber, got %d", len(f.notifier.sent))
	}
	msg := f.notifier.sent[0].text
	if !strings.Contains(msg, "href='u1'") || !strings.Contains(msg, "公园音乐会") {
		t.Errorf("expected u1 in digest, got %q", msg)
	}
	if !strings.Contains(msg, "Концерт в парке（2024-05-01 18:00）") {
		t.Errorf("expected source text and time, got %q", msg)
	}
	if strings.Contains(msg, "u2") {
		t.Error("non-event must be excluded from the digest")
	}
	if f.source.keywords[0] != "новости" {
		t.Errorf("expected default keyword, got %q", f.source.keywords[0])
	}
}

func TestRunOnceSkipsCachedPosts(t *testing.T) {
	f := newFixture(t, scenario())
	ctx := context.Background()

	if _, err := f.pipeline.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := f.pipeline.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 0 {
		t.Errorf("second pass should find nothing new, got %d", res.Count)
	}
	if f.backend.eventChecks != 2 {
		t.Errorf("cached posts must not be re-classified, got %d checks", f.backend.eventChecks)
	}
	if len(f.notifier.sent) != 2 {
		t.Errorf("second pass must not deliver, got %d messages total", len(f.notifier.sent))
	}
}

func TestRunOnceRetriesEventAfterSummaryOutage(t *testing.T) {
	f := newFixture(t, scenario())
	ctx := context.Background()

	f.backend.summaryDown = true
	res, err := f.pipeline.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 0 || len(f.notifier.sent) != 0 {
		t.Fatalf("nothing is deliverable during the outage, got %+v", res)
	}
	if outcome, ok := f.cache.Get("u1"); !ok || outcome {
		t.Errorf("unrendered event must be cached as negative, got outcome=%v ok=%v", outcome, ok)
	}

	// Still inside the negative window: the post is skipped.
	f.backend.summaryDown = false
	f.clock = f.clock.Add(599 * time.Second)
	if res, _ := f.pipeline.RunOnce(ctx); res.Count != 0 {
		t.Errorf("expected skip inside the negative window, got %d", res.Count)
	}

	f.clock = f.clock.Add(2 * time.Second)
	res, err = f.pipeline.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 1 {
		t.Fatalf("expected the event delivered after recovery, got %d", res.Count)
	}
	if len(f.notifier.sent) != 2 || !strings.Contains(f.notifier.sent[0].text, "href='u1'") {
		t.Errorf("expected u1 sent to both subscribers, got %+v", f.notifier.sent)
	}
	if outcome, ok := f.cache.Get("u1"); !ok || !outcome {
		t.Errorf("delivered event must be cached as positive, got outcome=%v ok=%v", outcome, ok)
	}
}

func TestRunOnceCancelledKeepsEventsUncached(t *testing.T) {
	f := newFixture(t, scenario())
	ctx, cancel := context.WithCancel(context.Background())
	f.backend.afterCheck = cancel

	if _, err := f.pipeline.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.cache.IsCached("u1") {
		t.Error("an event that was never delivered must not be cached")
	}
	if len(f.notifier.sent) != 0 {
		t.Error("nothing may be delivered after cancel")
	}
}

func TestRunOnceNoEvents(t *testing.T) {
	f := newFixture(t, []models.ContentItem{{Text: "Обычная новость", URL: "u2"}})
	res, err := f.pipeline.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 0 || len(f.notifier.sent) != 0 {
		t.Errorf("expected nothing delivered, got %+v", res)
	}
	if f.backend.summaries != 0 {
		t.Error("summaries must not be requested without events")
	}
}

func TestRunOnceFetchError(t *testing.T) {
	f := newFixture(t, nil)
	f.source.err = errors.New("vk down")
	if _, err := f.pipeline.RunOnce(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestRunOnceDeliveryFailureContinues(t *testing.T) {
	f := newFixture(t, scenario())
	f.notifier.fail = true
	res, err := f.pipeline.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("delivery failures must not fail the pass: %v", err)
	}
	if res.Count != 1 {
		t.Errorf("expected 1 event, got %d", res.Count)
	}
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, scenario())

	res, err := f.pipeline.Refresh(context.Background(), "концерт")
	if err != nil {
		t.Fatal(err)
	}
	if f.source.keywords[0] != "концерт" {
		t.Errorf("expected keyword passed through, got %q", f.source.keywords[0])
	}
	if res.Count != 2 {
		t.Errorf("refresh renders every post with text, got %d", res.Count)
	}
	if f.backend.eventChecks != 0 {
		t.Error("refresh must not run event detection")
	}
	if len(f.notifier.sent) != 0 {
		t.Error("refresh must not broadcast")
	}
	if f.cache.Len() != 0 {
		t.Error("refresh must not touch the cache")
	}
	if len(res.Messages) != 1 || !strings.Contains(res.Messages[0], "href='u2'") {
		t.Errorf("unexpected messages: %v", res.Messages)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.pipeline.Run(ctx, time.Hour) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if len(f.source.keywords) == 0 {
		t.Error("Run must execute a pass immediately")
	}
}

func TestRunRejectsBadInterval(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.pipeline.Run(context.Background(), 0); err == nil {
		t.Error("expected error for zero interval")
	}
}
