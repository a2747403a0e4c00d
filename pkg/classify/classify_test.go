package classify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/eventwire/eventwire/pkg/config"
	"github.com/eventwire/eventwire/pkg/logging"
	"github.com/eventwire/eventwire/pkg/models"
	"github.com/eventwire/eventwire/pkg/provider"
)

type stubAdapter struct{}

func (stubAdapter) Name() string  { return "stub" }
func (stubAdapter) Model() string { return "stub-model" }
func (stubAdapter) Invoke(context.Context, models.ChatRequest) (provider.Completion, error) {
	return provider.Completion{}, errors.New("not called directly")
}

type stubSource struct{ err error }

func (s stubSource) Adapter() (provider.Adapter, error) {
	if s.err != nil {
		return nil, s.err
	}
	return stubAdapter{}, nil
}

// scriptedExecutor answers each request with reply(req).
type scriptedExecutor struct {
	mu       sync.Mutex
	reply    func(req models.ChatRequest) string
	requests []models.ChatRequest
}

func (e *scriptedExecutor) Execute(ctx context.Context, a provider.Adapter, req models.ChatRequest) string {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()
	return e.reply(req)
}

func fixed(s string) *scriptedExecutor {
	return &scriptedExecutor{reply: func(models.ChatRequest) string { return s }}
}

func newTestClassifier(exec Executor) *Classifier {
	return New(stubSource{}, exec, logging.Discard())
}

func TestIsEvent(t *testing.T) {
	tests := []struct {
		reply string
		want  bool
	}{
		{"YES", true},
		{"  yes\n", true},
		{"NO", false},
		{"YES.", false},
		{"Yes, it is", false},
		{"", false},
	}
	for _, tt := range tests {
		exec := fixed(tt.reply)
		got := newTestClassifier(exec).IsEvent(context.Background(), "Концерт в парке")
		if got != tt.want {
			t.Errorf("reply %q: expected %v, got %v", tt.reply, tt.want, got)
		}
		req := exec.requests[0]
		if req.MaxOutputTokens != 10 || req.Temperature != 0.1 {
			t.Errorf("unexpected sampling params: %+v", req)
		}
		if len(req.Turns) != 2 || req.Turns[0].Role != models.RoleSystem || req.Turns[1].Content != "Концерт в парке" {
			t.Errorf("unexpected turns: %+v", req.Turns)
		}
	}
}

func TestIsEventNoAdapter(t *testing.T) {
	c := New(stubSource{err: errors.New("empty pool")}, fixed("YES"), logging.Discard())
	if c.IsEvent(context.Background(), "x") {
		t.Error("expected false when no adapter is available")
	}
}

func TestSummarizeBatchAlignment(t *testing.T) {
	texts := []string{"one", "two", "three"}
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{"exact", "A\nB\nC", []string{"A", "B", "C"}},
		{"short", "A\n\nB\n", []string{"A", "B", ""}},
		{"long", "A\nB\nC\nD\nE", []string{"A", "B", "C"}},
		{"failure", "", []string{"", "", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestClassifier(fixed(tt.reply)).SummarizeBatch(context.Background(), texts, 30, "zh")
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d summaries, got %d", len(tt.want), len(got))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("summary %d: expected %q, got %q", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestSummarizeBatchPrompt(t *testing.T) {
	exec := fixed("a\nb")
	newTestClassifier(exec).SummarizeBatch(context.Background(), []string{"first post", "second post"}, 30, "zh")

	req := exec.requests[0]
	if req.MaxOutputTokens != 30*2+100 {
		t.Errorf("expected max tokens 160, got %d", req.MaxOutputTokens)
	}
	if req.Temperature != 0.3 {
		t.Errorf("expected temperature 0.3, got %v", req.Temperature)
	}
	prompt := req.Turns[1].Content
	for _, want := range []string{"--- text 1 ---\nfirst post", "--- text 2 ---\nsecond post", "Chinese", "30 characters"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("expected %q in prompt:\n%s", want, prompt)
		}
	}
}

func TestSummarizeBatchEmpty(t *testing.T) {
	exec := fixed("unused")
	got := newTestClassifier(exec).SummarizeBatch(context.Background(), nil, 30, "zh")
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
	if len(exec.requests) != 0 {
		t.Error("empty input must not call the backend")
	}
}

func TestTranslate(t *testing.T) {
	exec := fixed("  концерт \n")
	got := newTestClassifier(exec).Translate(context.Background(), "音乐会", "ru")
	if got != "концерт" {
		t.Errorf("expected trimmed translation, got %q", got)
	}
	req := exec.requests[0]
	if req.MaxOutputTokens != 50 || req.Temperature != 0.1 {
		t.Errorf("unexpected sampling params: %+v", req)
	}
	if !strings.Contains(req.Turns[0].Content, "Russian") {
		t.Errorf("expected target language in system prompt, got %q", req.Turns[0].Content)
	}
}

func TestEnrich(t *testing.T) {
	long := strings.Repeat("б", 70)
	items := []models.ContentItem{
		{ID: "1", Text: "Концерт в парке", URL: "u1"},
		{ID: "2", Text: ""},
		{ID: "3", Text: long, URL: "u3"},
	}
	exec := fixed("公园音乐会\n长文摘要")
	cfg := config.SummaryConfig{PrimaryLanguage: "zh", PrimaryMaxLength: 30, SecondaryMaxLength: 60}

	got := newTestClassifier(exec).Enrich(context.Background(), items, cfg)

	if len(exec.requests) != 1 {
		t.Fatalf("expected one batch request, got %d", len(exec.requests))
	}
	if got[0].ShortSummary != "公园音乐会" || got[0].LongSummary != "Концерт в парке" {
		t.Errorf("unexpected first item: %+v", got[0])
	}
	if got[1].ShortSummary != "" || got[1].LongSummary != "" {
		t.Errorf("item without text must be untouched: %+v", got[1])
	}
	if got[2].ShortSummary != "长文摘要" {
		t.Errorf("unexpected short summary: %q", got[2].ShortSummary)
	}
	if got[2].LongSummary != strings.Repeat("б", 60)+"..." {
		t.Errorf("unexpected long summary: %q", got[2].LongSummary)
	}
	if items[0].ShortSummary != "" {
		t.Error("Enrich must not modify its input")
	}
}

func TestTruncate(t *testing.T) {
	if Truncate("abc", 3) != "abc" {
		t.Error("text at the limit must be kept as is")
	}
	if Truncate("abcd", 3) != "abc..." {
		t.Errorf("got %q", Truncate("abcd", 3))
	}
	if Truncate("привет", 2) != "пр..." {
		t.Errorf("truncation must be rune based, got %q", Truncate("привет", 2))
	}
}

func TestLanguageName(t *testing.T) {
	if languageName("zh") != "Chinese" {
		t.Errorf("expected Chinese, got %q", languageName("zh"))
	}
	if languageName("ru") != "Russian" {
		t.Errorf("expected Russian, got %q", languageName("ru"))
	}
	if languageName("!!") != "!!" {
		t.Errorf("invalid codes pass through, got %q", languageName("!!"))
	}
}
