// Package classify asks a language-model backend whether posts announce
// events and produces their digest summaries.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/eventwire/eventwire/pkg/config"
	"github.com/eventwire/eventwire/pkg/models"
	"github.com/eventwire/eventwire/pkg/provider"
)

const (
	eventMaxTokens     = 10
	eventTemperature   = 0.1
	summaryTemperature = 0.3
	summaryTokenBuffer = 100
	translateMaxTokens = 50
	translateTemp      = 0.1
)

const (
	eventSystemPrompt = "You are a professional content classifier. Determine whether the given text announces an activity or event. " +
		"Reply only 'YES' if it does, otherwise reply 'NO'. Do not explain."
	summarySystemPrompt = "You are a professional text summarization assistant. You will receive multiple texts and must generate a summary for each one."
	translatePrompt     = "You are a professional translator. Translate the user's text into %s accurately. Return only the translation, with no extra remarks."
)

// AdapterSource hands out a backend adapter per call.
type AdapterSource interface {
	Adapter() (provider.Adapter, error)
}

// Executor runs one chat request and returns its text, or "" on failure.
type Executor interface {
	Execute(ctx context.Context, a provider.Adapter, req models.ChatRequest) string
}

// Classifier wraps the prompts used by the pipeline and the bot.
type Classifier struct {
	source AdapterSource
	exec   Executor
	logger *slog.Logger
}

// New creates a Classifier.
func New(source AdapterSource, exec Executor, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{source: source, exec: exec, logger: logger}
}

// IsEvent reports whether text announces an event. Any failure yields false.
func (c *Classifier) IsEvent(ctx context.Context, text string) bool {
	reply := c.call(ctx, models.ChatRequest{
		Turns: []models.ChatTurn{
			{Role: models.RoleSystem, Content: eventSystemPrompt},
			{Role: models.RoleUser, Content: text},
		},
		MaxOutputTokens: eventMaxTokens,
		Temperature:     eventTemperature,
	})
	if reply == "" {
		c.logger.Warn("event detection failed, treating post as not an event")
		return false
	}
	return strings.ToUpper(strings.TrimSpace(reply)) == "YES"
}

// SummarizeBatch summarizes texts in one request. The result always has
// len(texts) entries; entries the backend did not supply are "".
func (c *Classifier) SummarizeBatch(ctx context.Context, texts []string, maxLength int, lang string) []string {
	if len(texts) == 0 {
		return []string{}
	}

	reply := c.call(ctx, models.ChatRequest{
		Turns: []models.ChatTurn{
			{Role: models.RoleSystem, Content: summarySystemPrompt},
			{Role: models.RoleUser, Content: batchPrompt(texts, maxLength, languageName(lang))},
		},
		MaxOutputTokens: maxLength*len(texts) + summaryTokenBuffer,
		Temperature:     summaryTemperature,
	})
	if reply == "" {
		c.logger.Warn("batch summarization failed, returning empty summaries", "texts", len(texts))
		return make([]string, len(texts))
	}

	summaries := alignLines(reply, len(texts))
	c.logger.Debug("summaries generated", "texts", len(texts))
	return summaries
}

// Translate renders text in the target language, or returns "" on failure.
func (c *Classifier) Translate(ctx context.Context, text, lang string) string {
	reply := c.call(ctx, models.ChatRequest{
		Turns: []models.ChatTurn{
			{Role: models.RoleSystem, Content: fmt.Sprintf(translatePrompt, languageName(lang))},
			{Role: models.RoleUser, Content: text},
		},
		MaxOutputTokens: translateMaxTokens,
		Temperature:     translateTemp,
	})
	return strings.TrimSpace(reply)
}

// Enrich fills ShortSummary with a model summary in the primary language
// and LongSummary with the truncated source text. Items without text are
// returned unchanged. The input slice is not modified.
func (c *Classifier) Enrich(ctx context.Context, items []models.ContentItem, cfg config.SummaryConfig) []models.ContentItem {
	out := make([]models.ContentItem, len(items))
	copy(out, items)

	var (
		texts []string
		idx   []int
	)
	for i, it := range out {
		if it.Text == "" {
			continue
		}
		texts = append(texts, it.Text)
		idx = append(idx, i)
	}
	if len(texts) == 0 {
		return out
	}

	summaries := c.SummarizeBatch(ctx, texts, cfg.PrimaryMaxLength, cfg.PrimaryLanguage)
	for j, i := range idx {
		out[i].ShortSummary = summaries[j]
		out[i].LongSummary = Truncate(out[i].Text, cfg.SecondaryMaxLength)
	}
	return out
}

// Truncate cuts s to n runes and appends "..." when it was longer.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func (c *Classifier) call(ctx context.Context, req models.ChatRequest) string {
	a, err := c.source.Adapter()
	if err != nil {
		c.logger.Error("no adapter available", "error", err)
		return ""
	}
	c.logger.Debug("invoking backend", "provider", a.Name(), "model", a.Model())
	return c.exec.Execute(ctx, a, req)
}

func batchPrompt(texts []string, maxLength int, langName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a summary in %s for each of the following texts, at most %d characters each, keeping the core information.\n\n", langName, maxLength)
	for i, t := range texts {
		fmt.Fprintf(&b, "--- text %d ---\n%s\n\n", i+1, t)
	}
	b.WriteString("--- requirements ---\n")
	b.WriteString("1. Produce exactly one summary per text, in the order the texts appear\n")
	fmt.Fprintf(&b, "2. Each summary is at most %d characters\n", maxLength)
	b.WriteString("3. Output one summary per line\n")
	b.WriteString("4. Answer only with the final result, no explanations.")
	return b.String()
}

// alignLines splits reply into non-blank lines and pads or truncates the
// result to n entries.
func alignLines(reply string, n int) []string {
	out := make([]string, 0, n)
	for line := range strings.SplitSeq(strings.TrimSpace(reply), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(out) == n {
			break
		}
		out = append(out, line)
	}
	for len(out) < n {
		out = append(out, "")
	}
	return out
}

// languageName turns a BCP 47 code into an English language name for prompts.
func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}
