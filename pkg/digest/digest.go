// Package digest renders enriched posts as Telegram HTML messages.
package digest

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/eventwire/eventwire/pkg/models"
)

// MaxMessageRunes is Telegram's limit on a single message.
const MaxMessageRunes = 4096

const timeLayout = "2006-01-02 15:04"

// Deliverable reports whether item has everything a digest line needs.
func Deliverable(item models.ContentItem) bool {
	return item.ShortSummary != "" && item.LongSummary != "" && item.URL != ""
}

// Filter keeps the deliverable items, preserving order.
func Filter(items []models.ContentItem) []models.ContentItem {
	out := make([]models.ContentItem, 0, len(items))
	for _, it := range items {
		if Deliverable(it) {
			out = append(out, it)
		}
	}
	return out
}

// Render formats the deliverable items as one HTML message. Timestamps are
// shown in loc; nil means local time.
func Render(items []models.ContentItem, loc *time.Location) string {
	lines := renderItems(Filter(items), loc)
	return strings.Join(lines, "\n")
}

// RenderChunks is Render split into messages of at most limit runes. An item
// is never split across messages.
func RenderChunks(items []models.ContentItem, loc *time.Location, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageRunes
	}
	var (
		chunks []string
		cur    strings.Builder
		size   int
	)
	for _, line := range renderItems(Filter(items), loc) {
		n := utf8.RuneCountInString(line)
		if size > 0 && size+1+n > limit {
			chunks = append(chunks, cur.String())
			cur.Reset()
			size = 0
		}
		if size > 0 {
			cur.WriteByte('\n')
			size++
		}
		cur.WriteString(line)
		size += n
	}
	if size > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

func renderItems(items []models.ContentItem, loc *time.Location) []string {
	if loc == nil {
		loc = time.Local
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		published := ""
		if !it.Timestamp.IsZero() {
			published = it.Timestamp.In(loc).Format(timeLayout)
		}
		lines = append(lines, fmt.Sprintf("🔗 <a href='%s'><strong>%s</strong></a>\n<code>%s（%s）</code>",
			html.EscapeString(it.URL),
			html.EscapeString(it.ShortSummary),
			html.EscapeString(it.LongSummary),
			published,
		))
	}
	return lines
}
