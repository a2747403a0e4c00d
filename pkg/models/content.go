package models

import (
	"encoding/json"
	"time"
)

// ContentItem is a normalized feed post.
// ShortSummary and LongSummary are filled in by the classifier during one
// processing pass.
type ContentItem struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Text         string          `json:"text"`
	Author       string          `json:"author"`
	Timestamp    time.Time       `json:"timestamp"`
	URL          string          `json:"url"`
	Raw          json.RawMessage `json:"raw,omitempty"`
	ShortSummary string          `json:"short_summary,omitempty"`
	LongSummary  string          `json:"long_summary,omitempty"`
}

// Subscriber is a chat that receives event digests.
type Subscriber struct {
	ChatID    int64     `json:"chat_id"`
	Keyword   string    `json:"keyword,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
