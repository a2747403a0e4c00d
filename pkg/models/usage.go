package models

import "time"

// Usage represents token usage from an LLM response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Outcome is the terminal state of one resilient invocation.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeFailed      Outcome = "failed"
)

// InvocationRecord tracks one resilient invocation, including its retries.
type InvocationRecord struct {
	ID               string    `json:"id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Outcome          Outcome   `json:"outcome"`
	Attempts         int       `json:"attempts"`
	StatusCode       int       `json:"status_code,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	LatencyMs        int64     `json:"latency_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// UsageSummary aggregates invocations per provider and model.
type UsageSummary struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Invocations  int    `json:"invocations"`
	Succeeded    int    `json:"succeeded"`
	RateLimited  int    `json:"rate_limited"`
	Failed       int    `json:"failed"`
	TotalTokens  int64  `json:"total_tokens"`
	AvgLatencyMs int64  `json:"avg_latency_ms"`
}
