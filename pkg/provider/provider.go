// Package provider implements the language-model backend adapters.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/eventwire/eventwire/pkg/config"
	"github.com/eventwire/eventwire/pkg/models"
)

// Adapter sends one chat request to one backend.
type Adapter interface {
	Name() string
	Model() string
	Invoke(ctx context.Context, req models.ChatRequest) (Completion, error)
}

// Completion is the text a backend produced plus its reported usage.
type Completion struct {
	Text  string
	Usage models.Usage
}

type dialect int

const (
	dialectChat dialect = iota
	dialectGemini
)

type variant struct {
	dialect  dialect
	endpoint string
	model    string
}

var variants = map[string]variant{
	"deepseek":    {dialectChat, "https://api.deepseek.com/chat/completions", "deepseek-chat"},
	"openai":      {dialectChat, "https://api.openai.com/v1/chat/completions", "gpt-3.5-turbo"},
	"gemini":      {dialectGemini, "https://generativelanguage.googleapis.com/v1/models/{model}:generateContent", "gemini-1.5-flash"},
	"dashscope":   {dialectChat, "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions", "qwen-turbo"},
	"openrouter":  {dialectChat, "https://openrouter.ai/api/v1/chat/completions", ""},
	"siliconflow": {dialectChat, "https://api.siliconflow.cn/v1/chat/completions", "deepseek-chat"},
}

// Known returns the supported variant names in sorted order.
func Known() []string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultModel returns the model a variant uses when none is configured.
func DefaultModel(name string) string {
	return variants[strings.ToLower(name)].model
}

type options struct {
	client *http.Client
}

// Option configures adapters built by New.
type Option func(*options)

// WithHTTPClient overrides the HTTP client. The default has a 30s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

var defaultClient = &http.Client{Timeout: DefaultTimeout}

// New builds the adapter for cfg.Name. Model and URL fall back to the
// variant defaults when empty.
func New(cfg config.ProviderConfig, opts ...Option) (Adapter, error) {
	o := options{client: defaultClient}
	for _, fn := range opts {
		fn(&o)
	}

	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	v, ok := variants[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Name)
	}

	model := cfg.Model
	if model == "" {
		model = v.model
	}
	endpoint := cfg.URL
	if endpoint == "" {
		endpoint = v.endpoint
	}

	switch v.dialect {
	case dialectGemini:
		return &geminiAdapter{
			model:    model,
			endpoint: geminiEndpoint(endpoint, model),
			apiKey:   cfg.APIKey,
			client:   o.client,
		}, nil
	default:
		return &chatAdapter{
			name:     name,
			model:    model,
			endpoint: endpoint,
			apiKey:   cfg.APIKey,
			client:   o.client,
		}, nil
	}
}
