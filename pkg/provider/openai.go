package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/eventwire/eventwire/pkg/models"
)

// chatAdapter speaks the OpenAI chat-completions dialect shared by
// deepseek, openai, dashscope, openrouter and siliconflow.
type chatAdapter struct {
	name     string
	model    string
	endpoint string
	apiKey   string
	client   *http.Client
}

func (a *chatAdapter) Name() string  { return a.name }
func (a *chatAdapter) Model() string { return a.model }

func (a *chatAdapter) Invoke(ctx context.Context, req models.ChatRequest) (Completion, error) {
	msgs := make([]models.ChatMessage, 0, len(req.Turns))
	for _, t := range req.Turns {
		msgs = append(msgs, models.ChatMessage{Role: string(t.Role), Content: t.Content})
	}
	body := models.ChatCompletionRequest{
		Model:       a.model,
		Messages:    msgs,
		MaxTokens:   req.MaxOutputTokens,
		Temperature: req.Temperature,
	}

	res, err := postJSON(ctx, a.client, a.endpoint, map[string]string{
		"Authorization": "Bearer " + a.apiKey,
	}, body)
	if err != nil {
		return Completion{}, err
	}
	if err := checkStatus(a.name, res); err != nil {
		return Completion{}, err
	}

	var resp models.ChatCompletionResponse
	if err := json.Unmarshal(res.body, &resp); err != nil {
		return Completion{}, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, a.name, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return Completion{}, fmt.Errorf("%w: %s: no choices", ErrMalformedResponse, a.name)
	}

	c := Completion{Text: strings.TrimSpace(resp.Choices[0].Message.Content)}
	if resp.Usage != nil {
		c.Usage = *resp.Usage
	}
	return c, nil
}
