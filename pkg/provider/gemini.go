package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/eventwire/eventwire/pkg/models"
)

// geminiAdapter speaks the generateContent dialect.
type geminiAdapter struct {
	model    string
	endpoint string
	apiKey   string
	client   *http.Client
}

func (a *geminiAdapter) Name() string  { return "gemini" }
func (a *geminiAdapter) Model() string { return a.model }

func (a *geminiAdapter) Invoke(ctx context.Context, req models.ChatRequest) (Completion, error) {
	body := models.GeminiRequest{
		Contents: geminiContents(req.Turns),
		GenerationConfig: models.GeminiGenerationConfig{
			MaxOutputTokens: req.MaxOutputTokens,
			Temperature:     req.Temperature,
		},
	}

	res, err := postJSON(ctx, a.client, a.endpoint, map[string]string{
		"x-goog-api-key": a.apiKey,
	}, body)
	if err != nil {
		return Completion{}, err
	}
	if err := checkStatus(a.Name(), res); err != nil {
		return Completion{}, err
	}

	var resp models.GeminiResponse
	if err := json.Unmarshal(res.body, &resp); err != nil {
		return Completion{}, fmt.Errorf("%w: gemini: %v", ErrMalformedResponse, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return Completion{}, fmt.Errorf("%w: gemini: no candidates", ErrMalformedResponse)
	}

	text := resp.Candidates[0].Content.Parts[0].Text
	return Completion{Text: strings.TrimSpace(text), Usage: resp.UsageMetadata.ToUsage()}, nil
}

// geminiContents folds system turns into user turns, keeping their order,
// and renames the assistant role to "model".
func geminiContents(turns []models.ChatTurn) []models.GeminiContent {
	out := make([]models.GeminiContent, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == models.RoleAssistant {
			role = "model"
		}
		out = append(out, models.GeminiContent{
			Role:  role,
			Parts: []models.GeminiPart{{Text: t.Content}},
		})
	}
	return out
}

func geminiEndpoint(base, model string) string {
	return strings.ReplaceAll(base, "{model}", model)
}
