package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 30 * time.Second

// upstreamResult holds the response from a single backend call.
type upstreamResult struct {
	statusCode int
	body       []byte
	header     http.Header
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, payload any) (*upstreamResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}

	return &upstreamResult{
		statusCode: resp.StatusCode,
		body:       respBody,
		header:     resp.Header,
	}, nil
}

// checkStatus turns a non-2xx result into a *StatusError.
func checkStatus(provider string, res *upstreamResult) error {
	if res.statusCode >= 200 && res.statusCode < 300 {
		return nil
	}
	se := &StatusError{
		Provider:   provider,
		StatusCode: res.statusCode,
		Body:       res.body,
		RetryAfter: parseRetryAfter(res.header.Get("Retry-After")),
	}
	var detail any
	if json.Unmarshal(res.body, &detail) == nil {
		se.Detail = detail
	}
	return se
}
