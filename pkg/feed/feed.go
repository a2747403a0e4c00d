// Package feed reads posts from the VK newsfeed search API.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eventwire/eventwire/pkg/config"
	"github.com/eventwire/eventwire/pkg/models"
)

const (
	// MinInterval keeps the client under VK's three calls per second.
	MinInterval = 340 * time.Millisecond

	defaultBaseURL = "https://api.vk.com/method"
	defaultVersion = "5.131"
)

// APIError is the error object VK returns with HTTP 200.
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk api error %d: %s", e.Code, e.Message)
}

// Post is one newsfeed item. Raw keeps the original JSON object.
type Post struct {
	ID       int64           `json:"id"`
	OwnerID  int64           `json:"owner_id"`
	Date     int64           `json:"date"`
	Text     string          `json:"text"`
	PostType string          `json:"post_type"`
	Raw      json.RawMessage `json:"-"`
}

type searchResponse struct {
	Response *struct {
		Items    []json.RawMessage `json:"items"`
		NextFrom string            `json:"next_from"`
	} `json:"response"`
	Error *APIError `json:"error"`
}

// Client calls VK methods with a fixed minimum spacing between requests.
type Client struct {
	baseURL string
	token   string
	version string
	http    *http.Client
	logger  *slog.Logger

	mu          sync.Mutex
	last        time.Time
	minInterval time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithPacing overrides the spacing clock and sleep.
func WithPacing(interval time.Duration, now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.minInterval = interval
		if now != nil {
			c.now = now
		}
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// NewClient creates a VK client from config.
func NewClient(cfg config.VKConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.AccessToken,
		version:     cfg.APIVersion,
		http:        &http.Client{Timeout: 30 * time.Second},
		logger:      slog.Default(),
		minInterval: MinInterval,
		now:         time.Now,
		sleep:       sleepContext,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.version == "" {
		c.version = defaultVersion
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search runs newsfeed.search and returns the posts plus the next page token.
func (c *Client) Search(ctx context.Context, keyword string, count int, startFrom string) ([]Post, string, error) {
	params := url.Values{}
	params.Set("q", keyword)
	params.Set("count", strconv.Itoa(count))
	if startFrom != "" {
		params.Set("start_from", startFrom)
	}

	body, err := c.call(ctx, "newsfeed.search", params)
	if err != nil {
		return nil, "", err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("decode newsfeed.search: %w", err)
	}
	if resp.Error != nil {
		return nil, "", resp.Error
	}
	if resp.Response == nil {
		return nil, "", nil
	}

	posts := make([]Post, 0, len(resp.Response.Items))
	for _, raw := range resp.Response.Items {
		var p Post
		if err := json.Unmarshal(raw, &p); err != nil {
			c.logger.Warn("skipping undecodable post", "error", err)
			continue
		}
		p.Raw = raw
		posts = append(posts, p)
	}
	return posts, resp.Response.NextFrom, nil
}

// Fetch searches for keyword and returns normalized items.
func (c *Client) Fetch(ctx context.Context, keyword string, count int, pageToken string) ([]models.ContentItem, string, error) {
	posts, next, err := c.Search(ctx, keyword, count, pageToken)
	if err != nil {
		return nil, "", err
	}
	items := make([]models.ContentItem, 0, len(posts))
	for _, p := range posts {
		items = append(items, Normalize(p))
	}
	c.logger.Info("fetched newsfeed", "keyword", keyword, "posts", len(items))
	return items, next, nil
}

// Normalize converts a post into a ContentItem.
func Normalize(p Post) models.ContentItem {
	item := models.ContentItem{
		Type:   p.PostType,
		Text:   p.Text,
		Author: "unknown",
		Raw:    p.Raw,
	}
	if item.Type == "" {
		item.Type = "post"
	}
	if p.ID != 0 {
		item.ID = strconv.FormatInt(p.ID, 10)
	}
	if p.OwnerID != 0 {
		item.Author = strconv.FormatInt(p.OwnerID, 10)
	}
	if p.Date > 0 {
		item.Timestamp = time.Unix(p.Date, 0)
	}
	if p.ID != 0 && p.OwnerID != 0 {
		item.URL = fmt.Sprintf("https://vk.com/wall%d_%d", p.OwnerID, p.ID)
	}
	return item
}

func (c *Client) call(ctx context.Context, method string, params url.Values) ([]byte, error) {
	if err := c.pace(ctx); err != nil {
		return nil, err
	}

	params.Set("access_token", c.token)
	params.Set("v", c.version)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+method+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", method, resp.StatusCode)
	}
	return body, nil
}

// pace blocks until MinInterval has passed since the previous call.
func (c *Client) pace(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.last.IsZero() {
		if wait := c.minInterval - c.now().Sub(c.last); wait > 0 {
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	c.last = c.now()
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
