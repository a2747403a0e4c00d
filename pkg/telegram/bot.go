package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/eventwire/eventwire/pkg/pipeline"
)

const (
	textFetching  = "正在获取最新消息..."
	textNoResults = "没有获取到相关消息"
	textFailed    = "获取消息失败，请稍后重试"
	textStopped   = "已取消订阅。发送 /start 重新订阅。"

	pollTimeoutSeconds = 25
	pollErrorBackoff   = 3 * time.Second
)

// Refresher renders posts for a keyword on demand.
type Refresher interface {
	Refresh(ctx context.Context, keyword string) (pipeline.Result, error)
}

// Translator turns free text into a search keyword.
type Translator interface {
	Translate(ctx context.Context, text, lang string) string
}

// Registry stores subscribers and their last keyword.
type Registry interface {
	Subscribe(ctx context.Context, chatID int64) error
	Unsubscribe(ctx context.Context, chatID int64) error
	SetKeyword(ctx context.Context, chatID int64, keyword string) error
	Keyword(ctx context.Context, chatID int64) (string, bool, error)
}

// BotConfig holds the conversation texts and defaults.
type BotConfig struct {
	RefreshLabel    string
	WelcomeText     string
	DefaultKeyword  string
	KeywordLanguage string
}

// Bot handles chat updates and delivers digests.
type Bot struct {
	client     *Client
	refresher  Refresher
	translator Translator
	registry   Registry
	cfg        BotConfig
	logger     *slog.Logger

	// mu orders the ctx check in HandleUpdate against wg.Add.
	mu sync.Mutex
	wg sync.WaitGroup
}

// NewBot wires a bot.
func NewBot(client *Client, refresher Refresher, translator Translator, registry Registry, cfg BotConfig, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.KeywordLanguage == "" {
		cfg.KeywordLanguage = "ru"
	}
	return &Bot{
		client:     client,
		refresher:  refresher,
		translator: translator,
		registry:   registry,
		cfg:        cfg,
		logger:     logger,
	}
}

// Deliver sends an HTML message to chatID.
func (b *Bot) Deliver(ctx context.Context, chatID int64, text string) error {
	return b.client.Deliver(ctx, chatID, text)
}

// HandleUpdate processes one update. Refreshes run in their own goroutine
// bound to ctx; Wait blocks until they finish.
func (b *Bot) HandleUpdate(ctx context.Context, u Update) {
	if u.Message == nil {
		return
	}
	chatID := u.Message.Chat.ID
	text := strings.TrimSpace(u.Message.Text)
	if text == "" {
		return
	}

	switch command(text) {
	case "/start":
		b.handleStart(ctx, chatID)
		return
	case "/stop":
		b.handleStop(ctx, chatID)
		return
	}

	if !b.track(ctx) {
		return
	}
	b.reply(ctx, chatID, textFetching, nil)
	go func() {
		defer b.wg.Done()
		keyword := b.resolveKeyword(ctx, chatID, text)
		b.refresh(ctx, chatID, keyword)
	}()
}

// track registers a refresh goroutine unless ctx is already done.
func (b *Bot) track(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	b.wg.Add(1)
	return true
}

// Wait blocks until all in-flight refreshes return. Once the ctx given to
// HandleUpdate is done no new refresh starts, so late updates may arrive
// while Wait runs.
func (b *Bot) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wg.Wait()
}

// Poll long-polls getUpdates until ctx is cancelled.
func (b *Bot) Poll(ctx context.Context) error {
	if err := b.client.DeleteWebhook(ctx); err != nil {
		b.logger.Warn("delete webhook before polling", "error", err)
	}
	b.logger.Info("polling for updates")

	var offset int64
	for {
		updates, err := b.client.GetUpdates(ctx, offset, pollTimeoutSeconds)
		if err != nil {
			if ctx.Err() != nil {
				b.Wait()
				return nil
			}
			delay := pollBackoff(err)
			b.logger.Error("get updates", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				b.Wait()
				return nil
			case <-time.After(delay):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			b.HandleUpdate(ctx, u)
		}
	}
}

// Webhook returns an HTTP handler for webhook updates. Work started by an
// update is bound to ctx, not to the request.
func (b *Bot) Webhook(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var u Update
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			http.Error(w, "invalid update", http.StatusBadRequest)
			return
		}
		b.HandleUpdate(ctx, u)
		w.WriteHeader(http.StatusOK)
	})
}

func (b *Bot) handleStart(ctx context.Context, chatID int64) {
	if err := b.registry.Subscribe(ctx, chatID); err != nil {
		b.logger.Error("register subscriber", "chat_id", chatID, "error", err)
	} else {
		b.logger.Info("new subscriber", "chat_id", chatID)
	}
	b.reply(ctx, chatID, b.cfg.WelcomeText, &ReplyKeyboardMarkup{
		Keyboard:       [][]KeyboardButton{{{Text: b.cfg.RefreshLabel}}},
		ResizeKeyboard: true,
	})
}

func (b *Bot) handleStop(ctx context.Context, chatID int64) {
	if err := b.registry.Unsubscribe(ctx, chatID); err != nil {
		b.logger.Error("remove subscriber", "chat_id", chatID, "error", err)
	}
	b.reply(ctx, chatID, textStopped, nil)
}

// resolveKeyword maps the refresh label to the chat's last keyword and any
// other text to its translation, which becomes the new last keyword.
func (b *Bot) resolveKeyword(ctx context.Context, chatID int64, text string) string {
	if text == b.cfg.RefreshLabel {
		kw, ok, err := b.registry.Keyword(ctx, chatID)
		if err != nil {
			b.logger.Error("load keyword", "chat_id", chatID, "error", err)
		}
		if !ok {
			return b.cfg.DefaultKeyword
		}
		return kw
	}

	kw := b.translator.Translate(ctx, text, b.cfg.KeywordLanguage)
	if kw == "" {
		b.logger.Warn("translation failed, using default keyword", "chat_id", chatID)
		return b.cfg.DefaultKeyword
	}
	if err := b.registry.SetKeyword(ctx, chatID, kw); err != nil {
		b.logger.Error("store keyword", "chat_id", chatID, "error", err)
	}
	return kw
}

func (b *Bot) refresh(ctx context.Context, chatID int64, keyword string) {
	res, err := b.refresher.Refresh(ctx, keyword)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		b.logger.Error("refresh", "chat_id", chatID, "keyword", keyword, "error", err)
		b.reply(ctx, chatID, textFailed, nil)
		return
	}
	if res.Count == 0 {
		b.reply(ctx, chatID, textNoResults, nil)
		return
	}
	for _, msg := range res.Messages {
		if err := b.Deliver(ctx, chatID, msg); err != nil {
			b.logger.Error("send refresh", "chat_id", chatID, "error", err)
			return
		}
	}
	b.logger.Info("refresh sent", "chat_id", chatID, "keyword", keyword, "items", res.Count)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string, markup any) {
	var opts *SendOptions
	if markup != nil {
		opts = &SendOptions{ReplyMarkup: markup}
	}
	if err := b.client.SendMessage(ctx, chatID, text, opts); err != nil {
		b.logger.Error("send reply", "chat_id", chatID, "error", err)
	}
}

// pollBackoff honours a flood-control retry_after, otherwise the fixed delay.
func pollBackoff(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter
	}
	return pollErrorBackoff
}

// command returns the bot command in text without any @botname suffix.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd
}
