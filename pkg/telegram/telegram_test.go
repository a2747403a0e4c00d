package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/eventwire/eventwire/pkg/logging"
	"github.com/eventwire/eventwire/pkg/pipeline"
)

type sentMessage struct {
	ChatID      int64           `json:"chat_id"`
	Text        string          `json:"text"`
	ParseMode   string          `json:"parse_mode"`
	ReplyMarkup json.RawMessage `json:"reply_markup"`
}

// fakeAPI is an in-process Bot API.
type fakeAPI struct {
	mu      sync.Mutex
	sent    []sentMessage
	calls   map[string]int
	updates [][]Update
	offset  int64
	failing string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *Client) {
	t.Helper()
	f := &fakeAPI{calls: make(map[string]int)}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, NewClient("TOKEN", srv.URL)
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)
	if path.Dir(r.URL.Path) != "/botTOKEN" {
		http.Error(w, "bad token path", http.StatusNotFound)
		return
	}

	f.mu.Lock()
	f.calls[method]++
	failing := f.failing == method
	var batch []Update
	if method == "getUpdates" {
		var req struct {
			Offset int64 `json:"offset"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.offset = req.Offset
		if len(f.updates) > 0 {
			batch, f.updates = f.updates[0], f.updates[1:]
		}
	}
	if method == "sendMessage" && !failing {
		var m sentMessage
		json.NewDecoder(r.Body).Decode(&m)
		f.sent = append(f.sent, m)
	}
	f.mu.Unlock()

	if failing {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":7}}`))
		return
	}
	if method == "getUpdates" {
		if batch == nil {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			batch = []Update{}
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": batch})
		return
	}
	w.Write([]byte(`{"ok":true,"result":true}`))
}

func (f *fakeAPI) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type stubRefresher struct {
	mu       sync.Mutex
	keywords []string
	result   pipeline.Result
	err      error
}

func (s *stubRefresher) Refresh(ctx context.Context, keyword string) (pipeline.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords = append(s.keywords, keyword)
	return s.result, s.err
}

type stubTranslator struct{ out string }

func (s stubTranslator) Translate(ctx context.Context, text, lang string) string { return s.out }

type memRegistry struct {
	mu       sync.Mutex
	subs     map[int64]bool
	keywords map[int64]string
}

func newMemRegistry() *memRegistry {
	return &memRegistry{subs: map[int64]bool{}, keywords: map[int64]string{}}
}

func (m *memRegistry) Subscribe(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[id] = true
	return nil
}

func (m *memRegistry) Unsubscribe(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}

func (m *memRegistry) SetKeyword(ctx context.Context, id int64, kw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keywords[id] = kw
	return nil
}

func (m *memRegistry) Keyword(ctx context.Context, id int64) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kw, ok := m.keywords[id]
	return kw, ok, nil
}

func testBotConfig() BotConfig {
	return BotConfig{
		RefreshLabel:    "刷一下",
		WelcomeText:     "welcome",
		DefaultKeyword:  "новости",
		KeywordLanguage: "ru",
	}
}

func textUpdate(id, chatID int64, text string) Update {
	return Update{UpdateID: id, Message: &Message{Chat: Chat{ID: chatID}, Text: text}}
}

func TestStartRegistersAndShowsKeyboard(t *testing.T) {
	api, client := newFakeAPI(t)
	reg := newMemRegistry()
	bot := NewBot(client, &stubRefresher{}, stubTranslator{}, reg, testBotConfig(), logging.Discard())

	bot.HandleUpdate(context.Background(), textUpdate(1, 42, "/start"))

	if !reg.subs[42] {
		t.Error("expected chat registered")
	}
	msgs := api.messages()
	if len(msgs) != 1 || msgs[0].Text != "welcome" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	var kb ReplyKeyboardMarkup
	if err := json.Unmarshal(msgs[0].ReplyMarkup, &kb); err != nil {
		t.Fatal(err)
	}
	if !kb.ResizeKeyboard || kb.Keyboard[0][0].Text != "刷一下" {
		t.Errorf("unexpected keyboard: %+v", kb)
	}
}

func TestStopUnsubscribes(t *testing.T) {
	_, client := newFakeAPI(t)
	reg := newMemRegistry()
	reg.subs[42] = true
	bot := NewBot(client, &stubRefresher{}, stubTranslator{}, reg, testBotConfig(), logging.Discard())

	bot.HandleUpdate(context.Background(), textUpdate(1, 42, "/stop@eventwire_bot"))
	if reg.subs[42] {
		t.Error("expected chat unsubscribed")
	}
}

func TestRefreshLabelUsesDefaultKeyword(t *testing.T) {
	api, client := newFakeAPI(t)
	ref := &stubRefresher{result: pipeline.Result{Count: 1, Messages: []string{"<b>digest</b>"}}}
	bot := NewBot(client, ref, stubTranslator{}, newMemRegistry(), testBotConfig(), logging.Discard())

	bot.HandleUpdate(context.Background(), textUpdate(1, 42, "刷一下"))
	bot.Wait()

	if len(ref.keywords) != 1 || ref.keywords[0] != "новости" {
		t.Fatalf("expected default keyword, got %v", ref.keywords)
	}
	msgs := api.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected ack and digest, got %+v", msgs)
	}
	if msgs[0].Text != textFetching {
		t.Errorf("expected fetching ack first, got %q", msgs[0].Text)
	}
	if msgs[1].Text != "<b>digest</b>" || msgs[1].ParseMode != "HTML" {
		t.Errorf("unexpected digest message: %+v", msgs[1])
	}
}

func TestFreeTextIsTranslatedAndRemembered(t *testing.T) {
	_, client := newFakeAPI(t)
	reg := newMemRegistry()
	ref := &stubRefresher{result: pipeline.Result{Count: 1, Messages: []string{"x"}}}
	bot := NewBot(client, ref, stubTranslator{out: "концерт"}, reg, testBotConfig(), logging.Discard())
	ctx := context.Background()

	bot.HandleUpdate(ctx, textUpdate(1, 42, "音乐会"))
	bot.Wait()
	bot.HandleUpdate(ctx, textUpdate(2, 42, "刷一下"))
	bot.Wait()

	if len(ref.keywords) != 2 || ref.keywords[0] != "концерт" || ref.keywords[1] != "концерт" {
		t.Errorf("expected translated keyword reused, got %v", ref.keywords)
	}
	if reg.subs[42] {
		t.Error("free text must not subscribe the chat")
	}
}

func TestFailedTranslationFallsBack(t *testing.T) {
	_, client := newFakeAPI(t)
	reg := newMemRegistry()
	ref := &stubRefresher{}
	bot := NewBot(client, ref, stubTranslator{out: ""}, reg, testBotConfig(), logging.Discard())

	bot.HandleUpdate(context.Background(), textUpdate(1, 42, "???"))
	bot.Wait()

	if ref.keywords[0] != "новости" {
		t.Errorf("expected default keyword, got %q", ref.keywords[0])
	}
	if _, ok := reg.keywords[42]; ok {
		t.Error("failed translation must not be remembered")
	}
}

func TestRefreshOutcomesReplies(t *testing.T) {
	tests := []struct {
		name string
		ref  *stubRefresher
		want string
	}{
		{"empty", &stubRefresher{}, textNoResults},
		{"error", &stubRefresher{err: errors.New("vk down")}, textFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, client := newFakeAPI(t)
			bot := NewBot(client, tt.ref, stubTranslator{}, newMemRegistry(), testBotConfig(), logging.Discard())
			bot.HandleUpdate(context.Background(), textUpdate(1, 7, "刷一下"))
			bot.Wait()

			msgs := api.messages()
			if len(msgs) != 2 || msgs[1].Text != tt.want {
				t.Errorf("expected %q reply, got %+v", tt.want, msgs)
			}
		})
	}
}

func TestWebhook(t *testing.T) {
	api, client := newFakeAPI(t)
	reg := newMemRegistry()
	bot := NewBot(client, &stubRefresher{}, stubTranslator{}, reg, testBotConfig(), logging.Discard())
	h := bot.Webhook(context.Background())

	body, _ := json.Marshal(textUpdate(5, 9, "/start"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/telegram/TOKEN", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !reg.subs[9] || len(api.messages()) != 1 {
		t.Error("webhook update was not handled")
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/telegram/TOKEN", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestPoll(t *testing.T) {
	api, client := newFakeAPI(t)
	api.updates = [][]Update{{textUpdate(10, 1, "/start"), textUpdate(11, 2, "/start")}}
	reg := newMemRegistry()
	bot := NewBot(client, &stubRefresher{}, stubTranslator{}, reg, testBotConfig(), logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Poll(ctx) }()

	polled := func() int {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.calls["getUpdates"]
	}
	deadline := time.After(5 * time.Second)
	for len(api.messages()) < 2 || polled() < 2 {
		select {
		case <-deadline:
			t.Fatal("updates were not handled")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("expected nil on cancel, got %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if api.calls["deleteWebhook"] != 1 {
		t.Errorf("expected webhook removed before polling, got %d calls", api.calls["deleteWebhook"])
	}
	if api.offset != 12 {
		t.Errorf("expected offset past the last update, got %d", api.offset)
	}
}

func TestAPIError(t *testing.T) {
	api, client := newFakeAPI(t)
	api.failing = "sendMessage"

	err := client.SendMessage(context.Background(), 1, "hi", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != 429 || apiErr.RetryAfter != 7*time.Second {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}

func TestCommand(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/start", "/start"},
		{"/start@bot", "/start"},
		{"/start payload", "/start"},
		{"刷一下", ""},
		{"hello /start", ""},
	}
	for _, tt := range tests {
		if got := command(tt.in); got != tt.want {
			t.Errorf("command(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNoRefreshAfterCancel(t *testing.T) {
	api, client := newFakeAPI(t)
	ref := &stubRefresher{result: pipeline.Result{Count: 1, Messages: []string{"x"}}}
	bot := NewBot(client, ref, stubTranslator{}, newMemRegistry(), testBotConfig(), logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bot.HandleUpdate(ctx, textUpdate(1, 42, "刷一下"))
	bot.Wait()

	if len(ref.keywords) != 0 {
		t.Errorf("no refresh may start after cancel, got %v", ref.keywords)
	}
	if len(api.messages()) != 0 {
		t.Errorf("expected no replies, got %+v", api.messages())
	}
}

func TestLateUpdatesDuringWait(t *testing.T) {
	_, client := newFakeAPI(t)
	ref := &stubRefresher{result: pipeline.Result{Count: 1, Messages: []string{"x"}}}
	bot := NewBot(client, ref, stubTranslator{}, newMemRegistry(), testBotConfig(), logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bot.HandleUpdate(ctx, textUpdate(int64(i), int64(i), "刷一下"))
		}()
	}
	cancel()
	bot.Wait()
	wg.Wait()
	bot.Wait()

	ref.mu.Lock()
	started := len(ref.keywords)
	ref.mu.Unlock()
	if started > 20 {
		t.Errorf("unexpected refresh count %d", started)
	}
}

func TestPollBackoff(t *testing.T) {
	if got := pollBackoff(&APIError{Code: 429, RetryAfter: 7 * time.Second}); got != 7*time.Second {
		t.Errorf("expected retry_after to win, got %v", got)
	}
	if got := pollBackoff(errors.New("network")); got != pollErrorBackoff {
		t.Errorf("expected default backoff, got %v", got)
	}
}
