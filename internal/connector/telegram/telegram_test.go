package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/h1v3-io/skycast/internal/connector"
)

// Verify Connector implements connector.Connector at compile time.
var _ connector.Connector = (*Connector)(nil)
var _ connector.BusyIndicator = (*Connector)(nil)

type apiCall struct {
	method string
	form   url.Values
}

// fakeBotAPI answers Bot API methods. fail lists methods that return ok=false;
// failHTML makes sendMessage fail only when parse_mode is HTML.
type fakeBotAPI struct {
	mu       sync.Mutex
	calls    []apiCall
	fail     map[string]bool
	failHTML bool
}

func (f *fakeBotAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

		f.mu.Lock()
		f.calls = append(f.calls, apiCall{method: method, form: r.PostForm})
		fail := f.fail[method] || (f.failHTML && method == "sendMessage" && r.PostForm.Get("parse_mode") == "HTML")
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if fail {
			json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 400, "description": "Bad Request: rejected"})
			return
		}
		var result any
		switch method {
		case "getMe":
			result = map[string]any{"id": 1, "is_bot": true, "first_name": "Sky", "username": "skybot"}
		case "sendChatAction":
			result = true
		default:
			result = map[string]any{"message_id": 7, "date": 0, "chat": map[string]any{"id": 42, "type": "private"}}
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
	}
}

func (f *fakeBotAPI) callsTo(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func newTestConnector(t *testing.T, api *fakeBotAPI, cfg Config, handler connector.InboundHandler) *Connector {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	cfg.Token = "TEST"
	cfg.APIEndpoint = srv.URL + "/bot%s/%s"
	c, err := New(cfg, handler, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_AuthorizesBot(t *testing.T) {
	api := &fakeBotAPI{}
	c := newTestConnector(t, api, Config{}, nil)

	if c.Name() != "telegram" {
		t.Errorf("Name = %q", c.Name())
	}
	if len(api.callsTo("getMe")) != 1 {
		t.Errorf("getMe calls = %d", len(api.callsTo("getMe")))
	}
}

func TestNew_RejectedToken(t *testing.T) {
	api := &fakeBotAPI{fail: map[string]bool{"getMe": true}}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	_, err := New(Config{Token: "BAD", APIEndpoint: srv.URL + "/bot%s/%s"}, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "telegram: init bot") {
		t.Errorf("err = %v", err)
	}
}

func TestSend_Text(t *testing.T) {
	api := &fakeBotAPI{}
	c := newTestConnector(t, api, Config{}, nil)

	err := c.Send(context.Background(), connector.OutboundMessage{ChatID: "42", Content: "It's **sunny**"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	calls := api.callsTo("sendMessage")
	if len(calls) != 1 {
		t.Fatalf("sendMessage calls = %d", len(calls))
	}
	form := calls[0].form
	if form.Get("chat_id") != "42" {
		t.Errorf("chat_id = %q", form.Get("chat_id"))
	}
	if form.Get("parse_mode") != "HTML" {
		t.Errorf("parse_mode = %q", form.Get("parse_mode"))
	}
	if form.Get("text") != "It&#39;s <b>sunny</b>" {
		t.Errorf("text = %q", form.Get("text"))
	}
}

func TestSend_PlainTextFallback(t *testing.T) {
	api := &fakeBotAPI{failHTML: true}
	c := newTestConnector(t, api, Config{}, nil)

	err := c.Send(context.Background(), connector.OutboundMessage{ChatID: "42", Content: "It's **sunny**"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	calls := api.callsTo("sendMessage")
	if len(calls) != 2 {
		t.Fatalf("sendMessage calls = %d", len(calls))
	}
	if got := calls[1].form.Get("text"); got != "It's sunny" {
		t.Errorf("fallback text = %q", got)
	}
	if calls[1].form.Get("parse_mode") != "" {
		t.Errorf("fallback parse_mode = %q", calls[1].form.Get("parse_mode"))
	}
}

func TestSend_PhotoWithCaption(t *testing.T) {
	api := &fakeBotAPI{}
	c := newTestConnector(t, api, Config{}, nil)

	err := c.Send(context.Background(), connector.OutboundMessage{
		ChatID:   "42",
		Content:  "Sunny, 72°F",
		ImageURL: "https://cdn.example/sun.png",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	photos := api.callsTo("sendPhoto")
	if len(photos) != 1 {
		t.Fatalf("sendPhoto calls = %d", len(photos))
	}
	if got := photos[0].form.Get("photo"); got != "https://cdn.example/sun.png" {
		t.Errorf("photo = %q", got)
	}
	if got := photos[0].form.Get("caption"); got != "Sunny, 72°F" {
		t.Errorf("caption = %q", got)
	}
	if n := len(api.callsTo("sendMessage")); n != 0 {
		t.Errorf("sendMessage calls = %d, want 0", n)
	}
}

func TestSend_LongTextSentSeparately(t *testing.T) {
	api := &fakeBotAPI{}
	c := newTestConnector(t, api, Config{}, nil)

	long := strings.Repeat("a", maxCaptionLen+1)
	err := c.Send(context.Background(), connector.OutboundMessage{ChatID: "42", Content: long, ImageURL: "https://cdn.example/sun.png"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	photos := api.callsTo("sendPhoto")
	if len(photos) != 1 || photos[0].form.Get("caption") != "" {
		t.Fatalf("photos = %+v", photos)
	}
	if n := len(api.callsTo("sendMessage")); n != 1 {
		t.Errorf("sendMessage calls = %d, want 1", n)
	}
}

func TestSend_PhotoFailureFallsBackToText(t *testing.T) {
	api := &fakeBotAPI{fail: map[string]bool{"sendPhoto": true}}
	c := newTestConnector(t, api, Config{}, nil)

	err := c.Send(context.Background(), connector.OutboundMessage{ChatID: "42", Content: "Sunny", ImageURL: "https://cdn.example/sun.png"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	calls := api.callsTo("sendMessage")
	if len(calls) != 1 || calls[0].form.Get("text") != "Sunny" {
		t.Errorf("sendMessage calls = %+v", calls)
	}
}

func TestSend_InvalidChatID(t *testing.T) {
	api := &fakeBotAPI{}
	c := newTestConnector(t, api, Config{}, nil)

	if err := c.Send(context.Background(), connector.OutboundMessage{ChatID: "general", Content: "x"}); err == nil {
		t.Error("expected error for non-numeric chat id")
	}
}

func TestBusy_SendsTypingAction(t *testing.T) {
	api := &fakeBotAPI{}
	c := newTestConnector(t, api, Config{}, nil)

	done := c.Busy(context.Background(), "42", "Getting weather for Boston...")
	deadline := time.Now().Add(2 * time.Second)
	for len(api.callsTo("sendChatAction")) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	done()
	done()

	calls := api.callsTo("sendChatAction")
	if len(calls) == 0 {
		t.Fatal("expected a chat action")
	}
	if got := calls[0].form.Get("action"); got != "typing" {
		t.Errorf("action = %q", got)
	}
}

func textMessage(userID, chatID int64, text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID, UserName: "ada"},
		Chat: &tgbotapi.Chat{ID: chatID, Type: "private"},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		cmdLen := len(text)
		if i := strings.IndexByte(text, ' '); i > 0 {
			cmdLen = i
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}}
	}
	return msg
}

func TestHandleMessage_ForwardsToHandler(t *testing.T) {
	api := &fakeBotAPI{}
	var got []connector.InboundMessage
	c := newTestConnector(t, api, Config{}, func(_ context.Context, msg connector.InboundMessage) error {
		got = append(got, msg)
		return nil
	})

	c.handleMessage(context.Background(), textMessage(100, 42, "What's the weather in Boston?"))
	c.handleMessage(context.Background(), textMessage(100, 42, "/new"))

	if len(got) != 2 {
		t.Fatalf("handled = %d", len(got))
	}
	want := connector.InboundMessage{Channel: "telegram", SenderID: "100", ChatID: "42", Content: "What's the weather in Boston?"}
	if got[0] != want {
		t.Errorf("inbound = %+v", got[0])
	}
	if got[1].Content != "/new" {
		t.Errorf("command content = %q", got[1].Content)
	}
}

func TestHandleMessage_AllowFrom(t *testing.T) {
	api := &fakeBotAPI{}
	calls := 0
	c := newTestConnector(t, api, Config{AllowFrom: []int64{100}}, func(context.Context, connector.InboundMessage) error {
		calls++
		return nil
	})

	c.handleMessage(context.Background(), textMessage(999, 42, "hi"))
	c.handleMessage(context.Background(), textMessage(100, 42, "hi"))
	c.handleMessage(context.Background(), &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}, Text: "no sender"})

	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
}

func TestHandleMessage_HelpAnsweredLocally(t *testing.T) {
	api := &fakeBotAPI{}
	calls := 0
	c := newTestConnector(t, api, Config{}, func(context.Context, connector.InboundMessage) error {
		calls++
		return nil
	})

	c.handleMessage(context.Background(), textMessage(100, 42, "/help"))

	if calls != 0 {
		t.Errorf("handler calls = %d, want 0", calls)
	}
	sent := api.callsTo("sendMessage")
	if len(sent) != 1 || !strings.Contains(sent[0].form.Get("text"), "/new") {
		t.Errorf("help reply = %+v", sent)
	}
}

func TestHandleMessage_IgnoresEmpty(t *testing.T) {
	api := &fakeBotAPI{}
	calls := 0
	c := newTestConnector(t, api, Config{}, func(context.Context, connector.InboundMessage) error {
		calls++
		return nil
	})

	c.handleMessage(context.Background(), textMessage(100, 42, "   "))
	if calls != 0 {
		t.Errorf("handler calls = %d", calls)
	}
}

func TestContains(t *testing.T) {
	ids := []int64{100, 200, 300}

	if !contains(ids, 200) {
		t.Error("expected 200 to be found")
	}
	if contains(ids, 999) {
		t.Error("expected 999 to not be found")
	}
	if contains(nil, 100) {
		t.Error("expected nil slice to return false")
	}
}
