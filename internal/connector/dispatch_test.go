package connector

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/h1v3-io/skycast/internal/agent"
	"github.com/h1v3-io/skycast/internal/session"
	"github.com/h1v3-io/skycast/pkg/protocol"
)

// fakeConnector records outbound messages and busy calls.
type fakeConnector struct {
	mu      sync.Mutex
	sent    []OutboundMessage
	busy    []string
	cleared int
	sendErr error
}

func (f *fakeConnector) Name() string                  { return "fake" }
func (f *fakeConnector) Start(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }
func (f *fakeConnector) Stop() error                   { return nil }

func (f *fakeConnector) Send(_ context.Context, msg OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.sendErr
}

func (f *fakeConnector) Busy(_ context.Context, _ string, status string) func() {
	f.mu.Lock()
	f.busy = append(f.busy, status)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.cleared++
		f.mu.Unlock()
	}
}

// scriptedProvider returns completions in order.
type scriptedProvider struct {
	completions []*protocol.Completion
	errs        []error
	idx         int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(context.Context, []protocol.Turn) (*protocol.Completion, error) {
	i := p.idx
	p.idx++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i >= len(p.completions) {
		return nil, errors.New("no more completions")
	}
	return p.completions[i], nil
}

type fixedWeather struct{}

func (fixedWeather) Fetch(context.Context, string) (*protocol.WeatherResult, error) {
	return &protocol.WeatherResult{Summary: "Sunny. Temperature: 72°F, Humidity: 40%, Wind: 5 mph", IconRef: "//cdn/sun.png"}, nil
}

func newDispatcher(t *testing.T, prov *scriptedProvider) (*Dispatcher, *fakeConnector, *agent.SessionManager) {
	t.Helper()
	loop := &agent.Loop{Provider: prov, Weather: fixedWeather{}, Logger: slog.Default()}
	sessions := agent.NewSessionManager(loop, session.NewMemoryStore(), nil)
	d := NewDispatcher(sessions, nil)
	conn := &fakeConnector{}
	d.Register(conn)
	return d, conn, sessions
}

func TestDispatch_WeatherExchange(t *testing.T) {
	prov := &scriptedProvider{completions: []*protocol.Completion{
		{ToolCall: &protocol.ToolCall{ID: "t1", Name: "get_weather", Input: map[string]any{"location": "Boston"}}},
		{Text: "It's **sunny** in Boston."},
	}}
	d, conn, sessions := newDispatcher(t, prov)

	err := d.Handle(context.Background(), InboundMessage{Channel: "fake", ChatID: "42", Content: "What's the weather in Boston?"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(conn.sent) != 1 {
		t.Fatalf("expected 1 reply, got %d: %+v", len(conn.sent), conn.sent)
	}
	reply := conn.sent[0]
	if reply.ChatID != "42" || reply.Content != "It's **sunny** in Boston." {
		t.Errorf("reply = %+v", reply)
	}
	if reply.ImageURL != "https://cdn/sun.png" {
		t.Errorf("image = %q", reply.ImageURL)
	}
	if len(conn.busy) != 3 || conn.cleared != 3 {
		t.Errorf("busy = %v, cleared = %d", conn.busy, conn.cleared)
	}

	hist, _ := sessions.History("fake:42")
	if len(hist) != 2 {
		t.Errorf("expected 2 display turns under fake:42, got %d", len(hist))
	}
}

func TestDispatch_ModelErrorIsSentAsError(t *testing.T) {
	prov := &scriptedProvider{errs: []error{errors.New("connection refused")}}
	d, conn, _ := newDispatcher(t, prov)

	if err := d.Handle(context.Background(), InboundMessage{Channel: "fake", ChatID: "1", Content: "Hi"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(conn.sent) != 1 || !conn.sent[0].IsError {
		t.Fatalf("sent = %+v", conn.sent)
	}
	if !strings.HasPrefix(conn.sent[0].Content, ErrorPrefix+"Failed to get response from the model") {
		t.Errorf("content = %q", conn.sent[0].Content)
	}
}

func TestDispatch_ResetCommands(t *testing.T) {
	prov := &scriptedProvider{completions: []*protocol.Completion{{Text: "Hello!"}}}
	d, conn, sessions := newDispatcher(t, prov)
	ctx := context.Background()

	d.Handle(ctx, InboundMessage{Channel: "fake", ChatID: "7", Content: "hi"})
	for _, cmd := range []string{"/new", "/start@skycast_bot", "/RESET now"} {
		if err := d.Handle(ctx, InboundMessage{Channel: "fake", ChatID: "7", Content: cmd}); err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
	}

	hist, _ := sessions.History("fake:7")
	if len(hist) != 0 {
		t.Errorf("expected history cleared, got %d turns", len(hist))
	}
	last := conn.sent[len(conn.sent)-1]
	if last.Content != Greeting {
		t.Errorf("last reply = %q", last.Content)
	}
	if prov.idx != 1 {
		t.Errorf("commands must not reach the model (calls = %d)", prov.idx)
	}
}

func TestDispatch_HelpAnsweredLocally(t *testing.T) {
	prov := &scriptedProvider{completions: []*protocol.Completion{{Text: "model answered"}}}
	d, conn, sessions := newDispatcher(t, prov)

	if err := d.Handle(context.Background(), InboundMessage{Channel: "fake", ChatID: "3", Content: "/help"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if prov.idx != 0 {
		t.Errorf("/help reached the model (calls = %d)", prov.idx)
	}
	if len(conn.sent) != 1 || conn.sent[0].Content != HelpText {
		t.Errorf("sent = %+v", conn.sent)
	}
	if hist, _ := sessions.History("fake:3"); len(hist) != 0 {
		t.Errorf("/help must not touch history, got %d turns", len(hist))
	}
}

func TestDispatch_EmptyIgnored(t *testing.T) {
	d, conn, _ := newDispatcher(t, &scriptedProvider{})
	if err := d.Handle(context.Background(), InboundMessage{Channel: "fake", ChatID: "1", Content: "   "}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(conn.sent) != 0 {
		t.Errorf("sent = %+v", conn.sent)
	}
}

func TestDispatch_UnknownChannel(t *testing.T) {
	d, _, _ := newDispatcher(t, &scriptedProvider{})
	if err := d.Handle(context.Background(), InboundMessage{Channel: "irc", ChatID: "1", Content: "hi"}); err == nil {
		t.Error("expected error for unregistered channel")
	}
}

func TestChatSurface_SkipsUserTurns(t *testing.T) {
	conn := &fakeConnector{sendErr: errors.New("offline")}
	s := NewChatSurface(context.Background(), conn, "9", nil)

	s.Render(protocol.DisplayTurn{Role: protocol.RoleUser, Content: "hi"})
	s.Render(protocol.DisplayTurn{Role: protocol.RoleAssistant, Content: "hello"})

	if len(conn.sent) != 1 || conn.sent[0].Content != "hello" {
		t.Errorf("sent = %+v", conn.sent)
	}
}

func TestFirstWord(t *testing.T) {
	tests := map[string]string{
		"/new":                 "/new",
		"/start@bot arg":       "/start",
		"hello there":          "hello",
		"email me@example.com": "email",
		"":                     "",
	}
	for in, want := range tests {
		if got := firstWord(in); got != want {
			t.Errorf("firstWord(%q) = %q, want %q", in, got, want)
		}
	}
}
