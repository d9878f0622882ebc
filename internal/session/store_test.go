package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/h1v3-io/skycast/pkg/protocol"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mem, err := NewSQLiteStore("")
	if err != nil {
		t.Fatalf("open in-memory sqlite: %v", err)
	}
	file, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open file sqlite: %v", err)
	}
	t.Cleanup(func() {
		mem.Close()
		file.Close()
	})
	return map[string]Store{
		"memory":        NewMemoryStore(),
		"sqlite-memory": mem,
		"sqlite-file":   file,
	}
}

func sampleConversation() *protocol.Conversation {
	var c protocol.Conversation
	c.AppendUser("What's the weather in Boston?")
	c.AppendToolExchange("", protocol.ToolCall{
		ID:    "toolu_1",
		Name:  "get_weather",
		Input: map[string]any{"location": "Boston"},
	}, "Sunny. Temperature: 72°F, Humidity: 40%, Wind: 5 mph")
	c.AppendAssistant("It's sunny in Boston.", "https://cdn/sun.png", protocol.PlaceholderFinalAnswer)
	return &c
}

func TestStore_LoadUnknownIsEmpty(t *testing.T) {
	for name, s := range stores(t) {
		conv, err := s.Load("nobody")
		if err != nil {
			t.Fatalf("%s: load: %v", name, err)
		}
		if len(conv.Display) != 0 || len(conv.API) != 0 {
			t.Errorf("%s: expected empty conversation, got %+v", name, conv)
		}
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	for name, s := range stores(t) {
		if err := s.Save("chat-1", sampleConversation()); err != nil {
			t.Fatalf("%s: save: %v", name, err)
		}
		got, err := s.Load("chat-1")
		if err != nil {
			t.Fatalf("%s: load: %v", name, err)
		}
		if len(got.Display) != 2 {
			t.Fatalf("%s: expected 2 display turns, got %d", name, len(got.Display))
		}
		if got.Display[1].Icon != "https://cdn/sun.png" {
			t.Errorf("%s: icon = %q", name, got.Display[1].Icon)
		}
		if len(got.API) != 4 {
			t.Fatalf("%s: expected 4 api turns, got %d", name, len(got.API))
		}
		use := got.API[1].Blocks[0].ToolUse
		if use == nil || use.ID != "toolu_1" || use.Input["location"] != "Boston" {
			t.Errorf("%s: tool_use block lost: %+v", name, got.API[1].Blocks)
		}
		res := got.API[2].Blocks[0].ToolResult
		if res == nil || res.ToolUseID != "toolu_1" {
			t.Errorf("%s: tool_result block lost: %+v", name, got.API[2].Blocks)
		}
		if err := got.Validate(); err != nil {
			t.Errorf("%s: loaded conversation invalid: %v", name, err)
		}
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	for name, s := range stores(t) {
		conv := sampleConversation()
		if err := s.Save("chat-1", conv); err != nil {
			t.Fatalf("%s: save: %v", name, err)
		}
		conv.AppendUser("And tomorrow?")
		conv.AppendAssistant("I can only check current conditions.", "", protocol.PlaceholderAnswer)
		if err := s.Save("chat-1", conv); err != nil {
			t.Fatalf("%s: save: %v", name, err)
		}
		got, _ := s.Load("chat-1")
		if len(got.Display) != 4 {
			t.Errorf("%s: expected 4 display turns, got %d", name, len(got.Display))
		}
	}
}

func TestStore_LoadReturnsCopy(t *testing.T) {
	for name, s := range stores(t) {
		s.Save("chat-1", sampleConversation())
		a, _ := s.Load("chat-1")
		a.AppendUser("unsaved")

		b, _ := s.Load("chat-1")
		if len(b.Display) != 2 {
			t.Errorf("%s: unsaved change leaked into store: %d display turns", name, len(b.Display))
		}
	}
}

func TestStore_Delete(t *testing.T) {
	for name, s := range stores(t) {
		s.Save("chat-1", sampleConversation())
		if err := s.Delete("chat-1"); err != nil {
			t.Fatalf("%s: delete: %v", name, err)
		}
		if err := s.Delete("chat-1"); err != nil {
			t.Errorf("%s: second delete: %v", name, err)
		}
		got, _ := s.Load("chat-1")
		if len(got.API) != 0 {
			t.Errorf("%s: expected empty conversation after delete", name)
		}
	}
}

func TestStore_Sweep(t *testing.T) {
	for name, s := range stores(t) {
		s.Save("old", sampleConversation())
		cutoff := time.Now().Add(time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		s.Save("fresh", sampleConversation())

		n, err := s.Sweep(cutoff)
		if err != nil {
			t.Fatalf("%s: sweep: %v", name, err)
		}
		if n != 1 {
			t.Errorf("%s: expected 1 swept session, got %d", name, n)
		}
		old, _ := s.Load("old")
		if len(old.API) != 0 {
			t.Errorf("%s: old session survived sweep", name)
		}
		fresh, _ := s.Load("fresh")
		if len(fresh.API) == 0 {
			t.Errorf("%s: fresh session was swept", name)
		}
	}
}

func TestStore_Count(t *testing.T) {
	for name, s := range stores(t) {
		for _, id := range []string{"a", "b"} {
			if err := s.Save(id, sampleConversation()); err != nil {
				t.Fatalf("%s: save %s: %v", name, id, err)
			}
		}
		s.Delete("a")
		if n, err := s.Count(); err != nil || n != 1 {
			t.Errorf("%s: count = %d, %v; want 1", name, n, err)
		}
	}
}

func TestSQLiteStore_InMemorySharedAcrossCalls(t *testing.T) {
	s, err := NewSQLiteStore(DefaultDSN)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Save(id, sampleConversation()); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	n, err := s.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 sessions, got %d", n)
	}
}
