package logbuf

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ExchangeKey is the attribute that ties log entries to one exchange.
const ExchangeKey = "exchange"

// Entry is a single log entry captured from slog.
type Entry struct {
	Time     time.Time      `json:"time"`
	Level    string         `json:"level"`
	Message  string         `json:"message"`
	Exchange string         `json:"exchange,omitempty"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

// Filter selects entries in Query. Zero fields match everything except
// MinLevel, whose zero value is INFO.
type Filter struct {
	Since    time.Time
	MinLevel slog.Level
	Exchange string
	Limit    int // newest Limit entries; 0 = no limit
}

// Buffer is a fixed-size, thread-safe ring of entries.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// New creates a ring buffer that holds up to size entries.
func New(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	return &Buffer{entries: make([]Entry, size)}
}

// Write appends an entry, overwriting the oldest one when full.
func (b *Buffer) Write(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[b.next] = e
	b.next++
	if b.next == len(b.entries) {
		b.next = 0
		b.full = true
	}
}

// Len returns the number of entries held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.entries)
	}
	return b.next
}

// Query returns entries matching f, oldest first.
func (b *Buffer) Query(f Filter) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	ordered := b.entries[:b.next]
	if b.full {
		ordered = append(append([]Entry(nil), b.entries[b.next:]...), b.entries[:b.next]...)
	}

	var result []Entry
	for _, e := range ordered {
		if !f.Since.IsZero() && e.Time.Before(f.Since) {
			continue
		}
		if lvl, err := ParseLevel(e.Level); err == nil && lvl < f.MinLevel {
			continue
		}
		if f.Exchange != "" && e.Exchange != f.Exchange {
			continue
		}
		result = append(result, e)
	}

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[len(result)-f.Limit:]
	}
	return result
}

// ParseLevel accepts slog level names in any case ("debug", "WARN",
// "INFO+2"). An empty string is INFO.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("logbuf: unknown level %q", s)
	}
	return lvl, nil
}
