package logbuf

import (
	"context"
	"fmt"
	"log/slog"
)

// Handler is an slog.Handler that captures every record into a Buffer and
// forwards to an inner handler subject to the inner handler's level.
type Handler struct {
	inner  slog.Handler
	buf    *Buffer
	attrs  []slog.Attr // pre-qualified with the group prefix in effect
	prefix string
}

// NewHandler creates a handler that writes to both buf and inner.
func NewHandler(inner slog.Handler, buf *Buffer) *Handler {
	return &Handler{inner: inner, buf: buf}
}

// Enabled reports true for every level; the buffer keeps debug records even
// when the inner handler drops them.
func (h *Handler) Enabled(context.Context, slog.Level) bool { return true }

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	e := Entry{Time: r.Time, Level: r.Level.String(), Message: r.Message}

	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		flatten(attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		flatten(attrs, h.prefix, a)
		return true
	})
	if id, ok := attrs[ExchangeKey].(string); ok {
		e.Exchange = id
		delete(attrs, ExchangeKey)
	}
	if len(attrs) > 0 {
		e.Attrs = attrs
	}
	h.buf.Write(e)

	if h.inner.Enabled(ctx, r.Level) {
		return h.inner.Handle(ctx, r)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	qualified := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	qualified = append(qualified, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		qualified = append(qualified, a)
	}
	return &Handler{inner: h.inner.WithAttrs(attrs), buf: h.buf, attrs: qualified, prefix: h.prefix}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{inner: h.inner.WithGroup(name), buf: h.buf, attrs: h.attrs, prefix: h.prefix + name + "."}
}

// flatten stores a under prefix+key, expanding groups into dotted keys.
func flatten(dst map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range v.Group() {
			flatten(dst, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	dst[prefix+a.Key] = jsonSafe(v)
}

// jsonSafe converts values that would not marshal usefully.
func jsonSafe(v slog.Value) any {
	switch x := v.Any().(type) {
	case error:
		return x.Error()
	case fmt.Stringer:
		if v.Kind() == slog.KindAny {
			return x.String()
		}
	}
	return v.Any()
}
