// Package ctxlogger lets slog attributes accumulate on a context.Context
// as a request (or websocket message) flows through middleware, so a
// single log line at the bottom of the call stack carries request id,
// room id, member id, etc. without threading them through every function
// signature.
package ctxlogger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// ContextHandler wraps an slog.Handler, merging attributes stashed on the
// context (via AppendCtx) into every record it handles.
type ContextHandler struct {
	slog.Handler
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(ctxKey{}).([]slog.Attr); ok {
		for _, a := range attrs {
			r.AddAttrs(a)
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// AppendCtx returns a context carrying attr in addition to any attributes
// already stashed on ctx.
func AppendCtx(ctx context.Context, attr slog.Attr) context.Context {
	existing, _ := ctx.Value(ctxKey{}).([]slog.Attr)
	next := make([]slog.Attr, len(existing), len(existing)+1)
	copy(next, existing)
	next = append(next, attr)
	return context.WithValue(ctx, ctxKey{}, next)
}
