// Package wlog is a common spot for windnf logging.
//
// It wraps [log/slog] with a context-carried attribute stash, so that
// deeply nested calls can annotate log lines (repo name, pkgKey, request
// id) without threading a logger value through every signature.
package wlog

import (
	"context"
	"log/slog"
	"slices"
)

type ctxkey int

const (
	_ ctxkey = iota

	// attrsKey retrieves extra logging attributes stashed on a context by
	// [With] or [WithAttrs].
	attrsKey

	// levelKey retrieves a per-context minimum [slog.Level].
	levelKey
)

// With returns a context with the arguments stored as [slog.Attr] pairs,
// in the same key/value-pair or [slog.Attr] form [log/slog.Logger.With]
// accepts.
func With(ctx context.Context, args ...any) context.Context {
	return WithAttrs(ctx, argsToAttrs(args)...)
}

// WithAttrs returns a context with the given attributes stashed, merged
// with (and overriding, by key) any attributes already present.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if v, ok := ctx.Value(attrsKey).(slog.Value); ok {
		attrs = append(v.Group(), attrs...)
	}
	seen := make(map[string]struct{}, len(attrs))
	attrs = slices.DeleteFunc(slices.Clone(reversed(attrs)), func(a slog.Attr) bool {
		_, dup := seen[a.Key]
		seen[a.Key] = struct{}{}
		return dup
	})
	attrs = reversed(attrs)
	return context.WithValue(ctx, attrsKey, slog.GroupValue(attrs...))
}

// WithLevel returns a context carrying a per-record minimum [slog.Leveler].
func WithLevel(ctx context.Context, l slog.Leveler) context.Context {
	return context.WithValue(ctx, levelKey, l)
}

func reversed(a []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(a))
	for i, v := range a {
		out[len(a)-1-i] = v
	}
	return out
}

// WrapHandler wraps next so that records emitted through a context
// produced by [With] or [WithAttrs] carry the stashed attributes, and so
// that a context produced by [WithLevel] can raise the minimum level for
// just that call tree.
func WrapHandler(next slog.Handler) slog.Handler {
	return handler{next: next}
}

type handler struct{ next slog.Handler }

var _ slog.Handler = handler{}

func (h handler) Enabled(ctx context.Context, l slog.Level) bool {
	if lv, ok := ctx.Value(levelKey).(slog.Leveler); ok {
		return l >= lv.Level()
	}
	return h.next.Enabled(ctx, l)
}

func (h handler) Handle(ctx context.Context, r slog.Record) error {
	if v, ok := ctx.Value(attrsKey).(slog.Value); ok {
		r.AddAttrs(v.Group()...)
	}
	return h.next.Handle(ctx, r)
}

func (h handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return handler{next: h.next.WithAttrs(attrs)}
}

func (h handler) WithGroup(name string) slog.Handler {
	return handler{next: h.next.WithGroup(name)}
}

func argsToAttrs(args []any) []slog.Attr {
	var attrs []slog.Attr
	for len(args) > 0 {
		var a slog.Attr
		a, args = argToAttr(args)
		attrs = append(attrs, a)
	}
	return attrs
}

func argToAttr(args []any) (slog.Attr, []any) {
	const badKey = "!BADKEY"
	switch x := args[0].(type) {
	case string:
		if len(args) == 1 {
			return slog.String(badKey, x), nil
		}
		return slog.Any(x, args[1]), args[2:]
	case slog.Attr:
		return x, args[1:]
	default:
		return slog.Any(badKey, x), args[1:]
	}
}
