package logging

import "context"

type contextKey int

const cycleKey contextKey = iota

// WithCycleID returns a context carrying a collection cycle id.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleKey, id)
}

// CycleIDFromCtx returns the cycle id stored in ctx, or "".
func CycleIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(cycleKey).(string)
	return id
}

// ContextLogger returns base (or the global logger when base is nil)
// tagged with the cycle id carried by ctx.
func ContextLogger(ctx context.Context, base *Logger) *Logger {
	if base == nil {
		base = Global()
	}
	if ctx == nil {
		return base
	}
	if id := CycleIDFromCtx(ctx); id != "" {
		return base.WithCycle(id)
	}
	return base
}
