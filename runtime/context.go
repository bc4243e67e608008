package runtime

import (
	"context"
	"log/slog"

	"github.com/petal-labs/arbor/core"
)

// emitterKey is an unexported type used as the context key for EventEmitter.
// Using an unexported struct type prevents collisions with keys from other packages.
type emitterKey struct{}

type nodeKey struct{}

type loggerKey struct{}

// ContextWithEmitter attaches an event emitter to the context.
func ContextWithEmitter(ctx context.Context, emit EventEmitter) context.Context {
	return context.WithValue(ctx, emitterKey{}, emit)
}

// EmitterFromContext retrieves the event emitter from the context.
// Returns a no-op emitter if none is set.
func EmitterFromContext(ctx context.Context) EventEmitter {
	if emit, ok := ctx.Value(emitterKey{}).(EventEmitter); ok {
		return emit
	}
	return func(Event) {}
}

// ContextWithNode records the node a task runs for.
func ContextWithNode(ctx context.Context, id core.NodeID) context.Context {
	return context.WithValue(ctx, nodeKey{}, id)
}

// NodeFromContext returns the node a task runs for.
func NodeFromContext(ctx context.Context) (core.NodeID, bool) {
	id, ok := ctx.Value(nodeKey{}).(core.NodeID)
	return id, ok
}

// ContextWithLogger attaches a logger to the context.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext returns the context logger, or slog.Default().
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
