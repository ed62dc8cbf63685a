// Package requestctx carries request scoped values (logger, trace, actor) between middleware and handlers.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey struct{}
	traceKey  struct{}
	actorKey  struct{}
)

var nop = zap.NewNop()

// Trace is the trace correlation attached to a request.
type Trace struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// ActorKind distinguishes admin operators from service callers.
type ActorKind string

const (
	ActorAdmin   ActorKind = "admin"
	ActorService ActorKind = "service"
)

// Actor is the authenticated principal of a request.
type Actor struct {
	ID       string
	Username string
	Role     string
	Kind     ActorKind
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = nop
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the request logger, or a no-op logger when none was attached.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return nop
	}
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return nop
}

// HasLogger reports whether a request logger was attached.
func HasLogger(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	logger, ok := ctx.Value(loggerKey{}).(*zap.Logger)
	return ok && logger != nil && logger != nop
}

func WithTrace(ctx context.Context, trace Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, trace)
}

func TraceFrom(ctx context.Context) (Trace, bool) {
	if ctx == nil {
		return Trace{}, false
	}
	trace, ok := ctx.Value(traceKey{}).(Trace)
	return trace, ok
}

// TraceID returns the trace id of the request or an empty string.
func TraceID(ctx context.Context) string {
	trace, _ := TraceFrom(ctx)
	return trace.TraceID
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok && actor.ID != ""
}
