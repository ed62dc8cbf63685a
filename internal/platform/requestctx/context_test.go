package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNop(t *testing.T) {
	ctx := context.Background()
	if HasLogger(ctx) {
		t.Fatal("expected no logger on a bare context")
	}
	if Logger(ctx) == nil {
		t.Fatal("expected a usable no-op logger")
	}

	logger := zap.NewExample()
	ctx = WithLogger(ctx, logger)
	if !HasLogger(ctx) || Logger(ctx) != logger {
		t.Fatal("expected attached logger")
	}
}

func TestTraceAndActorRoundTrip(t *testing.T) {
	ctx := WithTrace(context.Background(), Trace{TraceID: "abc", SpanID: "def"})
	if TraceID(ctx) != "abc" {
		t.Fatalf("unexpected trace id %q", TraceID(ctx))
	}

	if _, ok := ActorFrom(ctx); ok {
		t.Fatal("expected no actor")
	}
	ctx = WithActor(ctx, Actor{ID: "adm_1", Username: "owner", Kind: ActorAdmin})
	actor, ok := ActorFrom(ctx)
	if !ok || actor.Username != "owner" || actor.Kind != ActorAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}
	if _, ok := ActorFrom(WithActor(context.Background(), Actor{})); ok {
		t.Fatal("an actor without id is not authenticated")
	}
}
