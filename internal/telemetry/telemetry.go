// Package telemetry defines small logging/metrics/tracing ports so internal
// packages never import a concrete observability backend directly.
package telemetry

import (
	"context"
	"time"
)

type (
	// Logger emits structured log lines. Implementations must be safe for
	// concurrent use; every thread subprocess and the orchestrator log through
	// the same interface.
	Logger interface {
		Debug(ctx context.Context, msg string, kv ...any)
		Info(ctx context.Context, msg string, kv ...any)
		Warn(ctx context.Context, msg string, kv ...any)
		Error(ctx context.Context, msg string, kv ...any)
	}

	// Metrics records counters and timers. Label pairs are passed as
	// alternating key/value strings, matching the teacher's convention.
	Metrics interface {
		IncCounter(name string, value float64, labels ...string)
		RecordTimer(name string, d time.Duration, labels ...string)
	}

	// Tracer creates spans around resolver lookups, chain dispatch, and
	// harness turns.
	Tracer interface {
		Start(ctx context.Context, name string) (context.Context, Span)
	}

	// Span is a single traced operation.
	Span interface {
		End()
		SetError(err error)
		SetAttr(key string, value any)
	}
)
