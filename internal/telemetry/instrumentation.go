package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CARDINALITY:
//
// Span and metric attributes stay bounded. Pointer ids, URLs, file paths and error
// messages go to logs and span status, never to attributes. Safe attributes are
// operation names, terminal states, verification reasons and status classes.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span tagged with the component and operation.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()

	ctx, span := t.tracer.Start(ctx, operationName)
	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(ctx, operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentFetchOperation instruments outbound requests to media hosts.
func (t *Telemetry) InstrumentFetchOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "fetch_"+operation, "fetcher", fn)

	t.RecordFetchOperation(ctx, operation, statusOf(err))

	return err
}

// InstrumentDownload instruments one transfer from start to terminal state. fn returns
// the terminal state name; anything other than "completed" marks the span as failed.
func (t *Telemetry) InstrumentDownload(ctx context.Context, fn func(ctx context.Context) string) string {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveDownloads(ctx)
	defer t.DecrementActiveDownloads(ctx)

	ctx, span := t.tracer.Start(ctx, "download")
	defer span.End()

	span.SetAttributes(attribute.String("component", "downloader"))

	state := fn(ctx)

	span.SetAttributes(attribute.String("download.state", state))

	if state != "completed" {
		span.SetStatus(codes.Error, state)
	}

	t.RecordDownload(ctx, state, time.Since(start))

	return state
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
