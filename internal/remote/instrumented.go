package remote

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/domain/medication"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/observability"
)

const tracerName = "github.com/dinakaranthiru/meds-buddy-check-tracker/internal/remote"

// instrumentedStore records metrics and spans around every remote call.
type instrumentedStore struct {
	inner   Store
	metrics *observability.Collector
	tracer  trace.Tracer
}

// Instrument wraps inner with Prometheus metrics and OpenTelemetry spans.
// Spans go to the global tracer provider.
func Instrument(inner Store, metrics *observability.Collector) Store {
	return &instrumentedStore{
		inner:   inner,
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

func (s *instrumentedStore) ListByOwner(ctx context.Context, kind, ownerID string) ([]medication.Record, error) {
	ctx, span := s.start(ctx, OpListByOwner, kind, ownerID)
	defer span.End()

	start := time.Now()
	records, err := s.inner.ListByOwner(ctx, kind, ownerID)
	s.metrics.RecordRemote(OpListByOwner, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("records.count", len(records)))
	return records, nil
}

func (s *instrumentedStore) Insert(ctx context.Context, kind, ownerID string, fields medication.Fields) (medication.Record, error) {
	ctx, span := s.start(ctx, OpInsert, kind, ownerID)
	defer span.End()

	start := time.Now()
	rec, err := s.inner.Insert(ctx, kind, ownerID, fields)
	s.metrics.RecordRemote(OpInsert, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return medication.Record{}, err
	}
	span.SetAttributes(attribute.String("record.id", rec.ID))
	return rec, nil
}

func (s *instrumentedStore) start(ctx context.Context, op, kind, ownerID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "remote."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("record.kind", kind),
			attribute.String("owner.id", ownerID),
		),
	)
}
