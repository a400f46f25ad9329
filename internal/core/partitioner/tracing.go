package partitioner

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/markdave123-py/Structa/internal/models"
)

const instrumentationName = "github.com/markdave123-py/Structa/partitioner"

type tracedPartitioner struct {
	name     string
	tracer   trace.Tracer
	provider Partitioner
}

// NewTraced wraps p so every call runs in its own span. Spans go to the
// global tracer provider unless tp is given.
func NewTraced(name string, p Partitioner, tp ...trace.TracerProvider) Partitioner {
	var provider trace.TracerProvider = otel.GetTracerProvider()
	if len(tp) > 0 && tp[0] != nil {
		provider = tp[0]
	}

	return &tracedPartitioner{
		name:     name,
		tracer:   provider.Tracer(instrumentationName),
		provider: p,
	}
}

func (p *tracedPartitioner) Partition(ctx context.Context, req *Request) ([]models.Element, error) {
	ctx, span := p.tracer.Start(ctx, "partition "+p.name)
	defer span.End()

	span.SetAttributes(
		attribute.String("document.name", req.FileName),
		attribute.Int("document.size", len(req.Content)),
		attribute.String("partition.strategy", req.Value(FieldStrategy)),
		attribute.String("partition.chunking_strategy", req.Value(FieldChunkingStrategy)),
	)

	elements, err := p.provider.Partition(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("partition.elements", len(elements)))
	return elements, nil
}
