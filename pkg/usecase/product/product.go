package product

import (
	"context"

	"github.com/m-mizutani/wares/pkg/interfaces"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// answerTopK is the number of products given to the generation model as context
const answerTopK = 3

var tracer = otel.Tracer("github.com/m-mizutani/wares/pkg/usecase/product")

var _ interfaces.ProductUseCase = (*UseCase)(nil)

// UseCase provides ingestion, retrieval and generation over the product index
type UseCase struct {
	index         interfaces.VectorIndex
	embedder      interfaces.Embedder
	queryEmbedder interfaces.Embedder
	generator     interfaces.Generator
	policy        interfaces.IngestPolicy
	answerTopK    int
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithQueryEmbedder sets the embedder for query text. Default is the document embedder.
func WithQueryEmbedder(e interfaces.Embedder) Option {
	return func(uc *UseCase) {
		uc.queryEmbedder = e
	}
}

// WithIngestPolicy sets a policy evaluated for each product before indexing
func WithIngestPolicy(p interfaces.IngestPolicy) Option {
	return func(uc *UseCase) {
		uc.policy = p
	}
}

// WithAnswerTopK sets the number of retrieved products used to answer a question
func WithAnswerTopK(k int) Option {
	return func(uc *UseCase) {
		uc.answerTopK = k
	}
}

// New creates a new product UseCase instance
func New(
	index interfaces.VectorIndex,
	embedder interfaces.Embedder,
	generator interfaces.Generator,
	opts ...Option,
) *UseCase {
	uc := &UseCase{
		index:      index,
		embedder:   embedder,
		generator:  generator,
		answerTopK: answerTopK,
	}

	for _, opt := range opts {
		opt(uc)
	}
	if uc.queryEmbedder == nil {
		uc.queryEmbedder = embedder
	}

	return uc
}

func startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, opts...)
}

// endSpan records err on the span and ends it
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
