package product

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/interfaces"
	"github.com/m-mizutani/wares/pkg/model"
	"github.com/m-mizutani/wares/pkg/utils/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HandleEvent ingests the product of a verified creation event. Other events
// and products denied by the ingest policy are logged and ignored.
func (u *UseCase) HandleEvent(ctx context.Context, event *model.Event) error {
	if event == nil {
		return goerr.Wrap(model.ErrInvalidInput, "event is nil")
	}

	logger := logging.From(ctx).With("event_id", event.ID, "event_type", event.Type)

	switch {
	case !event.Verified:
		logger.Warn("ignore event", "reason", "unverified")
		return nil
	case event.Type != model.EventTypeProductCreated:
		logger.Info("ignore event", "reason", "not a creation event")
		return nil
	case event.Product == nil:
		logger.Warn("ignore event", "reason", "no product in event")
		return nil
	}

	product := event.Product
	if u.policy != nil {
		decision, err := u.policy.Evaluate(ctx, product)
		if err != nil {
			return goerr.Wrap(err, "failed to evaluate ingest policy", goerr.V("event_id", event.ID), goerr.V("product_id", product.ID))
		}
		if decision.Denied() {
			logger.Info("ignore event", "reason", "denied by policy", "product_id", product.ID, "deny", decision.Deny)
			return nil
		}
		if decision != nil {
			product = product.WithoutMetadata(decision.DropMetadata...)
		}
	}

	if err := u.Ingest(ctx, product); err != nil {
		return goerr.Wrap(err, "failed to ingest product", goerr.V("event_id", event.ID))
	}
	return nil
}

// Ingest normalizes, embeds and indexes a product. A failure at any step
// aborts without writing to the index.
func (u *UseCase) Ingest(ctx context.Context, p *model.Product) (err error) {
	if p == nil {
		return goerr.Wrap(model.ErrInvalidInput, "product is nil")
	}

	ctx, span := startSpan(ctx, "product.Ingest", trace.WithAttributes(attribute.String("product.id", p.ID.String())))
	defer func() { endSpan(span, err) }()

	if err := p.Validate(); err != nil {
		return err
	}

	text := Normalize(p)

	vector, err := u.embed(ctx, u.embedder, text)
	if err != nil {
		return goerr.Wrap(err, "failed to embed product", goerr.V("product_id", p.ID))
	}
	if len(vector) == 0 {
		return goerr.Wrap(model.ErrUpstream, "embedder returned empty vector", goerr.V("product_id", p.ID))
	}

	entry := &model.Entry{
		ID:       p.ID,
		Vector:   vector,
		Metadata: model.NewEntryMetadata(p),
	}

	if err := u.put(ctx, entry); err != nil {
		return goerr.Wrap(err, "failed to index product", goerr.V("product_id", p.ID))
	}

	logging.From(ctx).Info("product indexed", "product_id", p.ID, "dimension", len(vector))
	return nil
}

func (u *UseCase) embed(ctx context.Context, embedder interfaces.Embedder, text string) (vec []float32, err error) {
	ctx, span := startSpan(ctx, "product.Embed", trace.WithAttributes(attribute.Int("text.length", len(text))))
	defer func() { endSpan(span, err) }()

	return embedder.Embed(ctx, text)
}

func (u *UseCase) put(ctx context.Context, entry *model.Entry) (err error) {
	ctx, span := startSpan(ctx, "product.PutEntry")
	defer func() { endSpan(span, err) }()

	return u.index.PutEntry(ctx, entry)
}
