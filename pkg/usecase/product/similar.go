package product

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SimilarToProduct returns up to k entries nearest to the stored vector of
// product id, in index order. With excludeSelf, entries with the same name
// as the source are filtered out, which also drops other products sharing it.
func (u *UseCase) SimilarToProduct(ctx context.Context, id model.ProductID, k int, excludeSelf bool) (matches []*model.Match, err error) {
	ctx, span := startSpan(ctx, "product.SimilarToProduct", trace.WithAttributes(
		attribute.String("product.id", id.String()),
		attribute.Int("top_k", k),
		attribute.Bool("exclude_self", excludeSelf),
	))
	defer func() { endSpan(span, err) }()

	if id == "" {
		return nil, goerr.Wrap(model.ErrInvalidInput, "product id is empty")
	}
	if k <= 0 {
		return nil, goerr.Wrap(model.ErrInvalidInput, "k must be positive", goerr.V("k", k))
	}

	entry, err := u.index.GetEntry(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get source entry", goerr.V("product_id", id))
	}

	return u.similarToEntry(ctx, entry, k, excludeSelf)
}

func (u *UseCase) similarToEntry(ctx context.Context, entry *model.Entry, k int, excludeSelf bool) ([]*model.Match, error) {
	input := &model.QueryInput{
		Vector:       entry.Vector,
		TopK:         k,
		WithMetadata: true,
	}
	if excludeSelf && entry.Metadata != nil {
		input.Filters = append(input.Filters, model.Filter{
			Field: model.FieldName,
			Op:    model.FilterNotEqual,
			Value: entry.Metadata.Name,
		})
	}

	matches, err := u.query(ctx, input)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query similar entries", goerr.V("product_id", entry.ID))
	}
	return matches, nil
}

// SimilarToText embeds text as a query and returns up to k nearest entries in index order
func (u *UseCase) SimilarToText(ctx context.Context, text string, k int) (matches []*model.Match, err error) {
	ctx, span := startSpan(ctx, "product.SimilarToText", trace.WithAttributes(attribute.Int("top_k", k)))
	defer func() { endSpan(span, err) }()

	if k <= 0 {
		return nil, goerr.Wrap(model.ErrInvalidInput, "k must be positive", goerr.V("k", k))
	}

	vector, err := u.embed(ctx, u.queryEmbedder, text)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query")
	}

	matches, err = u.query(ctx, &model.QueryInput{
		Vector:       vector,
		TopK:         k,
		WithMetadata: true,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query similar entries")
	}
	return matches, nil
}

// Lookup returns the stored fields of product id together with its k most
// similar products, excluding those with the same name.
func (u *UseCase) Lookup(ctx context.Context, id model.ProductID, k int) (result *model.LookupResult, err error) {
	ctx, span := startSpan(ctx, "product.Lookup", trace.WithAttributes(attribute.String("product.id", id.String())))
	defer func() { endSpan(span, err) }()

	if id == "" {
		return nil, goerr.Wrap(model.ErrInvalidInput, "product id is empty")
	}
	if k <= 0 {
		return nil, goerr.Wrap(model.ErrInvalidInput, "k must be positive", goerr.V("k", k))
	}

	entry, err := u.index.GetEntry(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get product entry", goerr.V("product_id", id))
	}

	matches, err := u.similarToEntry(ctx, entry, k, true)
	if err != nil {
		return nil, err
	}

	return &model.LookupResult{
		ID:      entry.ID,
		Product: entry.Metadata,
		Similar: matches,
	}, nil
}

func (u *UseCase) query(ctx context.Context, input *model.QueryInput) (matches []*model.Match, err error) {
	ctx, span := startSpan(ctx, "product.Query", trace.WithAttributes(
		attribute.Int("top_k", input.TopK),
		attribute.Int("filters", len(input.Filters)),
	))
	defer func() { endSpan(span, err) }()

	matches, err = u.index.Query(ctx, input)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("matches", len(matches)))
	return matches, nil
}
