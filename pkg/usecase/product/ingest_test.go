package product_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/wares/pkg/model"
	"github.com/m-mizutani/wares/pkg/usecase/product"
)

func TestIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("indexes normalized product", func(t *testing.T) {
		index := newMockIndex()
		embedder := &mockEmbedder{}
		uc := product.New(index, embedder, &mockGenerator{})

		gt.NoError(t, uc.Ingest(ctx, widget()))

		gt.A(t, embedder.texts).Length(1)
		gt.S(t, embedder.texts[0]).Contains("- color: red")

		entry, ok := index.entries["p1"]
		gt.True(t, ok)
		gt.Equal(t, entry.Vector, []float32{1, 0, 0})
		gt.Equal(t, entry.Metadata.Name, "Widget")
		gt.Equal(t, entry.Metadata.Description, "A widget")
		gt.Equal(t, entry.Metadata.Attributes["color"], any("red"))
	})

	t.Run("missing description is stored as empty string", func(t *testing.T) {
		index := newMockIndex()
		uc := product.New(index, &mockEmbedder{}, &mockGenerator{})

		gt.NoError(t, uc.Ingest(ctx, &model.Product{ID: "p2", Name: "Gadget"}))
		gt.Equal(t, index.entries["p2"].Metadata.Description, "")
	})

	t.Run("embed failure aborts before indexing", func(t *testing.T) {
		index := newMockIndex()
		embedder := &mockEmbedder{
			embedFunc: func(ctx context.Context, text string) ([]float32, error) {
				return nil, model.Upstream(errors.New("quota exceeded"))
			},
		}
		uc := product.New(index, embedder, &mockGenerator{})

		err := uc.Ingest(ctx, widget())
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrUpstream))
		gt.Equal(t, index.putCalls, 0)
	})

	t.Run("empty vector is never indexed", func(t *testing.T) {
		index := newMockIndex()
		embedder := &mockEmbedder{
			embedFunc: func(ctx context.Context, text string) ([]float32, error) {
				return []float32{}, nil
			},
		}
		uc := product.New(index, embedder, &mockGenerator{})

		err := uc.Ingest(ctx, widget())
		gt.True(t, errors.Is(err, model.ErrUpstream))
		gt.Equal(t, index.putCalls, 0)
	})

	t.Run("index failure is returned", func(t *testing.T) {
		index := newMockIndex()
		index.putErr = model.Upstream(errors.New("unavailable"))
		uc := product.New(index, &mockEmbedder{}, &mockGenerator{})

		err := uc.Ingest(ctx, widget())
		gt.True(t, errors.Is(err, model.ErrUpstream))
	})

	t.Run("invalid products", func(t *testing.T) {
		testCases := map[string]*model.Product{
			"no id":   {Name: "Widget"},
			"no text": {ID: "p9", Description: ptr("  "), Metadata: map[string]string{}},
		}
		for name, p := range testCases {
			t.Run(name, func(t *testing.T) {
				index := newMockIndex()
				embedder := &mockEmbedder{}
				uc := product.New(index, embedder, &mockGenerator{})

				err := uc.Ingest(ctx, p)
				gt.True(t, errors.Is(err, model.ErrInvalidInput))
				gt.Equal(t, embedder.calls, 0)
				gt.Equal(t, index.putCalls, 0)
			})
		}
	})
}

func TestHandleEvent(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name    string
		event   *model.Event
		indexed bool
	}{
		{
			name:    "verified creation event",
			event:   &model.Event{ID: "evt_1", Type: model.EventTypeProductCreated, Product: widget(), Verified: true},
			indexed: true,
		},
		{
			name:  "other event type",
			event: &model.Event{ID: "evt_2", Type: "product.updated", Product: widget(), Verified: true},
		},
		{
			name:  "unverified creation event",
			event: &model.Event{ID: "evt_3", Type: model.EventTypeProductCreated, Product: widget()},
		},
		{
			name:  "creation event without product",
			event: &model.Event{ID: "evt_4", Type: model.EventTypeProductCreated, Verified: true},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			index := newMockIndex()
			embedder := &mockEmbedder{}
			uc := product.New(index, embedder, &mockGenerator{})

			gt.NoError(t, uc.HandleEvent(ctx, tc.event))
			if tc.indexed {
				gt.Equal(t, index.putCalls, 1)
				gt.Equal(t, embedder.calls, 1)
			} else {
				gt.Equal(t, index.putCalls, 0)
				gt.Equal(t, embedder.calls, 0)
			}
		})
	}

	t.Run("ingest failure is returned", func(t *testing.T) {
		index := newMockIndex()
		index.putErr = model.Upstream(errors.New("unavailable"))
		uc := product.New(index, &mockEmbedder{}, &mockGenerator{})

		err := uc.HandleEvent(ctx, &model.Event{ID: "evt_5", Type: model.EventTypeProductCreated, Product: widget(), Verified: true})
		gt.True(t, errors.Is(err, model.ErrUpstream))
	})
}

func TestHandleEventWithPolicy(t *testing.T) {
	ctx := context.Background()
	event := func() *model.Event {
		return &model.Event{ID: "evt_1", Type: model.EventTypeProductCreated, Product: widget(), Verified: true}
	}

	t.Run("denied product is not indexed", func(t *testing.T) {
		index := newMockIndex()
		embedder := &mockEmbedder{}
		policy := &mockPolicy{
			evaluateFunc: func(ctx context.Context, p *model.Product) (*model.IngestDecision, error) {
				return &model.IngestDecision{Deny: []string{"archived"}}, nil
			},
		}
		uc := product.New(index, embedder, &mockGenerator{}, product.WithIngestPolicy(policy))

		gt.NoError(t, uc.HandleEvent(ctx, event()))
		gt.Equal(t, index.putCalls, 0)
		gt.Equal(t, embedder.calls, 0)
	})

	t.Run("dropped metadata is neither embedded nor stored", func(t *testing.T) {
		index := newMockIndex()
		embedder := &mockEmbedder{}
		policy := &mockPolicy{
			evaluateFunc: func(ctx context.Context, p *model.Product) (*model.IngestDecision, error) {
				return &model.IngestDecision{DropMetadata: []string{"color"}}, nil
			},
		}
		uc := product.New(index, embedder, &mockGenerator{}, product.WithIngestPolicy(policy))

		src := event()
		gt.NoError(t, uc.HandleEvent(ctx, src))
		gt.Equal(t, index.putCalls, 1)
		gt.S(t, embedder.texts[0]).NotContains("color")
		_, ok := index.entries["p1"].Metadata.Attributes["color"]
		gt.False(t, ok)

		// the event itself is left untouched
		gt.Equal(t, src.Product.Metadata["color"], "red")
	})

	t.Run("policy failure is returned", func(t *testing.T) {
		index := newMockIndex()
		policy := &mockPolicy{
			evaluateFunc: func(ctx context.Context, p *model.Product) (*model.IngestDecision, error) {
				return nil, errors.New("rego error")
			},
		}
		uc := product.New(index, &mockEmbedder{}, &mockGenerator{}, product.WithIngestPolicy(policy))

		gt.Error(t, uc.HandleEvent(ctx, event()))
		gt.Equal(t, index.putCalls, 0)
	})
}
