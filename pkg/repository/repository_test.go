package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/wares/pkg/interfaces"
	"github.com/m-mizutani/wares/pkg/model"
)

type vectorIndex = interfaces.VectorIndex

// testVectorIndex runs the common behavior checks on a backend. Query checks
// filter on a per-run tag so that shared remote stores do not interfere.
func testVectorIndex(t *testing.T, setup func(t *testing.T) vectorIndex) {
	newEntry := func(name string, vec []float32, attrs map[string]any) *model.Entry {
		all := map[string]any{}
		for k, v := range attrs {
			all[k] = v
		}
		return &model.Entry{
			ID:     model.ProductID("prod_" + uuid.NewString()),
			Vector: vec,
			Metadata: &model.EntryMetadata{
				Name:        name,
				Description: "description of " + name,
				Attributes:  all,
			},
		}
	}

	t.Run("put and get", func(t *testing.T) {
		idx := setup(t)
		ctx := context.Background()

		entry := newEntry("Widget", []float32{1, 0, 0}, map[string]any{"color": "red"})
		gt.NoError(t, idx.PutEntry(ctx, entry))

		got, err := idx.GetEntry(ctx, entry.ID)
		gt.NoError(t, err)
		gt.Equal(t, got.ID, entry.ID)
		gt.A(t, got.Vector).Length(3)
		gt.V(t, got.Metadata).NotNil()
		gt.Equal(t, got.Metadata.Name, "Widget")
		gt.Equal(t, got.Metadata.Description, "description of Widget")
		gt.Equal(t, got.Metadata.Attributes["color"], any("red"))
	})

	t.Run("put overwrites entry with same id", func(t *testing.T) {
		idx := setup(t)
		ctx := context.Background()

		entry := newEntry("Old", []float32{1, 0, 0}, nil)
		gt.NoError(t, idx.PutEntry(ctx, entry))

		entry.Metadata.Name = "New"
		entry.Vector = []float32{0, 1, 0}
		gt.NoError(t, idx.PutEntry(ctx, entry))

		got, err := idx.GetEntry(ctx, entry.ID)
		gt.NoError(t, err)
		gt.Equal(t, got.Metadata.Name, "New")
		gt.Equal(t, got.Vector[1], float32(1))
	})

	t.Run("get unknown entry", func(t *testing.T) {
		idx := setup(t)

		_, err := idx.GetEntry(context.Background(), model.ProductID("prod_"+uuid.NewString()))
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrNotFound))
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		idx := setup(t)
		ctx := context.Background()

		err := idx.PutEntry(ctx, newEntry("Short", []float32{1, 0}, nil))
		gt.True(t, errors.Is(err, model.ErrDimensionMismatch))
		gt.True(t, errors.Is(err, model.ErrInvalidInput))

		_, err = idx.Query(ctx, &model.QueryInput{Vector: []float32{1, 0, 0, 0}, TopK: 1})
		gt.True(t, errors.Is(err, model.ErrDimensionMismatch))

		_, err = idx.Query(ctx, &model.QueryInput{Vector: []float32{}, TopK: 1})
		gt.True(t, errors.Is(err, model.ErrDimensionMismatch))
	})

	t.Run("query orders by similarity and applies filters", func(t *testing.T) {
		idx := setup(t)
		ctx := context.Background()

		run := uuid.NewString()
		runFilter := model.Filter{Field: model.MetadataField("run"), Op: model.FilterEqual, Value: run}

		near := newEntry("Near", []float32{1, 0, 0}, map[string]any{"color": "red", "run": run})
		mid := newEntry("Mid", []float32{1, 1, 0}, map[string]any{"color": "blue", "run": run})
		far := newEntry("Far", []float32{0, 0, 1}, map[string]any{"color": "red", "run": run})
		for _, e := range []*model.Entry{far, mid, near} {
			gt.NoError(t, idx.PutEntry(ctx, e))
		}

		matches, err := idx.Query(ctx, &model.QueryInput{
			Vector:       []float32{1, 0, 0},
			TopK:         3,
			Filters:      []model.Filter{runFilter},
			WithMetadata: true,
		})
		gt.NoError(t, err)
		gt.A(t, matches).Length(3)
		gt.Equal(t, matches[0].ID, near.ID)
		gt.Equal(t, matches[1].ID, mid.ID)
		gt.Equal(t, matches[2].ID, far.ID)
		for i := 1; i < len(matches); i++ {
			gt.True(t, matches[i-1].Score >= matches[i].Score).Describe("scores must be descending")
		}
		gt.Equal(t, matches[0].Metadata.Name, "Near")

		matches, err = idx.Query(ctx, &model.QueryInput{
			Vector: []float32{1, 0, 0},
			TopK:   3,
			Filters: []model.Filter{
				runFilter,
				{Field: model.FieldName, Op: model.FilterNotEqual, Value: "Near"},
				{Field: model.MetadataField("color"), Op: model.FilterEqual, Value: "red"},
			},
		})
		gt.NoError(t, err)
		gt.A(t, matches).Length(1)
		gt.Equal(t, matches[0].ID, far.ID)
		gt.Nil(t, matches[0].Metadata)

		matches, err = idx.Query(ctx, &model.QueryInput{
			Vector:  []float32{1, 0, 0},
			TopK:    1,
			Filters: []model.Filter{runFilter},
		})
		gt.NoError(t, err)
		gt.A(t, matches).Length(1)
		gt.Equal(t, matches[0].ID, near.ID)
	})

	t.Run("query rejects non positive topK", func(t *testing.T) {
		idx := setup(t)

		_, err := idx.Query(context.Background(), &model.QueryInput{Vector: []float32{1, 0, 0}, TopK: 0})
		gt.True(t, errors.Is(err, model.ErrInvalidInput))
	})
}
