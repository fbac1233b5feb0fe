package model_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/wares/pkg/model"
)

func TestFilterMatch(t *testing.T) {
	meta := &model.EntryMetadata{
		Name:        "Widget",
		Description: "A widget",
		Attributes:  map[string]any{"color": "red", "stock": int64(3)},
	}

	testCases := []struct {
		name   string
		filter model.Filter
		meta   *model.EntryMetadata
		want   bool
	}{
		{"name equal", model.Filter{Field: "name", Op: model.FilterEqual, Value: "Widget"}, meta, true},
		{"name not equal", model.Filter{Field: "name", Op: model.FilterNotEqual, Value: "Widget"}, meta, false},
		{"description", model.Filter{Field: "description", Op: model.FilterEqual, Value: "A widget"}, meta, true},
		{"metadata key", model.Filter{Field: "metadata.color", Op: model.FilterEqual, Value: "red"}, meta, true},
		{"metadata number", model.Filter{Field: "metadata.stock", Op: model.FilterEqual, Value: "3"}, meta, true},
		{"missing key equal", model.Filter{Field: "metadata.size", Op: model.FilterEqual, Value: "L"}, meta, false},
		{"missing key not equal", model.Filter{Field: "metadata.size", Op: model.FilterNotEqual, Value: "L"}, meta, true},
		{"nil metadata equal", model.Filter{Field: "name", Op: model.FilterEqual, Value: "Widget"}, nil, false},
		{"nil metadata not equal", model.Filter{Field: "name", Op: model.FilterNotEqual, Value: "Widget"}, nil, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gt.Equal(t, tc.filter.Match(tc.meta), tc.want)
		})
	}
}

func TestFilterValidate(t *testing.T) {
	gt.NoError(t, model.Filter{Field: "name", Op: model.FilterEqual}.Validate())
	gt.NoError(t, model.Filter{Field: model.MetadataField("color"), Op: model.FilterNotEqual}.Validate())

	for _, f := range []model.Filter{
		{Field: "name", Op: ">"},
		{Field: "price", Op: model.FilterEqual},
		{Field: "metadata.", Op: model.FilterEqual},
	} {
		err := f.Validate()
		gt.True(t, errors.Is(err, model.ErrInvalidInput)).Describe(f.Field + " " + string(f.Op))
	}
}

func TestQueryInputValidate(t *testing.T) {
	q := &model.QueryInput{Vector: []float32{1, 2, 3}, TopK: 1}
	gt.NoError(t, q.Validate(3))

	err := q.Validate(4)
	gt.True(t, errors.Is(err, model.ErrDimensionMismatch))
	gt.True(t, errors.Is(err, model.ErrInvalidInput))

	q.TopK = 0
	gt.True(t, errors.Is(q.Validate(3), model.ErrInvalidInput))
}
