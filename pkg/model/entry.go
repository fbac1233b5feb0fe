package model

import (
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Entry is the persisted unit of the vector index
type Entry struct {
	ID       ProductID
	Vector   []float32
	Metadata *EntryMetadata
}

// EntryMetadata is a denormalized, queryable copy of product fields
type EntryMetadata struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Attributes  map[string]any `json:"metadata,omitempty"`
}

// NewEntryMetadata copies name, description and product metadata
func NewEntryMetadata(p *Product) *EntryMetadata {
	attrs := make(map[string]any, len(p.Metadata))
	for k, v := range p.Metadata {
		attrs[k] = v
	}
	return &EntryMetadata{
		Name:        p.Name,
		Description: p.DescriptionOrEmpty(),
		Attributes:  attrs,
	}
}

// Lookup returns the value of a filterable field path: "name", "description" or "metadata.<key>"
func (m *EntryMetadata) Lookup(field string) (any, bool) {
	switch field {
	case FieldName:
		return m.Name, true
	case FieldDescription:
		return m.Description, true
	}
	if key, ok := strings.CutPrefix(field, fieldMetadataPrefix); ok {
		v, found := m.Attributes[key]
		return v, found
	}
	return nil, false
}

const (
	FieldName           = "name"
	FieldDescription    = "description"
	fieldMetadataPrefix = "metadata."
)

// MetadataField returns the filter field path of a product metadata key
func MetadataField(key string) string {
	return fieldMetadataPrefix + key
}

type FilterOp string

const (
	FilterEqual    FilterOp = "=="
	FilterNotEqual FilterOp = "!="
)

// Filter is an equality or inequality predicate on a scalar metadata field
type Filter struct {
	Field string
	Op    FilterOp
	Value string
}

// Validate checks the field path and operator
func (f Filter) Validate() error {
	switch f.Op {
	case FilterEqual, FilterNotEqual:
	default:
		return goerr.Wrap(ErrInvalidInput, "unsupported filter operator", goerr.V("op", f.Op))
	}

	switch {
	case f.Field == FieldName, f.Field == FieldDescription:
	case strings.HasPrefix(f.Field, fieldMetadataPrefix) && len(f.Field) > len(fieldMetadataPrefix):
	default:
		return goerr.Wrap(ErrInvalidInput, "unsupported filter field", goerr.V("field", f.Field))
	}
	return nil
}

// Match evaluates the filter against metadata. A missing field never equals a value.
func (f Filter) Match(m *EntryMetadata) bool {
	if m == nil {
		return f.Op == FilterNotEqual
	}
	v, ok := m.Lookup(f.Field)
	equal := ok && fmt.Sprint(v) == f.Value
	if f.Op == FilterNotEqual {
		return !equal
	}
	return equal
}

// QueryInput is a similarity query against the vector index
type QueryInput struct {
	Vector       []float32
	TopK         int
	Filters      []Filter
	WithMetadata bool
}

// Validate checks TopK, filters and the vector length against the index dimension
func (q *QueryInput) Validate(dimension int) error {
	if q.TopK <= 0 {
		return goerr.Wrap(ErrInvalidInput, "topK must be positive", goerr.V("top_k", q.TopK))
	}
	if len(q.Vector) != dimension {
		return DimensionMismatch(dimension, len(q.Vector))
	}
	for _, f := range q.Filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MatchAll reports whether metadata satisfies all filters
func (q *QueryInput) MatchAll(m *EntryMetadata) bool {
	for _, f := range q.Filters {
		if !f.Match(m) {
			return false
		}
	}
	return true
}

// Match is a result of a similarity query. Score is cosine similarity, higher
// is more similar, and indexes return matches in descending score order.
// Metadata is nil when it was not requested or the store has none.
type Match struct {
	ID       ProductID      `json:"id"`
	Score    float64        `json:"score"`
	Metadata *EntryMetadata `json:"metadata,omitempty"`
}
