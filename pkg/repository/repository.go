package repository

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/interfaces"
	"github.com/m-mizutani/wares/pkg/model"
)

var (
	_ interfaces.VectorIndex = (*Firestore)(nil)
	_ interfaces.VectorIndex = (*Qdrant)(nil)
	_ interfaces.VectorIndex = (*SQLite)(nil)
)

// validateEntry checks an entry before it is written to any backend
func validateEntry(entry *model.Entry, dimension int) error {
	if entry == nil {
		return goerr.Wrap(model.ErrInvalidInput, "entry is nil")
	}
	if entry.ID == "" {
		return goerr.Wrap(model.ErrInvalidInput, "entry id is empty")
	}
	if len(entry.Vector) != dimension {
		return goerr.Wrap(model.DimensionMismatch(dimension, len(entry.Vector)), "invalid entry vector", goerr.V("product_id", entry.ID))
	}
	return nil
}

func validateDimension(dimension int) error {
	if dimension <= 0 {
		return goerr.Wrap(model.ErrInvalidInput, "index dimension must be positive", goerr.V("dimension", dimension))
	}
	return nil
}

// validateStoredVector rejects a vector read back from a backend that does not
// fit the index. The fault lies in the store, not in the caller.
func validateStoredVector(id model.ProductID, vec []float32, dimension int) error {
	if len(vec) != dimension {
		return goerr.Wrap(model.ErrUpstream, "stored vector length does not match index dimension",
			goerr.V("product_id", id),
			goerr.V("want", dimension),
			goerr.V("got", len(vec)),
		)
	}
	return nil
}
