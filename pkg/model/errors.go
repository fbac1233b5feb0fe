package model

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrInvalidInput is returned for empty or malformed user supplied text
	ErrInvalidInput = goerr.New("invalid input")

	// ErrNotFound is returned when a product has no indexed entry
	ErrNotFound = goerr.New("not found")

	// ErrUpstream marks a failure of the embedding provider, vector store or generation model
	ErrUpstream = goerr.New("upstream failure")

	// ErrDimensionMismatch is returned when a vector length differs from the index dimension.
	// It also matches ErrInvalidInput.
	ErrDimensionMismatch = goerr.New("vector dimension mismatch")

	// ErrSignatureVerification is returned by the webhook boundary for forged or malformed deliveries
	ErrSignatureVerification = goerr.New("signature verification failed")
)

// DimensionMismatch returns an error matching both ErrDimensionMismatch and ErrInvalidInput
func DimensionMismatch(want, got int) error {
	return goerr.Wrap(&classified{causes: []error{ErrDimensionMismatch, ErrInvalidInput}},
		"vector length does not match index dimension",
		goerr.V("want", want),
		goerr.V("got", got),
	)
}

// Upstream classifies err as an external collaborator failure. Both ErrUpstream
// and err stay reachable by errors.Is and errors.As.
func Upstream(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstream) {
		return err
	}
	return &classified{causes: []error{ErrUpstream, err}}
}

type classified struct {
	causes []error
}

func (x *classified) Error() string {
	if len(x.causes) == 1 {
		return x.causes[0].Error()
	}
	msg := x.causes[0].Error()
	for _, c := range x.causes[1:] {
		msg += ": " + c.Error()
	}
	return msg
}

func (x *classified) Unwrap() []error { return x.causes }
