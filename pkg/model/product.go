package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

type ProductID string

func (id ProductID) String() string { return string(id) }

// EventTypeProductCreated is the only event type that triggers ingestion
const EventTypeProductCreated = "product.created"

// Product is a catalog record delivered by the payment provider
type Product struct {
	ID          ProductID         `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description *string           `json:"description" yaml:"description"`
	Metadata    map[string]string `json:"metadata" yaml:"metadata"`
}

// DescriptionOrEmpty returns the description, or an empty string if the product has none
func (p *Product) DescriptionOrEmpty() string {
	if p.Description == nil {
		return ""
	}
	return *p.Description
}

// IsEmpty reports whether the product carries no text to embed
func (p *Product) IsEmpty() bool {
	if strings.TrimSpace(p.Name) != "" || strings.TrimSpace(p.DescriptionOrEmpty()) != "" {
		return false
	}
	for k, v := range p.Metadata {
		if strings.TrimSpace(k) != "" || strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Validate checks that the product can be ingested
func (p *Product) Validate() error {
	if p.ID == "" {
		return goerr.Wrap(ErrInvalidInput, "product id is empty")
	}
	if p.IsEmpty() {
		return goerr.Wrap(ErrInvalidInput, "product has no text", goerr.V("product_id", p.ID))
	}
	return nil
}

// Event is a delivery from the event source
type Event struct {
	ID      string
	Type    string
	Product *Product

	// Verified is set by the transport once the delivery signature was checked
	Verified bool
}

// EventArchiveKey returns the archive object key of an event received at ts
func EventArchiveKey(eventID string, ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("%04d/%02d/%02d/%s.json", ts.Year(), ts.Month(), ts.Day(), eventID)
}

// IngestDecision is the result of an ingestion policy for a product
type IngestDecision struct {
	// Deny holds reasons to skip the product. Empty means the product is accepted.
	Deny []string

	// DropMetadata lists metadata keys removed before indexing
	DropMetadata []string
}

func (x *IngestDecision) Denied() bool {
	return x != nil && len(x.Deny) > 0
}

// WithoutMetadata returns a copy of the product without the given metadata keys
func (p *Product) WithoutMetadata(keys ...string) *Product {
	if len(keys) == 0 || len(p.Metadata) == 0 {
		return p
	}

	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}

	copied := *p
	copied.Metadata = make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		if _, ok := drop[k]; !ok {
			copied.Metadata[k] = v
		}
	}
	return &copied
}
