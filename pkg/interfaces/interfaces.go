package interfaces

import (
	"context"
	"io"

	"github.com/m-mizutani/wares/pkg/model"
	"google.golang.org/genai"
)

// VectorIndex stores product entries and answers nearest neighbour queries
type VectorIndex interface {
	// PutEntry inserts an entry. An entry with the same ID is overwritten.
	PutEntry(ctx context.Context, entry *model.Entry) error

	// GetEntry retrieves an entry by product ID. Returns model.ErrNotFound if absent.
	GetEntry(ctx context.Context, id model.ProductID) (*model.Entry, error)

	// Query returns at most TopK matches ordered by descending score
	Query(ctx context.Context, input *model.QueryInput) ([]*model.Match, error)

	// Dimension is the fixed vector length of the index
	Dimension() int
}

// Embedder converts text into a fixed length vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Generator produces a response from a prompt
type Generator interface {
	GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// EventArchive keeps raw event deliveries
type EventArchive interface {
	// Put returns a writer to save an event body under key
	Put(ctx context.Context, key string) (io.WriteCloser, error)
}

// IngestPolicy decides whether and how a product is indexed
type IngestPolicy interface {
	Evaluate(ctx context.Context, product *model.Product) (*model.IngestDecision, error)
}

// ProductUseCase is the product pipeline exposed to the HTTP and MCP surfaces
type ProductUseCase interface {
	HandleEvent(ctx context.Context, event *model.Event) error
	SimilarToProduct(ctx context.Context, id model.ProductID, k int, excludeSelf bool) ([]*model.Match, error)
	Lookup(ctx context.Context, id model.ProductID, k int) (*model.LookupResult, error)
	Answer(ctx context.Context, question string) (*model.AnswerResult, error)
}
