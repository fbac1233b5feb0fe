package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	firestoreVectorField   = "embedding"
	firestoreDistanceField = "vector_distance"
)

// Firestore implements interfaces.VectorIndex with Firestore vector search.
// A vector index on the embedding field is required for each dimension.
type Firestore struct {
	client     *firestore.Client
	collection string
	dimension  int
}

type FirestoreOption func(*Firestore)

// WithCollection sets the collection name. Default is "products".
func WithCollection(name string) FirestoreOption {
	return func(f *Firestore) {
		f.collection = name
	}
}

// firestoreEntry is the document layout. Metadata fields are nil for entries stored without metadata.
type firestoreEntry struct {
	ID          string             `firestore:"id"`
	Embedding   firestore.Vector32 `firestore:"embedding"`
	Name        *string            `firestore:"name,omitempty"`
	Description *string            `firestore:"description,omitempty"`
	Metadata    map[string]any     `firestore:"metadata,omitempty"`
	Distance    *float64           `firestore:"vector_distance,omitempty"`
}

func NewFirestore(ctx context.Context, projectID, databaseID string, dimension int, opts ...FirestoreOption) (*Firestore, error) {
	if err := validateDimension(dimension); err != nil {
		return nil, err
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}

	f := &Firestore{
		client:     client,
		collection: "products",
		dimension:  dimension,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) Dimension() int {
	return f.dimension
}

func (f *Firestore) PutEntry(ctx context.Context, entry *model.Entry) error {
	if err := validateEntry(entry, f.dimension); err != nil {
		return err
	}

	doc := &firestoreEntry{
		ID:        entry.ID.String(),
		Embedding: firestore.Vector32(entry.Vector),
	}
	if m := entry.Metadata; m != nil {
		doc.Name = &m.Name
		doc.Description = &m.Description
		doc.Metadata = m.Attributes
		if doc.Metadata == nil {
			doc.Metadata = map[string]any{}
		}
	}

	if _, err := f.client.Collection(f.collection).Doc(entry.ID.String()).Set(ctx, doc); err != nil {
		return goerr.Wrap(model.Upstream(err), "failed to put entry", goerr.V("product_id", entry.ID))
	}
	return nil
}

func (f *Firestore) GetEntry(ctx context.Context, id model.ProductID) (*model.Entry, error) {
	snap, err := f.client.Collection(f.collection).Doc(id.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "entry not found", goerr.V("product_id", id))
		}
		return nil, goerr.Wrap(model.Upstream(err), "failed to get entry", goerr.V("product_id", id))
	}

	var doc firestoreEntry
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(model.Upstream(err), "failed to decode entry", goerr.V("product_id", id))
	}

	vec := []float32(doc.Embedding)
	if err := validateStoredVector(id, vec, f.dimension); err != nil {
		return nil, err
	}

	return &model.Entry{
		ID:       id,
		Vector:   vec,
		Metadata: doc.metadata(),
	}, nil
}

func (f *Firestore) Query(ctx context.Context, input *model.QueryInput) ([]*model.Match, error) {
	if input == nil {
		return nil, goerr.Wrap(model.ErrInvalidInput, "query input is nil")
	}
	if err := input.Validate(f.dimension); err != nil {
		return nil, err
	}

	q := f.client.Collection(f.collection).Query
	for _, filter := range input.Filters {
		q = q.Where(filter.Field, string(filter.Op), filter.Value)
	}

	vq := q.FindNearest(firestoreVectorField,
		firestore.Vector32(input.Vector),
		input.TopK,
		firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{
			DistanceResultField: firestoreDistanceField,
		},
	)

	docs, err := vq.Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(model.Upstream(err), "failed to query entries", goerr.V("top_k", input.TopK))
	}

	matches := make([]*model.Match, 0, len(docs))
	for _, snap := range docs {
		var doc firestoreEntry
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(model.Upstream(err), "failed to decode entry", goerr.V("doc_id", snap.Ref.ID))
		}

		match := &model.Match{
			ID: model.ProductID(snap.Ref.ID),
		}
		if doc.Distance != nil {
			match.Score = 1 - *doc.Distance
		}
		if input.WithMetadata {
			match.Metadata = doc.metadata()
		}
		matches = append(matches, match)
	}

	return matches, nil
}

func (x *firestoreEntry) metadata() *model.EntryMetadata {
	if x.Name == nil {
		return nil
	}
	m := &model.EntryMetadata{
		Name:       *x.Name,
		Attributes: x.Metadata,
	}
	if x.Description != nil {
		m.Description = *x.Description
	}
	return m
}
