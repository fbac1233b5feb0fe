package repository

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/model"
	"github.com/qdrant/go-client/qdrant"
)

const (
	qdrantDefaultPort = 6334

	qdrantFieldID          = "id"
	qdrantFieldName        = "name"
	qdrantFieldDescription = "description"
	qdrantFieldMetadata    = "metadata"
)

// productNamespace derives stable point IDs from product IDs
var productNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/m-mizutani/wares/products"))

// Qdrant implements interfaces.VectorIndex on a Qdrant collection with cosine distance
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

type QdrantOption func(*qdrantConfig)

type qdrantConfig struct {
	apiKey     string
	useTLS     bool
	collection string
}

func WithQdrantAPIKey(key string) QdrantOption {
	return func(c *qdrantConfig) {
		c.apiKey = key
	}
}

func WithQdrantTLS(enabled bool) QdrantOption {
	return func(c *qdrantConfig) {
		c.useTLS = enabled
	}
}

// WithQdrantCollection sets the collection name. Default is "products".
func WithQdrantCollection(name string) QdrantOption {
	return func(c *qdrantConfig) {
		c.collection = name
	}
}

// NewQdrant connects to the gRPC endpoint at addr ("host" or "host:port") and
// creates the collection if it does not exist.
func NewQdrant(ctx context.Context, addr string, dimension int, opts ...QdrantOption) (*Qdrant, error) {
	if err := validateDimension(dimension); err != nil {
		return nil, err
	}

	cfg := &qdrantConfig{collection: "products"}
	for _, opt := range opts {
		opt(cfg)
	}

	host, port, err := splitHostPort(addr, qdrantDefaultPort)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.apiKey,
		UseTLS: cfg.useTLS,
	})
	if err != nil {
		return nil, goerr.Wrap(model.Upstream(err), "failed to create qdrant client", goerr.V("addr", addr))
	}

	q := &Qdrant{
		client:     client,
		collection: cfg.collection,
		dimension:  dimension,
	}
	if err := q.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return q, nil
}

func splitHostPort(addr string, defaultPort int) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// no port in addr
		return addr, defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, goerr.Wrap(model.ErrInvalidInput, "invalid qdrant port", goerr.V("addr", addr))
	}
	return host, port, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return goerr.Wrap(model.Upstream(err), "failed to check collection", goerr.V("collection", q.collection))
	}
	if exists {
		return nil
	}

	if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return goerr.Wrap(model.Upstream(err), "failed to create collection",
			goerr.V("collection", q.collection),
			goerr.V("dimension", q.dimension))
	}
	return nil
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}

func (q *Qdrant) Dimension() int {
	return q.dimension
}

// pointID returns the UUID of the point holding a product
func pointID(id model.ProductID) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(productNamespace, []byte(id)).String())
}

func (q *Qdrant) PutEntry(ctx context.Context, entry *model.Entry) error {
	if err := validateEntry(entry, q.dimension); err != nil {
		return err
	}

	payload := map[string]any{
		qdrantFieldID: entry.ID.String(),
	}
	if m := entry.Metadata; m != nil {
		attrs := map[string]any{}
		for k, v := range m.Attributes {
			attrs[k] = v
		}
		payload[qdrantFieldName] = m.Name
		payload[qdrantFieldDescription] = m.Description
		payload[qdrantFieldMetadata] = attrs
	}

	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{
			{
				Id:      pointID(entry.ID),
				Vectors: qdrant.NewVectorsDense(entry.Vector),
				Payload: qdrant.NewValueMap(payload),
			},
		},
	}); err != nil {
		return goerr.Wrap(model.Upstream(err), "failed to upsert point", goerr.V("product_id", entry.ID))
	}
	return nil
}

func (q *Qdrant) GetEntry(ctx context.Context, id model.ProductID) (*model.Entry, error) {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            []*qdrant.PointId{pointID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, goerr.Wrap(model.Upstream(err), "failed to get point", goerr.V("product_id", id))
	}
	if len(points) == 0 {
		return nil, goerr.Wrap(model.ErrNotFound, "entry not found", goerr.V("product_id", id))
	}

	p := points[0]
	vec := p.GetVectors().GetVector().GetDenseVector().GetData()
	if err := validateStoredVector(id, vec, q.dimension); err != nil {
		return nil, err
	}

	return &model.Entry{
		ID:       id,
		Vector:   vec,
		Metadata: qdrantMetadata(p.GetPayload()),
	}, nil
}

func (q *Qdrant) Query(ctx context.Context, input *model.QueryInput) ([]*model.Match, error) {
	if input == nil {
		return nil, goerr.Wrap(model.ErrInvalidInput, "query input is nil")
	}
	if err := input.Validate(q.dimension); err != nil {
		return nil, err
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(input.Vector),
		Filter:         qdrantFilter(input.Filters),
		Limit:          qdrant.PtrOf(uint64(input.TopK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, goerr.Wrap(model.Upstream(err), "failed to query points", goerr.V("top_k", input.TopK))
	}

	matches := make([]*model.Match, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		id := payload[qdrantFieldID].GetStringValue()
		if id == "" {
			return nil, goerr.Wrap(model.ErrUpstream, "point has no product id", goerr.V("point_id", pointIDString(p.GetId())))
		}

		match := &model.Match{
			ID:    model.ProductID(id),
			Score: float64(p.GetScore()),
		}
		if input.WithMetadata {
			match.Metadata = qdrantMetadata(payload)
		}
		matches = append(matches, match)
	}

	return matches, nil
}

func qdrantFilter(filters []model.Filter) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}

	f := &qdrant.Filter{}
	for _, filter := range filters {
		cond := qdrant.NewMatchKeyword(filter.Field, filter.Value)
		switch filter.Op {
		case model.FilterEqual:
			f.Must = append(f.Must, cond)
		case model.FilterNotEqual:
			f.MustNot = append(f.MustNot, cond)
		}
	}
	return f
}

func qdrantMetadata(payload map[string]*qdrant.Value) *model.EntryMetadata {
	name, ok := payload[qdrantFieldName]
	if !ok {
		return nil
	}

	m := &model.EntryMetadata{
		Name:        name.GetStringValue(),
		Description: payload[qdrantFieldDescription].GetStringValue(),
		Attributes:  map[string]any{},
	}
	for k, v := range payload[qdrantFieldMetadata].GetStructValue().GetFields() {
		m.Attributes[k] = qdrantValue(v)
	}
	return m
}

func qdrantValue(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_StructValue:
		out := map[string]any{}
		for k, fv := range kind.StructValue.GetFields() {
			out[k] = qdrantValue(fv)
		}
		return out
	case *qdrant.Value_ListValue:
		var out []any
		for _, lv := range kind.ListValue.GetValues() {
			out = append(out, qdrantValue(lv))
		}
		return out
	default:
		return nil
	}
}

func pointIDString(id *qdrant.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}
