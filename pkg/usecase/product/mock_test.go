package product_test

import (
	"context"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/model"
	"google.golang.org/genai"
)

// mockIndex keeps entries in memory. Without queryFunc, Query returns
// filtered entries sorted by ID.
type mockIndex struct {
	entries   map[model.ProductID]*model.Entry
	queryFunc func(ctx context.Context, input *model.QueryInput) ([]*model.Match, error)
	putErr    error

	putCalls   int
	getCalls   int
	queryCalls int
	lastQuery  *model.QueryInput
}

func newMockIndex() *mockIndex {
	return &mockIndex{entries: make(map[model.ProductID]*model.Entry)}
}

func (m *mockIndex) PutEntry(ctx context.Context, entry *model.Entry) error {
	m.putCalls++
	if m.putErr != nil {
		return m.putErr
	}
	m.entries[entry.ID] = entry
	return nil
}

func (m *mockIndex) GetEntry(ctx context.Context, id model.ProductID) (*model.Entry, error) {
	m.getCalls++
	entry, ok := m.entries[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "entry not found", goerr.V("product_id", id))
	}
	return entry, nil
}

func (m *mockIndex) Query(ctx context.Context, input *model.QueryInput) ([]*model.Match, error) {
	m.queryCalls++
	m.lastQuery = input
	if m.queryFunc != nil {
		return m.queryFunc(ctx, input)
	}

	var matches []*model.Match
	for _, e := range m.entries {
		if !input.MatchAll(e.Metadata) {
			continue
		}
		match := &model.Match{ID: e.ID, Score: 1}
		if input.WithMetadata {
			match.Metadata = e.Metadata
		}
		matches = append(matches, match)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	if len(matches) > input.TopK {
		matches = matches[:input.TopK]
	}
	return matches, nil
}

func (m *mockIndex) Dimension() int { return 3 }

type mockEmbedder struct {
	embedFunc func(ctx context.Context, text string) ([]float32, error)
	calls     int
	texts     []string
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	m.texts = append(m.texts, text)
	if m.embedFunc != nil {
		return m.embedFunc(ctx, text)
	}
	return []float32{1, 0, 0}, nil
}

func (m *mockEmbedder) Dimension() int { return 3 }

type mockGenerator struct {
	generateFunc func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	calls        int
	lastContents []*genai.Content
	lastConfig   *genai.GenerateContentConfig
}

func (m *mockGenerator) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.calls++
	m.lastContents = contents
	m.lastConfig = config
	if m.generateFunc != nil {
		return m.generateFunc(ctx, contents, config)
	}
	return textResponse("I don't know."), nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Role:  genai.RoleModel,
					Parts: []*genai.Part{{Text: text}},
				},
			},
		},
	}
}

func ptr[T any](v T) *T { return &v }

func widget() *model.Product {
	return &model.Product{
		ID:          "p1",
		Name:        "Widget",
		Description: ptr("A widget"),
		Metadata:    map[string]string{"color": "red"},
	}
}

type mockPolicy struct {
	evaluateFunc func(ctx context.Context, p *model.Product) (*model.IngestDecision, error)
}

func (m *mockPolicy) Evaluate(ctx context.Context, p *model.Product) (*model.IngestDecision, error) {
	return m.evaluateFunc(ctx, p)
}
