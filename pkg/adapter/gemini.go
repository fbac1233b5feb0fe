package adapter

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/interfaces"
	"github.com/m-mizutani/wares/pkg/model"
	"google.golang.org/genai"
)

// Embedding task types understood by Gemini embedding models
const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
)

const DefaultEmbeddingDimension = 768

var (
	_ interfaces.Embedder  = (*GeminiClient)(nil)
	_ interfaces.Generator = (*GeminiClient)(nil)
)

// GeminiClient implements interfaces.Embedder and interfaces.Generator
type GeminiClient struct {
	client          *genai.Client
	generativeModel string
	embeddingModel  string
	dimension       int
	taskType        string
	temperature     *float32
	apiKey          string
}

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.generativeModel = model
	}
}

func WithEmbeddingModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingModel = model
	}
}

// WithDimension sets the output dimensionality of embeddings
func WithDimension(dim int) GeminiOption {
	return func(g *GeminiClient) {
		g.dimension = dim
	}
}

// WithTaskType sets the embedding task type. Default is TaskRetrievalDocument.
func WithTaskType(taskType string) GeminiOption {
	return func(g *GeminiClient) {
		g.taskType = taskType
	}
}

// WithTemperature sets the sampling temperature used when a request does not set one
func WithTemperature(t float32) GeminiOption {
	return func(g *GeminiClient) {
		g.temperature = &t
	}
}

// WithAPIKey switches to the Gemini API backend. Without it Vertex AI is used.
func WithAPIKey(key string) GeminiOption {
	return func(g *GeminiClient) {
		g.apiKey = key
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	g := &GeminiClient{
		generativeModel: "gemini-2.5-flash",
		embeddingModel:  "gemini-embedding-001",
		dimension:       DefaultEmbeddingDimension,
		taskType:        TaskRetrievalDocument,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.dimension <= 0 {
		return nil, goerr.Wrap(model.ErrInvalidInput, "embedding dimension must be positive", goerr.V("dimension", g.dimension))
	}

	cfg := &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	}
	if g.apiKey != "" {
		cfg = &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}
	g.client = client

	return g, nil
}

// WithTask returns a copy of the client that embeds with another task type.
// The underlying genai client is shared.
func (g *GeminiClient) WithTask(taskType string) *GeminiClient {
	c := *g
	c.taskType = taskType
	return &c
}

func (g *GeminiClient) Dimension() int {
	return g.dimension
}

func (g *GeminiClient) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, contents, g.generateConfig(config))
	if err != nil {
		return nil, goerr.Wrap(model.Upstream(err), "failed to generate content", goerr.V("model", g.generativeModel))
	}
	return resp, nil
}

// generateConfig returns a copy of config with client defaults applied
func (g *GeminiClient) generateConfig(config *genai.GenerateContentConfig) *genai.GenerateContentConfig {
	var c genai.GenerateContentConfig
	if config != nil {
		c = *config
	}
	if c.Temperature == nil && g.temperature != nil {
		t := *g.temperature
		c.Temperature = &t
	}
	return &c
}

func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, goerr.Wrap(model.ErrInvalidInput, "text to embed is empty")
	}

	dim := int32(g.dimension)
	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), &genai.EmbedContentConfig{
		TaskType:             g.taskType,
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, goerr.Wrap(model.Upstream(err), "failed to embed content",
			goerr.V("model", g.embeddingModel),
			goerr.V("task_type", g.taskType),
			goerr.V("text_length", len(text)),
		)
	}

	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, goerr.Wrap(model.ErrUpstream, "no embedding in response", goerr.V("model", g.embeddingModel))
	}

	values := resp.Embeddings[0].Values
	if len(values) != g.dimension {
		return nil, goerr.Wrap(model.ErrUpstream, "embedding has unexpected dimension",
			goerr.V("want", g.dimension),
			goerr.V("got", len(values)),
		)
	}

	return values, nil
}
