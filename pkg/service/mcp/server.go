package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/interfaces"
	"github.com/m-mizutani/wares/pkg/model"
	"github.com/m-mizutani/wares/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ToolSimilarProducts = "similar_products"
	ToolAskCatalog      = "ask_catalog"

	defaultSimilarLimit = 5
	maxSimilarLimit     = 50
)

// Server exposes the product pipeline as MCP tools
type Server struct {
	server *mcp.Server
	uc     interfaces.ProductUseCase
}

type ServerOption func(*serverConfig)

type serverConfig struct {
	name    string
	version string
}

func WithImplementation(name, version string) ServerOption {
	return func(c *serverConfig) {
		c.name = name
		c.version = version
	}
}

type similarProductsParams struct {
	ProductID string `json:"product_id" jsonschema:"ID of the product to find similar products for"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum number of similar products. Default is 5"`
}

type askCatalogParams struct {
	Question string `json:"question" jsonschema:"Question about products in the catalog"`
}

// NewServer creates an MCP server with the catalog tools registered
func NewServer(uc interfaces.ProductUseCase, opts ...ServerOption) *Server {
	cfg := serverConfig{name: "wares", version: "0.1.0"}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.name,
			Version: cfg.version,
		}, nil),
		uc: uc,
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolSimilarProducts,
		Description: "Find products similar to a stored product. Products with the same name as the source are excluded.",
	}, s.similarProducts)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolAskCatalog,
		Description: "Answer a question using the product catalog as context",
	}, s.askCatalog)

	return s
}

// Run serves the tools over stdin/stdout until ctx is done or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "MCP server stopped")
	}
	return nil
}

// Connect serves a single session over the given transport
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	session, err := s.server.Connect(ctx, transport, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect MCP session")
	}
	return session, nil
}

// Handler returns a streamable HTTP handler serving the same tools
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}

func (s *Server) similarProducts(ctx context.Context, req *mcp.CallToolRequest, params *similarProductsParams) (*mcp.CallToolResult, any, error) {
	limit := params.Limit
	if limit == 0 {
		limit = defaultSimilarLimit
	}
	if limit < 0 || limit > maxSimilarLimit {
		return toolError(ctx, goerr.Wrap(model.ErrInvalidInput, "limit must be between 1 and 50", goerr.V("limit", limit))), nil, nil
	}

	matches, err := s.uc.SimilarToProduct(ctx, model.ProductID(params.ProductID), limit, true)
	if err != nil {
		return toolError(ctx, err), nil, nil
	}
	if matches == nil {
		matches = []*model.Match{}
	}

	raw, err := json.Marshal(matches)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal matches")
	}
	return textResult(string(raw)), nil, nil
}

func (s *Server) askCatalog(ctx context.Context, req *mcp.CallToolRequest, params *askCatalogParams) (*mcp.CallToolResult, any, error) {
	result, err := s.uc.Answer(ctx, params.Question)
	if err != nil {
		return toolError(ctx, err), nil, nil
	}
	if result.Validation != "" {
		r := textResult(result.Validation)
		r.IsError = true
		return r, nil, nil
	}

	return textResult(result.Text()), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// toolError reports a failure to the client as a tool result.
// Internal details are hidden unless the error is caused by the caller.
func toolError(ctx context.Context, err error) *mcp.CallToolResult {
	msg := "internal error"
	switch {
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrNotFound):
		logging.From(ctx).Warn("tool call rejected", "error", err)
		msg = err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		logging.From(ctx).Error("tool call timed out", "error", err)
		msg = "timeout"
	case errors.Is(err, model.ErrUpstream):
		logging.From(ctx).Error("tool call failed", "error", err)
		msg = "upstream service failed"
	default:
		logging.From(ctx).Error("tool call failed", "error", err)
	}

	r := textResult(msg)
	r.IsError = true
	return r
}
