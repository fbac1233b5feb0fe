package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/interfaces"
	"github.com/m-mizutani/wares/pkg/model"
	"github.com/m-mizutani/wares/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// IngestQuery is the Rego document evaluated for each product. The package
// may define `deny` and `drop_metadata` as sets of strings.
const IngestQuery = "data.ingest"

var _ interfaces.IngestPolicy = (*Ingest)(nil)

// Ingest evaluates Rego policies against products before they are indexed
type Ingest struct {
	query *rego.PreparedEvalQuery
}

// printHook forwards Rego print() output to the logger
type printHook struct {
	logger *slog.Logger
}

func (h *printHook) Print(_ print.Context, message string) error {
	h.logger.Debug("rego print", "message", message)
	return nil
}

// NewIngest loads Rego files in dir. It returns nil when dir has no policy
// file, which callers treat as accepting every product.
func NewIngest(ctx context.Context, dir string) (*Ingest, error) {
	modules, err := loadModules(dir)
	if err != nil {
		return nil, err
	}
	if len(modules) == 0 {
		return nil, nil
	}

	query, err := prepareQuery(ctx, modules, IngestQuery)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare ingest policy", goerr.V("dir", dir))
	}
	return &Ingest{query: query}, nil
}

func (x *Ingest) Evaluate(ctx context.Context, product *model.Product) (*model.IngestDecision, error) {
	if product == nil {
		return nil, goerr.Wrap(model.ErrInvalidInput, "product is nil")
	}

	input := map[string]any{
		"id":       product.ID.String(),
		"name":     product.Name,
		"metadata": map[string]any{},
	}
	if product.Description != nil {
		input["description"] = *product.Description
	}
	for k, v := range product.Metadata {
		input["metadata"].(map[string]any)[k] = v
	}

	rs, err := x.query.Eval(ctx,
		rego.EvalInput(input),
		rego.EvalPrintHook(&printHook{logger: logging.From(ctx)}),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate ingest policy", goerr.V("product_id", product.ID))
	}

	decision := &model.IngestDecision{}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return decision, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, goerr.New("invalid ingest policy result", goerr.V("value", rs[0].Expressions[0].Value))
	}

	if decision.Deny, err = stringSet(data, "deny"); err != nil {
		return nil, err
	}
	if decision.DropMetadata, err = stringSet(data, "drop_metadata"); err != nil {
		return nil, err
	}
	return decision, nil
}

// stringSet reads a Rego set or array of strings. The result is sorted.
func stringSet(data map[string]any, key string) ([]string, error) {
	raw, ok := data[key]
	if !ok {
		return nil, nil
	}

	items, ok := raw.([]any)
	if !ok {
		return nil, goerr.New("invalid ingest policy result: not a set", goerr.V("key", key))
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	sort.Strings(out)
	return out, nil
}
