package product

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/model"
	"github.com/m-mizutani/wares/pkg/utils/logging"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"
)

const systemInstruction = "You are a product catalog assistant. Answer only from the provided context. If the context is insufficient, say you don't know."

// Answer answers a question grounded on the most relevant indexed products.
// A blank question yields a validation message without calling any collaborator.
func (u *UseCase) Answer(ctx context.Context, question string) (result *model.AnswerResult, err error) {
	if strings.TrimSpace(question) == "" {
		return &model.AnswerResult{Validation: model.MissingQuestionMessage}, nil
	}

	ctx, span := startSpan(ctx, "product.Answer")
	defer func() { endSpan(span, err) }()

	matches, err := u.SimilarToText(ctx, question, u.answerTopK)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to retrieve context")
	}

	rendered := RenderContext(matches)
	span.SetAttributes(
		attribute.Int("context.matches", len(matches)),
		attribute.Int("context.length", len(rendered)),
	)
	logging.From(ctx).Debug("answer context", "matches", len(matches), "context", rendered)

	resp, err := u.generate(ctx, question, rendered)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate answer")
	}

	return &model.AnswerResult{Response: resp}, nil
}

func (u *UseCase) generate(ctx context.Context, question, rendered string) (resp *genai.GenerateContentResponse, err error) {
	ctx, span := startSpan(ctx, "product.Generate")
	defer func() { endSpan(span, err) }()

	var prompt strings.Builder
	prompt.WriteString(systemInstruction)
	prompt.WriteString("\n\nContext:\n")
	prompt.WriteString(rendered)

	contents := []*genai.Content{
		genai.NewContentFromText(question, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt.String(), ""),
	}

	return u.generator.GenerateContent(ctx, contents, config)
}

// RenderContext renders matches in rank order. Each match with metadata
// becomes a "## <name>" heading followed by "- key: value" lines for the
// description and product metadata. Matches without metadata are skipped.
// The description line is omitted when the description is empty.
func RenderContext(matches []*model.Match) string {
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		if m == nil || m.Metadata == nil {
			continue
		}
		blocks = append(blocks, renderMetadata(m.Metadata))
	}
	return strings.Join(blocks, "\n")
}

func renderMetadata(m *model.EntryMetadata) string {
	var b strings.Builder
	b.WriteString("## ")
	b.WriteString(m.Name)
	b.WriteString("\n")

	if m.Description != "" {
		fmt.Fprintf(&b, "- description: %s\n", m.Description)
	}
	for _, key := range sortedKeys(m.Attributes) {
		fmt.Fprintf(&b, "- %s: %s\n", key, renderValue(m.Attributes[key]))
	}
	return b.String()
}

// renderValue writes scalars as is and other values as JSON
func renderValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprint(x)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
