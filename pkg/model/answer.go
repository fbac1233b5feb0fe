package model

import (
	"strings"

	"google.golang.org/genai"
)

// MissingQuestionMessage is returned to users who ask with an empty question
const MissingQuestionMessage = "question is required"

// AnswerResult is the outcome of a question. Exactly one of Response and
// Validation is set.
type AnswerResult struct {
	// Response is the generation model output, passed through unmodified
	Response *genai.GenerateContentResponse

	// Validation is a user facing message for a recoverable input problem
	Validation string
}

// Text joins the text parts of the first candidate of the response
func (x *AnswerResult) Text() string {
	resp := x.Response
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var texts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "")
}

// LookupResult is a stored product with its most similar products
type LookupResult struct {
	ID      ProductID      `json:"id"`
	Product *EntryMetadata `json:"product"`
	Similar []*Match       `json:"similar"`
}
