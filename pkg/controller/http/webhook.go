package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/model"
	"github.com/m-mizutani/wares/pkg/utils/logging"
)

// webhookEvent is the delivery body of the event source
type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type webhookProduct struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description *string           `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.webhookSecret == "" {
		writeJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "webhook is not configured"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(ctx, w, goerr.Wrap(model.ErrInvalidInput, "failed to read webhook body", goerr.V("cause", err.Error())))
		return
	}

	if err := verifySignature(r.Header.Get(signatureHeader), body, s.webhookSecret, s.now(), s.tolerance); err != nil {
		writeError(ctx, w, err)
		return
	}

	event, err := ParseEvent(body)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	event.Verified = true

	logger := logging.From(ctx).With("event_id", event.ID, "event_type", event.Type)
	ctx = logging.With(ctx, logger)

	s.archiveEvent(r, event, body)

	if err := s.uc.HandleEvent(ctx, event); err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "accepted"})
}

// ParseEvent decodes a webhook delivery body. Only creation events carry a
// product. The returned event is not marked as verified.
func ParseEvent(body []byte) (*model.Event, error) {
	var raw webhookEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, goerr.Wrap(model.ErrInvalidInput, "malformed webhook body", goerr.V("cause", err.Error()))
	}
	if raw.ID == "" || raw.Type == "" {
		return nil, goerr.Wrap(model.ErrInvalidInput, "event id or type is missing")
	}

	event := &model.Event{ID: raw.ID, Type: raw.Type}
	if raw.Type != model.EventTypeProductCreated || len(raw.Data.Object) == 0 {
		return event, nil
	}

	var p webhookProduct
	if err := json.Unmarshal(raw.Data.Object, &p); err != nil {
		return nil, goerr.Wrap(model.ErrInvalidInput, "malformed product object", goerr.V("event_id", raw.ID), goerr.V("cause", err.Error()))
	}
	event.Product = &model.Product{
		ID:          model.ProductID(p.ID),
		Name:        p.Name,
		Description: p.Description,
		Metadata:    p.Metadata,
	}
	return event, nil
}

// archiveEvent stores the raw body. A failure is logged and does not block ingestion.
func (s *Server) archiveEvent(r *http.Request, event *model.Event, body []byte) {
	if s.archive == nil {
		return
	}
	ctx := r.Context()
	key := model.EventArchiveKey(event.ID, s.now())

	wc, err := s.archive.Put(ctx, key)
	if err != nil {
		logging.From(ctx).Warn("failed to archive event", "error", err, "key", key)
		return
	}
	if _, err := wc.Write(body); err != nil {
		_ = wc.Close()
		logging.From(ctx).Warn("failed to archive event", "error", err, "key", key)
		return
	}
	if err := wc.Close(); err != nil {
		logging.From(ctx).Warn("failed to archive event", "error", err, "key", key)
	}
}
