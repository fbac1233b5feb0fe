package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/model"
)

type askRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req askRequest
	// an empty body is treated as a missing question
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(ctx, w, goerr.Wrap(model.ErrInvalidInput, "malformed request body", goerr.V("cause", err.Error())))
		return
	}

	result, err := s.uc.Answer(ctx, req.Question)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if result.Validation != "" {
		writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: result.Validation})
		return
	}

	writeJSON(ctx, w, http.StatusOK, result.Response)
}
