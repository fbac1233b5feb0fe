package http

import (
	"net/http"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/model"
)

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := model.ProductID(r.PathValue("id"))

	limit := defaultLookupSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxLookupSize {
			writeError(ctx, w, goerr.Wrap(model.ErrInvalidInput, "limit must be between 1 and 50", goerr.V("limit", v)))
			return
		}
		limit = n
	}

	result, err := s.uc.Lookup(ctx, id, limit)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	if result.Similar == nil {
		result.Similar = []*model.Match{}
	}
	writeJSON(ctx, w, http.StatusOK, result)
}
