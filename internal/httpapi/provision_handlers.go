package httpapi

import (
	"context"
	"errors"
	"net/http"

	"autoaccess.org/internal/hire"
)

type provisionRequest struct {
	Rows []hire.Row `json:"rows"`
}

const maxBatchRows = 5000

func (a *API) handleProvision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.pipeline == nil {
		writeError(w, r, http.StatusServiceUnavailable, "provisioning unavailable")
		return
	}

	var req provisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Rows) == 0 {
		writeError(w, r, http.StatusBadRequest, "rows are required")
		return
	}
	if len(req.Rows) > maxBatchRows {
		writeError(w, r, http.StatusBadRequest, "too many rows in one batch")
		return
	}

	batch, err := a.pipeline.Process(r.Context(), req.Rows)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	// On client disconnect the partial result is still returned; writing
	// it is best-effort at that point.
	writeJSON(w, http.StatusOK, batch)
}
