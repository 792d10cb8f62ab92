package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/BradenHooton/attemptguard/internal/models"
	pkghttp "github.com/BradenHooton/attemptguard/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AttemptAdmin is the operator view of one attempt guard
type AttemptAdmin interface {
	Attempts(ctx context.Context) ([]models.AttemptRecord, error)
	Reset(ctx context.Context, bucket, key, reason string) error
}

// AdminHandler exposes attempt records to operators
type AdminHandler struct {
	guards map[models.AttemptFamily]AttemptAdmin
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(guards map[models.AttemptFamily]AttemptAdmin) *AdminHandler {
	return &AdminHandler{guards: guards}
}

// AttemptListResponse is the body of GET /admin/attempts/{family}
type AttemptListResponse struct {
	Family   models.AttemptFamily   `json:"family"`
	Total    int                    `json:"total"`
	Attempts []models.AttemptRecord `json:"attempts"`
}

// ListAttempts handles GET /admin/attempts/{family}
func (h *AdminHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	family, guard, ok := h.guardFor(w, r)
	if !ok {
		return
	}

	records, err := guard.Attempts(r.Context())
	if err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) {
			pkghttp.WriteStoreUnavailable(w, "Attempt store unavailable")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to list attempts")
		return
	}

	writeJSON(w, http.StatusOK, AttemptListResponse{
		Family:   family,
		Total:    len(records),
		Attempts: records,
	})
}

// ResetAttempts handles DELETE /admin/attempts/{family}?bucket=...&key=...
// Login records are cleared by key, sign-up records by bucket.
func (h *AdminHandler) ResetAttempts(w http.ResponseWriter, r *http.Request) {
	_, guard, ok := h.guardFor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	err := guard.Reset(r.Context(), q.Get("bucket"), q.Get("key"), "operator reset")
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, models.ErrMissingField), errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Login resets need key, sign-up resets need bucket")
	case errors.Is(err, models.ErrStoreUnavailable):
		pkghttp.WriteStoreUnavailable(w, "Attempt store unavailable")
	default:
		pkghttp.WriteInternalError(w, "Failed to reset attempts")
	}
}

func (h *AdminHandler) guardFor(w http.ResponseWriter, r *http.Request) (models.AttemptFamily, AttemptAdmin, bool) {
	family, err := models.ParseAttemptFamily(chi.URLParam(r, "family"))
	if err != nil {
		pkghttp.WriteNotFound(w, "Unknown attempt family")
		return "", nil, false
	}

	guard, ok := h.guards[family]
	if !ok {
		pkghttp.WriteNotFound(w, "Unknown attempt family")
		return "", nil, false
	}
	return family, guard, true
}
