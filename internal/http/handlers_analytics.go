package httpx

import (
	"log/slog"
	"net/http"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/service"
)

// AnalyticsHandlers serves precomputed analytics snapshots from the cache.
type AnalyticsHandlers struct {
	Svc    *service.SnapshotService
	Logger *slog.Logger
}

// GetLatest returns the newest snapshot for a subject.
func (h *AnalyticsHandlers) GetLatest(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Svc.Latest(r.Context(), r.PathValue("subject"))
	if err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

// GetVersion returns the snapshot computed from one template set version.
func (h *AnalyticsHandlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := pathVersion(r)
	if err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}
	snap, err := h.Svc.Get(r.Context(), r.PathValue("subject"), version)
	if err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}
