package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/service"
)

// ArtifactHandlers serves artifact reads and the review workflow.
type ArtifactHandlers struct {
	Svc    *service.ArtifactService
	Logger *slog.Logger
}

// GetLatest returns the newest version of a subject's artifact lineage.
func (h *ArtifactHandlers) GetLatest(w http.ResponseWriter, r *http.Request) {
	kind, err := pathArtifactKind(r)
	if err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}
	a, err := h.Svc.Latest(r.Context(), r.PathValue("subject"), kind)
	if err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, a)
}

// ListVersions returns every version of the lineage, oldest first.
func (h *ArtifactHandlers) ListVersions(w http.ResponseWriter, r *http.Request) {
	kind, err := pathArtifactKind(r)
	if err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}
	list, err := h.Svc.ListVersions(r.Context(), r.PathValue("subject"), kind)
	if err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}
	if list == nil {
		list = []*model.Artifact{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"versions": list})
}

// GetVersion returns one version.
func (h *ArtifactHandlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	h.withRef(w, r, h.Svc.Get)
}

// Submit moves a draft version to in_review.
func (h *ArtifactHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	h.withRef(w, r, h.Svc.SubmitForReview)
}

// ReviewSection marks the {section} of an in_review version as reviewed.
func (h *ArtifactHandlers) ReviewSection(w http.ResponseWriter, r *http.Request) {
	section := r.PathValue("section")
	h.withRef(w, r, func(ctx context.Context, ref model.ArtifactRef) (*model.Artifact, error) {
		return h.Svc.MarkSectionReviewed(ctx, ref, section)
	})
}

// Approve approves an in_review version whose sections are all reviewed.
func (h *ArtifactHandlers) Approve(w http.ResponseWriter, r *http.Request) {
	h.withRef(w, r, h.Svc.Approve)
}

func (h *ArtifactHandlers) withRef(
	w http.ResponseWriter,
	r *http.Request,
	fn func(context.Context, model.ArtifactRef) (*model.Artifact, error),
) {
	ref, err := artifactRef(r)
	if err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}
	a, err := fn(r.Context(), ref)
	if err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, a)
}
