package httpx

import (
	"log/slog"
	"net/http"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs      *service.JobService
	Artifacts *service.ArtifactService
	Snapshots *service.SnapshotService
	// Optional: readiness probes keyed by dependency name
	Checks map[string]HealthCheck
	Logger *slog.Logger
}

const artifactVersionPath = "/api/subjects/{subject}/artifacts/{kind}/versions/{version}"

// NewRouter creates the API router wrapped with request ID, logging and panic recovery.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	mux := http.NewServeMux()

	if services.Jobs != nil {
		registerJobRoutes(mux, &JobHandlers{Svc: services.Jobs, Logger: logger})
	}
	if services.Artifacts != nil {
		registerArtifactRoutes(mux, &ArtifactHandlers{Svc: services.Artifacts, Logger: logger})
	}
	if services.Snapshots != nil {
		registerAnalyticsRoutes(mux, &AnalyticsHandlers{Svc: services.Snapshots, Logger: logger})
	}
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /readyz", readyHandler(services.Checks))

	var handler http.Handler = mux
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return RequestID()(handler)
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /api/jobs", h.SubmitJob)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", h.CancelJob)
	mux.HandleFunc("GET /api/subjects/{subject}/jobs", h.ListSubjectJobs)
}

func registerArtifactRoutes(mux *http.ServeMux, h *ArtifactHandlers) {
	mux.HandleFunc("GET /api/subjects/{subject}/artifacts/{kind}", h.GetLatest)
	mux.HandleFunc("GET /api/subjects/{subject}/artifacts/{kind}/versions", h.ListVersions)
	mux.HandleFunc("GET "+artifactVersionPath, h.GetVersion)
	mux.HandleFunc("POST "+artifactVersionPath+"/submit", h.Submit)
	mux.HandleFunc("POST "+artifactVersionPath+"/sections/{section}/review", h.ReviewSection)
	mux.HandleFunc("POST "+artifactVersionPath+"/approve", h.Approve)
}

func registerAnalyticsRoutes(mux *http.ServeMux, h *AnalyticsHandlers) {
	mux.HandleFunc("GET /api/subjects/{subject}/analytics", h.GetLatest)
	mux.HandleFunc("GET /api/subjects/{subject}/analytics/versions/{version}", h.GetVersion)
}
