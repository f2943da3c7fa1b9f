package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/adapters/queue"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data/memstore"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/schema"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/service"
)

const vpPayload = `{"headline":"Onboard in days, not weeks","summary":"Acme automates onboarding.",` +
	`"pillars":[{"title":"Speed","description":"Faster onboarding","evidence":["40% faster"]}]}`

type apiFixture struct {
	server    *httptest.Server
	jobs      *service.JobService
	artifacts *service.ArtifactService
	snapshots *service.SnapshotService
	pipeline  *queue.MemoryQueue
}

func newAPIFixture(t *testing.T, checks map[string]HealthCheck) *apiFixture {
	t.Helper()
	f := &apiFixture{pipeline: queue.NewMemoryQueue(model.TopicPipeline)}
	f.jobs = service.MustNewJobService(service.JobServiceOptions{
		Repo:   memstore.NewJobRepo(nil),
		Queues: core.NewQueueSet(f.pipeline, queue.NewMemoryQueue(model.TopicAnalytics)),
	})
	f.artifacts = service.MustNewArtifactService(service.ArtifactServiceOptions{
		Repo:            memstore.NewArtifactRepo(nil),
		Validator:       schema.MustNew(),
		RefinementLimit: 3,
	})
	snaps, err := service.NewSnapshotService(service.SnapshotServiceOptions{Cache: memstore.NewCache(nil)})
	require.NoError(t, err)
	f.snapshots = snaps

	f.server = httptest.NewServer(NewRouter(RouterServices{
		Jobs:      f.jobs,
		Artifacts: f.artifacts,
		Snapshots: f.snapshots,
		Checks:    checks,
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, f.server.URL+path, rdr)
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if method != http.MethodHead {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func submitBody(subject string, payload any) map[string]any {
	return map[string]any{
		"kind":       string(model.JobKindGenerateTemplates),
		"subject_id": subject,
		"payload":    payload,
	}
}

func TestHealthRoutes(t *testing.T) {
	t.Run("liveness", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		status, body := f.do(t, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "ok", body["status"])

		status, _ = f.do(t, http.MethodHead, "/healthz", nil)
		assert.Equal(t, http.StatusOK, status)
	})

	t.Run("readiness reports failing checks", func(t *testing.T) {
		f := newAPIFixture(t, map[string]HealthCheck{
			"cache":    func(context.Context) error { return nil },
			"database": func(context.Context) error { return errors.New("connection refused") },
		})
		status, body := f.do(t, http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusServiceUnavailable, status)
		assert.Equal(t, "unavailable", body["status"])
		checks, ok := body["checks"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "ok", checks["cache"])
		assert.Equal(t, "connection refused", checks["database"])
	})
}

func TestRequestID(t *testing.T) {
	f := newAPIFixture(t, nil)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, f.server.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "req-123")
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get(RequestIDHeader))

	resp2, err := f.server.Client().Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.NotEmpty(t, resp2.Header.Get(RequestIDHeader))
}

func TestRecover(t *testing.T) {
	h := Recover(testLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
