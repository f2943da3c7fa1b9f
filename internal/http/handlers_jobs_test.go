package httpx

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
)

func TestJobRoutes_Submit(t *testing.T) {
	t.Run("accepts and enqueues", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		status, body := f.do(t, http.MethodPost, "/api/jobs", submitBody("acme", map[string]any{"artifact_version": 1}))
		require.Equal(t, http.StatusAccepted, status)
		assert.NotEmpty(t, body["id"])
		assert.Equal(t, string(model.JobStatusPending), body["status"])

		ready, _ := f.pipeline.Len()
		assert.Equal(t, 1, ready)
	})

	t.Run("identical resubmission returns the same job", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		_, first := f.do(t, http.MethodPost, "/api/jobs", submitBody("acme", map[string]any{"artifact_version": 1}))
		status, second := f.do(t, http.MethodPost, "/api/jobs", submitBody("acme", map[string]any{"artifact_version": 1}))
		require.Equal(t, http.StatusAccepted, status)
		assert.Equal(t, first["id"], second["id"])
	})

	t.Run("different parameters conflict while in flight", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		f.do(t, http.MethodPost, "/api/jobs", submitBody("acme", map[string]any{"artifact_version": 1}))
		status, body := f.do(t, http.MethodPost, "/api/jobs", submitBody("acme", map[string]any{"artifact_version": 2}))
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "job_already_in_flight", body["error"])
	})

	t.Run("rejects malformed bodies", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		status, body := f.do(t, http.MethodPost, "/api/jobs", "{bad")
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_json", body["error"])

		status, body = f.do(t, http.MethodPost, "/api/jobs", map[string]any{"subject_id": "acme"})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "validation", body["error"])
	})
}

func TestJobRoutes_StatusAndCancel(t *testing.T) {
	f := newAPIFixture(t, nil)
	_, created := f.do(t, http.MethodPost, "/api/jobs", submitBody("acme", nil))
	id, ok := created["id"].(string)
	require.True(t, ok)

	status, body := f.do(t, http.MethodGet, "/api/jobs/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, body["id"])

	status, body = f.do(t, http.MethodPost, "/api/jobs/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(model.JobStatusCancelled), body["status"])

	status, body = f.do(t, http.MethodPost, "/api/jobs/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_terminal", body["error"])

	status, _ = f.do(t, http.MethodGet, "/api/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestJobRoutes_ListSubjectJobs(t *testing.T) {
	f := newAPIFixture(t, nil)
	_, created := f.do(t, http.MethodPost, "/api/jobs", submitBody("acme", nil))
	id, _ := created["id"].(string)
	require.NoError(t, f.jobs.Cancel(context.Background(), id))
	f.do(t, http.MethodPost, "/api/jobs", submitBody("acme", map[string]any{"artifact_version": 2}))
	f.do(t, http.MethodPost, "/api/jobs", submitBody("globex", nil))

	status, body := f.do(t, http.MethodGet, "/api/subjects/acme/jobs", nil)
	require.Equal(t, http.StatusOK, status)
	jobs, ok := body["jobs"].([]any)
	require.True(t, ok)
	assert.Len(t, jobs, 2)

	status, body = f.do(t, http.MethodGet, "/api/subjects/acme/jobs?status=cancelled", nil)
	require.Equal(t, http.StatusOK, status)
	jobs, _ = body["jobs"].([]any)
	require.Len(t, jobs, 1)
	first, _ := jobs[0].(map[string]any)
	assert.Equal(t, id, first["id"])

	status, body = f.do(t, http.MethodGet, "/api/subjects/nobody/jobs", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["jobs"])

	status, _ = f.do(t, http.MethodGet, "/api/subjects/acme/jobs?kind=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
