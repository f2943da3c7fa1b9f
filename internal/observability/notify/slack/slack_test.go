package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestFormatMessage(t *testing.T) {
	t.Run("includes fields", func(t *testing.T) {
		c, err := NewClient(Config{WebhookURL: "https://hooks.slack.com/services/x", Channel: "#alerts", Username: "bot"})
		require.NoError(t, err)

		msg := c.formatMessage(notify.JobFailurePayload{
			JobID:      "job-1",
			JobKind:    "generate-template",
			SubjectID:  "client-9",
			Step:       "extract",
			Error:      "validation exhausted",
			ErrorClass: "validation_exhausted",
			Metadata:   map[string]string{"attempts": "3"},
		})
		assert.Equal(t, "bot", msg["username"])
		assert.Equal(t, "#alerts", msg["channel"])

		text, ok := msg["text"].(string)
		require.True(t, ok)
		for _, want := range []string{"job-1", "generate-template", "client-9", "extract", "validation_exhausted", "attempts: 3"} {
			assert.Contains(t, text, want)
		}
	})

	t.Run("job link and escaping", func(t *testing.T) {
		c, err := NewClient(Config{WebhookURL: "https://hooks.slack.com/services/x", JobURLPrefix: "https://triton.local/api/jobs"})
		require.NoError(t, err)
		text := c.formatMessage(notify.JobFailurePayload{JobID: "j-2", SubjectID: "a & <b>"})["text"].(string)
		assert.Contains(t, text, "<https://triton.local/api/jobs/j-2|j-2>")
		assert.Contains(t, text, "a &amp; &lt;b&gt;")
	})

	t.Run("invalid prefix falls back to code span", func(t *testing.T) {
		c, err := NewClient(Config{WebhookURL: "https://hooks.slack.com/services/x", JobURLPrefix: "not a url"})
		require.NoError(t, err)
		assert.Equal(t, "`j-3`", c.jobRef("j-3"))
	})
}

func TestSendJobFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("try again"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(Config{WebhookURL: srv.URL, RetryLimit: 1, Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, c.SendJobFailure(context.Background(), notify.JobFailurePayload{JobID: "j"}))
	assert.Equal(t, int32(2), calls.Load())

	calls.Store(0)
	c.retryLimit = 0
	err = c.SendJobFailure(context.Background(), notify.JobFailurePayload{JobID: "j"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "try again")
}
