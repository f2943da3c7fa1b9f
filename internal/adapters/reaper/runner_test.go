package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/config"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data/memstore"
)

func TestNewRunner(t *testing.T) {
	t.Run("requires a backend", func(t *testing.T) {
		_, err := NewRunner(RunnerOptions{})
		require.Error(t, err)
	})

	t.Run("runs until cancelled", func(t *testing.T) {
		r, err := NewRunner(RunnerOptions{
			Repo:   memstore.NewJobRepo(nil),
			Config: config.ReaperConfig{Interval: time.Hour, BatchSize: 10},
		})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.NoError(t, r.Run(ctx))
	})
}
