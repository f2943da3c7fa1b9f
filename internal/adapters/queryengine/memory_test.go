package queryengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
)

func memoryFixture() *Memory {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return NewMemory(
		Event{SubjectID: "acme", Metric: "cost", Value: 10, Dimensions: map[string]any{"region": "east", "tier": 1.0}, OccurredAt: t0},
		Event{SubjectID: "acme", Metric: "cost", Value: 30, Dimensions: map[string]any{"region": "west", "tier": 2.0}, OccurredAt: t0.Add(time.Hour)},
		Event{SubjectID: "acme", Metric: "cost", Value: 5, Dimensions: map[string]any{"region": "east", "tier": 2.0}, OccurredAt: t0.Add(2 * time.Hour)},
		Event{SubjectID: "other", Metric: "cost", Value: 100, Dimensions: map[string]any{"region": "east"}, OccurredAt: t0},
	)
}

func TestMemory_RunQuery(t *testing.T) {
	ctx := context.Background()
	engine := memoryFixture()

	tests := []struct {
		name string
		spec model.QuerySpec
		want []map[string]any
	}{
		{
			name: "count defaults",
			spec: model.QuerySpec{Metric: "cost"},
			want: []map[string]any{{"value": 3.0}},
		},
		{
			name: "sum grouped ordered by value",
			spec: model.QuerySpec{Metric: "cost", Aggregation: "sum", GroupBy: []string{"region"}},
			want: []map[string]any{{"region": "west", "value": 30.0}, {"region": "east", "value": 15.0}},
		},
		{
			name: "numeric filter",
			spec: model.QuerySpec{
				Metric: "cost", Aggregation: "max",
				Filters: []model.QueryFilter{{Field: "tier", Op: "gte", Value: 2}},
			},
			want: []map[string]any{{"value": 30.0}},
		},
		{
			name: "time filter",
			spec: model.QuerySpec{
				Metric: "cost", Aggregation: "avg",
				Filters: []model.QueryFilter{{Field: "occurred_at", Op: "gt", Value: "2025-03-01T00:30:00Z"}},
			},
			want: []map[string]any{{"value": 17.5}},
		},
		{
			name: "limit",
			spec: model.QuerySpec{Metric: "cost", Aggregation: "sum", GroupBy: []string{"region"}, Limit: 1},
			want: []map[string]any{{"region": "west", "value": 30.0}},
		},
		{
			name: "no rows",
			spec: model.QuerySpec{Metric: "visits", Aggregation: "sum"},
			want: []map[string]any{{"value": 0.0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := engine.RunQuery(ctx, core.QueryRequest{SubjectID: "acme", Spec: tt.spec})
			require.NoError(t, err)
			assert.Equal(t, tt.want, rows)
		})
	}
}

func TestMemory_RunQueryRejectsInvalidSpec(t *testing.T) {
	_, err := memoryFixture().RunQuery(context.Background(), core.QueryRequest{
		SubjectID: "acme",
		Spec:      model.QuerySpec{Metric: "cost", Aggregation: "median"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestMemory_RunQueryCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := memoryFixture().RunQuery(ctx, core.QueryRequest{SubjectID: "acme", Spec: model.QuerySpec{Metric: "cost"}})
	require.Error(t, err)
}

func TestLoadMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"subject_id":"acme","metric":"visits","value":2,"dimensions":{"page":"home"},"occurred_at":"2025-03-01T00:00:00Z"},
		{"subject_id":"acme","metric":"visits","value":3,"dimensions":{"page":"home"},"occurred_at":"2025-03-01T01:00:00Z"}
	]`), 0o600))

	engine, err := LoadMemory(path)
	require.NoError(t, err)
	rows, err := engine.RunQuery(context.Background(), core.QueryRequest{
		SubjectID: "acme",
		Spec:      model.QuerySpec{Metric: "visits", Aggregation: "sum"},
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"value": 5.0}}, rows)

	_, err = LoadMemory(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
