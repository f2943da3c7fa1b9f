package queryengine

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/testutil"
)

func TestBuild(t *testing.T) {
	t.Run("count defaults", func(t *testing.T) {
		q, args, err := Build(core.QueryRequest{SubjectID: "acme", Spec: model.QuerySpec{Metric: "claims"}})
		require.NoError(t, err)
		assert.Contains(t, q, `COUNT(*) AS "value"`)
		assert.Equal(t, []any{"acme", "claims", defaultRowLimit}, args)
	})

	t.Run("typed filters", func(t *testing.T) {
		q, args, err := Build(core.QueryRequest{SubjectID: "acme", Spec: model.QuerySpec{
			Metric:      "cost",
			Aggregation: "SUM",
			GroupBy:     []string{"region"},
			Filters: []model.QueryFilter{
				{Field: "age", Op: "gte", Value: float64(65)},
				{Field: "plan", Op: "eq", Value: "gold"},
				{Field: "occurred_at", Op: "gt", Value: "2026-01-01T00:00:00Z"},
			},
			Limit: 5000,
		}})
		require.NoError(t, err)
		assert.Contains(t, q, `("dimensions"->>'age')::double precision >= $3`)
		assert.Contains(t, q, `"dimensions"->>'plan' = $4`)
		assert.Contains(t, q, `"occurred_at" > $5::timestamptz`)
		assert.Contains(t, q, "GROUP BY 1")
		assert.Equal(t, maxRowLimit, args[len(args)-1])
	})

	t.Run("rejects bad input", func(t *testing.T) {
		cases := []model.QuerySpec{
			{},
			{Metric: "m", Aggregation: "median"},
			{Metric: "m", Filters: []model.QueryFilter{{Field: "x", Op: "like", Value: "a"}}},
			{Metric: "m", Filters: []model.QueryFilter{{Field: "x'y", Op: "eq", Value: "a"}}},
			{Metric: "m", GroupBy: []string{"!!"}},
		}
		for _, spec := range cases {
			_, _, err := Build(core.QueryRequest{SubjectID: "acme", Spec: spec})
			assert.True(t, apperrors.IsValidation(err), "spec %+v", spec)
		}
	})
}

func TestPostgres_RunQuery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		now := time.Now().UTC()
		for _, row := range []struct {
			region string
			value  float64
		}{{"north", 10}, {"north", 5}, {"south", 2}} {
			_, err := db.ExecContext(ctx, `
				INSERT INTO analytics_events (subject_id, metric, value, dimensions, occurred_at)
				VALUES ('acme', 'cost', $1, jsonb_build_object('region', $2::text), $3)
			`, row.value, row.region, now)
			require.NoError(t, err)
		}

		engine := NewPostgres(db, nil)
		rows, err := engine.RunQuery(ctx, core.QueryRequest{SubjectID: "acme", Spec: model.QuerySpec{
			Metric: "cost", Aggregation: "sum", GroupBy: []string{"region"},
		}})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "north", rows[0]["region"])
		assert.InDelta(t, 15.0, rows[0]["value"], 0.001)

		rows, err = engine.RunQuery(ctx, core.QueryRequest{SubjectID: "acme", Spec: model.QuerySpec{Metric: "cost"}})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.InDelta(t, 3.0, rows[0]["value"], 0.001)
	})
}
