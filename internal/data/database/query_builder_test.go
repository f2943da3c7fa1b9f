package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAggregateQuery_CountNoGroups(t *testing.T) {
	q, args, err := BuildAggregateQuery(AggregateQueryOptions{
		Table:       "analytics_events",
		Aggregation: AggCount,
		Conditions: []Condition{
			WhereCond("subject_id", Equal, "acme"),
			WhereCond("metric", Equal, "claims"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) AS "value" FROM "analytics_events" WHERE "subject_id" = $1 AND "metric" = $2`, q)
	assert.Equal(t, []any{"acme", "claims"}, args)
}

func TestBuildAggregateQuery_GroupedSum(t *testing.T) {
	q, args, err := BuildAggregateQuery(AggregateQueryOptions{
		Table:           "analytics_events",
		Aggregation:     AggSum,
		ValueColumn:     "value",
		DimensionColumn: "dimensions",
		GroupBy:         []string{"region", "plan"},
		Conditions: []Condition{
			WhereCond("subject_id", Equal, "acme"),
			WhereRawCond(JSONTextExpr("dimensions", "tier")+" = $1", "gold"),
		},
		Limit: 5,
	})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "dimensions"->>'region' AS "region", "dimensions"->>'plan' AS "plan", COALESCE(SUM("value"), 0) AS "value"`+
			` FROM "analytics_events" WHERE "subject_id" = $1 AND "dimensions"->>'tier' = $2`+
			` GROUP BY 1, 2 ORDER BY "value" DESC LIMIT $3`,
		q)
	assert.Equal(t, []any{"acme", "gold", 5}, args)
}

func TestBuildAggregateQuery_Errors(t *testing.T) {
	_, _, err := BuildAggregateQuery(AggregateQueryOptions{Table: "t", Aggregation: "median"})
	require.Error(t, err)

	_, _, err = BuildAggregateQuery(AggregateQueryOptions{Aggregation: AggCount})
	require.Error(t, err)

	_, _, err = BuildAggregateQuery(AggregateQueryOptions{Table: "t", Aggregation: AggCount, GroupBy: []string{"'; --"}})
	require.Error(t, err)
}

func TestSanitizeJSONKey(t *testing.T) {
	assert.Equal(t, "region", SanitizeJSONKey("region"))
	assert.Equal(t, "dropTABLEx", SanitizeJSONKey("'; drop TABLE x"))
	assert.Equal(t, "a-b_c1", SanitizeJSONKey("a-b_c1"))
}

func TestWhereClause_InAndCustomRenumbering(t *testing.T) {
	where, args, next := buildWhereClause([]Condition{
		WhereCond("metric", In, []string{"a", "b"}),
		WhereRawCond("x BETWEEN $1 AND $2 OR y = $1", 1, 9),
		WhereCond("metric", In, []string{}),
		WhereCond("", Equal, "ignored"),
	}, 1)
	assert.Equal(t, `WHERE "metric" IN ($1, $2) AND x BETWEEN $3 AND $4 OR y = $3`, where)
	assert.Equal(t, []any{"a", "b", 1, 9}, args)
	assert.Equal(t, 5, next)
}

func TestWhereCond_PanicsOnCustom(t *testing.T) {
	assert.Panics(t, func() { WhereCond("x", Custom, nil) })
}
