// Package queryengine runs widget queries against the analytics_events fact table.
package queryengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data/database"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
)

const (
	eventsTable     = "analytics_events"
	defaultRowLimit = 100
	maxRowLimit     = 1000
)

// timeColumn is the only filterable field that is a real column; every other field is a dimension key.
const timeColumn = "occurred_at"

var opSQL = map[string]string{
	"eq":  "=",
	"neq": "!=",
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
}

// Postgres implements core.QueryEngine with aggregate SQL over analytics_events.
type Postgres struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgres creates a Postgres query engine.
func NewPostgres(db *sql.DB, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, logger: logger.With("component", "query_engine")}
}

// Build translates a request into SQL. Exported for tests and the admin CLI's dry runs.
func Build(req core.QueryRequest) (string, []any, error) {
	spec := req.Spec
	if strings.TrimSpace(spec.Metric) == "" {
		return "", nil, apperrors.ValidationField("metric", "metric is required")
	}
	agg := database.Aggregation(strings.ToLower(spec.Aggregation))
	if agg == "" {
		agg = database.AggCount
	}
	if !agg.Valid() {
		return "", nil, apperrors.ValidationField("aggregation", fmt.Sprintf("unsupported aggregation %q", spec.Aggregation))
	}

	conds := []database.Condition{
		database.WhereCond("subject_id", database.Equal, req.SubjectID),
		database.WhereCond("metric", database.Equal, spec.Metric),
	}
	for _, f := range spec.Filters {
		cond, err := filterCondition(f.Field, f.Op, f.Value)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, cond)
	}

	limit := spec.Limit
	if limit <= 0 {
		limit = defaultRowLimit
	}
	limit = min(limit, maxRowLimit)

	q, args, err := database.BuildAggregateQuery(database.AggregateQueryOptions{
		Table:           eventsTable,
		Aggregation:     agg,
		ValueColumn:     "value",
		DimensionColumn: "dimensions",
		GroupBy:         spec.GroupBy,
		Conditions:      conds,
		Limit:           limit,
	})
	if err != nil {
		return "", nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid query")
	}
	return q, args, nil
}

func filterCondition(field, op string, value any) (database.Condition, error) {
	sqlOp, ok := opSQL[strings.ToLower(op)]
	if !ok {
		return database.Condition{}, apperrors.ValidationField("op", fmt.Sprintf("unsupported filter op %q", op))
	}
	if field == timeColumn {
		return database.WhereRawCond(`"occurred_at" `+sqlOp+` $1::timestamptz`, value), nil
	}
	key := database.SanitizeJSONKey(field)
	if key == "" || key != field {
		return database.Condition{}, apperrors.ValidationField("field", fmt.Sprintf("invalid filter field %q", field))
	}
	expr := database.JSONTextExpr("dimensions", key)
	switch value.(type) {
	case float64, float32, int, int64, int32:
		return database.WhereRawCond("("+expr+")::double precision "+sqlOp+" $1", value), nil
	case bool:
		return database.WhereRawCond("("+expr+")::boolean "+sqlOp+" $1", value), nil
	default:
		return database.WhereRawCond(expr+" "+sqlOp+" $1", fmt.Sprint(value)), nil
	}
}

// RunQuery executes one widget query and returns its rows as column maps.
func (p *Postgres) RunQuery(ctx context.Context, req core.QueryRequest) ([]map[string]any, error) {
	q, args, err := Build(req)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, apperrors.MapDBError(err)
		}
		return nil, fmt.Errorf("run query %s: %w", req.Spec.Metric, apperrors.MapDBError(err))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan query row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalize(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query rows: %w", err)
	}
	p.logger.DebugContext(ctx, "query executed", "metric", req.Spec.Metric, "rows", len(out))
	return out, nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	default:
		return v
	}
}

var _ core.QueryEngine = (*Postgres)(nil)
