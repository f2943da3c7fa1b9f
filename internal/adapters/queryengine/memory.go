package queryengine

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data/database"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
)

// Event is one analytics fact, shaped like a row of analytics_events.
type Event struct {
	SubjectID  string         `json:"subject_id"`
	Metric     string         `json:"metric"`
	Value      float64        `json:"value"`
	Dimensions map[string]any `json:"dimensions"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Memory implements core.QueryEngine over an in-process event list. It is used with
// STORAGE_BACKEND=memory and in tests; results match the Postgres engine's row shape.
type Memory struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemory creates an engine holding events.
func NewMemory(events ...Event) *Memory {
	return &Memory{events: slices.Clone(events)}
}

// LoadMemory reads a JSON array of events from path.
func LoadMemory(path string) (*Memory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read analytics seed: %w", err)
	}
	var events []Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("decode analytics seed %s: %w", path, err)
	}
	return NewMemory(events...), nil
}

// Add appends events.
func (m *Memory) Add(events ...Event) {
	m.mu.Lock()
	m.events = append(m.events, events...)
	m.mu.Unlock()
}

type group struct {
	key   []string
	count int
	sum   float64
	min   float64
	max   float64
}

// RunQuery aggregates matching events the way the SQL engine does.
func (m *Memory) RunQuery(ctx context.Context, req core.QueryRequest) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	// Build validates the spec with the same rules as the SQL path.
	if _, _, err := Build(req); err != nil {
		return nil, err
	}
	spec := req.Spec
	agg := database.Aggregation(strings.ToLower(spec.Aggregation))
	if agg == "" {
		agg = database.AggCount
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	groups := map[string]*group{}
	var order []string
	for _, ev := range m.events {
		if ev.SubjectID != req.SubjectID || ev.Metric != spec.Metric {
			continue
		}
		if !matches(ev, spec.Filters) {
			continue
		}
		key := make([]string, len(spec.GroupBy))
		for i, dim := range spec.GroupBy {
			if v, ok := ev.Dimensions[dim]; ok && v != nil {
				key[i] = fmt.Sprint(v)
			}
		}
		id := strings.Join(key, "\x00")
		g, ok := groups[id]
		if !ok {
			g = &group{key: key, min: ev.Value, max: ev.Value}
			groups[id] = g
			order = append(order, id)
		}
		g.count++
		g.sum += ev.Value
		g.min = min(g.min, ev.Value)
		g.max = max(g.max, ev.Value)
	}

	if len(spec.GroupBy) == 0 {
		g := groups[""]
		if g == nil {
			g = &group{}
		}
		return []map[string]any{{"value": aggregateValue(agg, g)}}, nil
	}

	rows := make([]map[string]any, 0, len(order))
	for _, id := range order {
		g := groups[id]
		row := map[string]any{"value": aggregateValue(agg, g)}
		for i, dim := range spec.GroupBy {
			row[database.SanitizeJSONKey(dim)] = g.key[i]
		}
		rows = append(rows, row)
	}
	slices.SortStableFunc(rows, func(a, b map[string]any) int {
		return cmp.Compare(b["value"].(float64), a["value"].(float64))
	})

	limit := spec.Limit
	if limit <= 0 {
		limit = defaultRowLimit
	}
	limit = min(limit, maxRowLimit)
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func aggregateValue(agg database.Aggregation, g *group) float64 {
	switch agg {
	case database.AggSum:
		return g.sum
	case database.AggAvg:
		if g.count == 0 {
			return 0
		}
		return g.sum / float64(g.count)
	case database.AggMin:
		return g.min
	case database.AggMax:
		return g.max
	default:
		return float64(g.count)
	}
}

func matches(ev Event, filters []model.QueryFilter) bool {
	for _, f := range filters {
		op := strings.ToLower(f.Op)
		var c int
		if f.Field == timeColumn {
			want, err := time.Parse(time.RFC3339, fmt.Sprint(f.Value))
			if err != nil {
				return false
			}
			c = ev.OccurredAt.Compare(want)
		} else {
			got, ok := ev.Dimensions[f.Field]
			if !ok {
				return false
			}
			c = compareValues(got, f.Value)
		}
		if !opHolds(op, c) {
			return false
		}
	}
	return true
}

func compareValues(got, want any) int {
	gf, gok := asFloat(got)
	wf, wok := asFloat(want)
	if gok && wok {
		return cmp.Compare(gf, wf)
	}
	return strings.Compare(fmt.Sprint(got), fmt.Sprint(want))
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

func opHolds(op string, c int) bool {
	switch op {
	case "eq":
		return c == 0
	case "neq":
		return c != 0
	case "gt":
		return c > 0
	case "gte":
		return c >= 0
	case "lt":
		return c < 0
	case "lte":
		return c <= 0
	}
	return false
}

var _ core.QueryEngine = (*Memory)(nil)
