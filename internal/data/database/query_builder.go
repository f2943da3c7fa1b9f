// Package database builds parameterised analytics queries with sanitised identifiers.
package database

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ConditionType is the comparison operator of a Condition.
type ConditionType string

const (
	Equal              ConditionType = "="
	NotEqual           ConditionType = "!="
	GreaterThan        ConditionType = ">"
	LessThan           ConditionType = "<"
	LessThanOrEqual    ConditionType = "<="
	GreaterThanOrEqual ConditionType = ">="
	In                 ConditionType = "IN"
	Custom             ConditionType = "CUSTOM"
)

// Aggregation is a supported aggregate function.
type Aggregation string

const (
	AggCount Aggregation = "count"
	AggSum   Aggregation = "sum"
	AggAvg   Aggregation = "avg"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
)

// Valid reports whether a is supported.
func (a Aggregation) Valid() bool {
	switch a {
	case AggCount, AggSum, AggAvg, AggMin, AggMax:
		return true
	}
	return false
}

// Condition is one WHERE predicate.
type Condition struct {
	Field    string
	Type     ConditionType
	Value    any
	rawQuery *string
}

// WhereCond builds a predicate on a plain column.
func WhereCond(field string, condType ConditionType, value any) Condition {
	if condType == Custom {
		//nolint:forbidigo // panic prevents misuse; custom conditions must provide raw SQL via WhereRawCond.
		panic("Use WhereRawCond for Custom type")
	}
	return Condition{Field: field, Type: condType, Value: value}
}

// WhereRawCond builds a predicate from trusted SQL. Placeholders $1..$n refer to params and are
// renumbered when the clause is assembled.
func WhereRawCond(rawQuery string, params ...any) Condition {
	queryStr := rawQuery
	var value any = params
	if len(params) == 0 {
		value = nil
	} else if len(params) == 1 {
		value = params[0]
	}
	return Condition{Type: Custom, rawQuery: &queryStr, Value: value}
}

// AggregateQueryOptions describes one aggregate over a fact table.
type AggregateQueryOptions struct {
	Table       string
	Aggregation Aggregation
	// ValueColumn is aggregated by every function except count.
	ValueColumn string
	// DimensionColumn is the JSONB column GroupBy keys are read from.
	DimensionColumn string
	GroupBy         []string
	Conditions      []Condition
	Limit           int
}

func sanitizeIdentifier(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

// sanitizeQualifiedIdentifier quotes each dot-separated part of an identifier.
func sanitizeQualifiedIdentifier(ident string) string {
	return pgx.Identifier(strings.Split(ident, ".")).Sanitize()
}

// SanitizeJSONKey keeps only alphanumerics, underscore and hyphen.
func SanitizeJSONKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// JSONTextExpr renders column->>'key' with both parts sanitised.
func JSONTextExpr(column, key string) string {
	return fmt.Sprintf("%s->>'%s'", sanitizeQualifiedIdentifier(column), SanitizeJSONKey(key))
}

// BuildAggregateQuery renders
//
//	SELECT <dims...>, AGG(value) AS "value" FROM t WHERE ... GROUP BY 1..n ORDER BY "value" DESC LIMIT $k
//
// Group keys are selected under their sanitised names. Unknown aggregations yield an error.
func BuildAggregateQuery(opts AggregateQueryOptions) (string, []any, error) {
	if !opts.Aggregation.Valid() {
		return "", nil, fmt.Errorf("unsupported aggregation %q", opts.Aggregation)
	}
	if opts.Table == "" {
		return "", nil, fmt.Errorf("table is required")
	}

	selects := make([]string, 0, len(opts.GroupBy)+1)
	groupOrdinals := make([]string, 0, len(opts.GroupBy))
	for _, key := range opts.GroupBy {
		clean := SanitizeJSONKey(key)
		if clean == "" {
			return "", nil, fmt.Errorf("invalid group key %q", key)
		}
		selects = append(selects, fmt.Sprintf("%s AS %s", JSONTextExpr(opts.DimensionColumn, clean), sanitizeIdentifier(clean)))
		groupOrdinals = append(groupOrdinals, strconv.Itoa(len(selects)))
	}
	selects = append(selects, aggregateExpr(opts.Aggregation, opts.ValueColumn)+` AS "value"`)

	var q strings.Builder
	q.WriteString("SELECT ")
	q.WriteString(strings.Join(selects, ", "))
	q.WriteString(" FROM ")
	q.WriteString(sanitizeIdentifier(opts.Table))

	where, args, next := buildWhereClause(opts.Conditions, 1)
	if where != "" {
		q.WriteString(" ")
		q.WriteString(where)
	}
	if len(groupOrdinals) > 0 {
		q.WriteString(" GROUP BY ")
		q.WriteString(strings.Join(groupOrdinals, ", "))
		q.WriteString(` ORDER BY "value" DESC`)
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&q, " LIMIT $%d", next)
		args = append(args, opts.Limit)
	}
	return q.String(), args, nil
}

func aggregateExpr(agg Aggregation, valueColumn string) string {
	if agg == AggCount {
		return "COUNT(*)"
	}
	return fmt.Sprintf("COALESCE(%s(%s), 0)", strings.ToUpper(string(agg)), sanitizeQualifiedIdentifier(valueColumn))
}

func handleStandardCondition(cond Condition, field string, paramCount int) (string, []any, int) {
	return fmt.Sprintf("%s %s $%d", field, cond.Type, paramCount), []any{cond.Value}, paramCount + 1
}

func handleInCondition(cond Condition, field string, paramCount int) (string, []any, int) {
	rv := reflect.ValueOf(cond.Value)
	if rv.Kind() != reflect.Slice || rv.Len() == 0 {
		return "", nil, paramCount
	}
	placeholders := make([]string, rv.Len())
	args := make([]any, rv.Len())
	current := paramCount
	for i := range rv.Len() {
		placeholders[i] = fmt.Sprintf("$%d", current)
		args[i] = rv.Index(i).Interface()
		current++
	}
	return fmt.Sprintf("%s IN (%s)", field, strings.Join(placeholders, ", ")), args, current
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

func handleCustomCondition(cond Condition, paramCount int) (string, []any, int) {
	if cond.rawQuery == nil || *cond.rawQuery == "" {
		return "", nil, paramCount
	}
	conditionStr := *cond.rawQuery
	if cond.Value == nil {
		return conditionStr, nil, paramCount
	}

	var params []any
	if paramSlice, ok := cond.Value.([]any); ok {
		params = paramSlice
	} else {
		params = []any{cond.Value}
	}

	// Renumber $n so $10 is not confused with $1.
	var args []any
	current := paramCount
	idxMap := make(map[int]int)
	conditionStr = placeholderRe.ReplaceAllStringFunc(conditionStr, func(m string) string {
		n, err := strconv.Atoi(m[1:])
		if err != nil || n < 1 || n > len(params) {
			return m
		}
		if _, ok := idxMap[n]; !ok {
			idxMap[n] = current
			args = append(args, params[n-1])
			current++
		}
		return fmt.Sprintf("$%d", idxMap[n])
	})
	return conditionStr, args, current
}

func processCondition(cond Condition, paramCount int) (string, []any, int) {
	if cond.Type == Custom {
		return handleCustomCondition(cond, paramCount)
	}
	if cond.Field == "" {
		return "", nil, paramCount
	}
	field := sanitizeQualifiedIdentifier(cond.Field)
	switch cond.Type {
	case In:
		return handleInCondition(cond, field, paramCount)
	case Equal, NotEqual, GreaterThan, LessThan, LessThanOrEqual, GreaterThanOrEqual:
		return handleStandardCondition(cond, field, paramCount)
	}
	return "", nil, paramCount
}

func buildWhereClause(inputConditions []Condition, startParamIndex int) (string, []any, int) {
	conditions := make([]string, 0, len(inputConditions))
	args := []any{}
	paramCount := startParamIndex
	for _, cond := range inputConditions {
		conditionStr, newArgs, next := processCondition(cond, paramCount)
		if conditionStr != "" {
			conditions = append(conditions, conditionStr)
			args = append(args, newArgs...)
			paramCount = next
		}
	}
	if len(conditions) == 0 {
		return "", args, paramCount
	}
	return "WHERE " + strings.Join(conditions, " AND "), args, paramCount
}
