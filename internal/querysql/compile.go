// Package querysql compiles diagnostics queries to parameterized SQLite.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/queryir"
)

// Every statement orders by the table's logical sequence so results are
// deterministic. COLLATE BINARY is not needed: the keys are integers.
var orderBy = map[queryir.Table]string{
	queryir.TableCalls:        "seq ASC",
	queryir.TableTransactions: "surface_id ASC, seq ASC",
}

// Compile converts q to SQL scoped to sessionID. Values are always bound
// as parameters, never interpolated.
func Compile(sessionID string, q queryir.Query) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, fmt.Errorf("invalid query: %w", err)
	}

	var sel queryir.Select
	switch query := q.(type) {
	case queryir.Select:
		sel = query
	case *queryir.Select:
		sel = *query
	}

	cols := queryir.Columns(sel.From)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE session_id = ?", strings.Join(names, ", "), sel.From)
	params := []any{sessionID}

	if sel.Filter != nil {
		where, filterParams, err := compilePredicate(sel.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(" AND ")
		b.WriteString(where)
		params = append(params, filterParams...)
	}

	b.WriteString(" ORDER BY ")
	b.WriteString(orderBy[sel.From])
	if sel.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, sel.Limit)
	}
	return b.String(), params, nil
}

func compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		return compileEquals(pred)
	case *queryir.Equals:
		return compileEquals(*pred)
	case queryir.In:
		return compileIn(pred)
	case *queryir.In:
		return compileIn(*pred)
	case queryir.And:
		return compileAnd(pred)
	case *queryir.And:
		return compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileEquals(eq queryir.Equals) (string, []any, error) {
	param, err := toParam(eq.Value)
	if err != nil {
		return "", nil, err
	}
	return eq.Field + " = ?", []any{param}, nil
}

func compileIn(in queryir.In) (string, []any, error) {
	params := make([]any, len(in.Values))
	for i, v := range in.Values {
		param, err := toParam(v)
		if err != nil {
			return "", nil, err
		}
		params[i] = param
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(params)), ", ")
	return fmt.Sprintf("%s IN (%s)", in.Field, placeholders), params, nil
}

func compileAnd(and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}
	parts := make([]string, 0, len(and.Predicates))
	var params []any
	for _, sub := range and.Predicates {
		sql, subParams, err := compilePredicate(sub)
		if err != nil {
			return "", nil, err
		}
		if _, nested := sub.(queryir.And); nested {
			sql = "(" + sql + ")"
		}
		parts = append(parts, sql)
		params = append(params, subParams...)
	}
	return strings.Join(parts, " AND "), params, nil
}

// toParam converts a filter value to a database/sql argument.
func toParam(v ir.Value) (any, error) {
	switch val := v.(type) {
	case ir.String:
		return string(val), nil
	case ir.Int:
		return int64(val), nil
	default:
		return nil, fmt.Errorf("unsupported filter value %s", ir.Kind(v))
	}
}
