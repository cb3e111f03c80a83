package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/queryir"
)

const callColumns = "seq, call_id, module, method, convention, state, code, started_at, duration_ns"

func TestCompile_NoFilter(t *testing.T) {
	sql, params, err := Compile("s1", queryir.Select{From: queryir.TableCalls})
	require.NoError(t, err)

	assert.Equal(t, "SELECT "+callColumns+" FROM calls WHERE session_id = ? ORDER BY seq ASC", sql)
	assert.Equal(t, []any{"s1"}, params)
}

func TestCompile_Equals(t *testing.T) {
	sql, params, err := Compile("s1", &queryir.Select{
		From:   queryir.TableCalls,
		Filter: queryir.Equals{Field: "state", Value: ir.String("failed")},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "WHERE session_id = ? AND state = ?")
	assert.NotContains(t, sql, "failed")
	assert.Equal(t, []any{"s1", "failed"}, params)
}

func TestCompile_AndWithIn(t *testing.T) {
	sql, params, err := Compile("s1", queryir.Select{
		From: queryir.TableCalls,
		Filter: queryir.And{Predicates: []queryir.Predicate{
			queryir.In{Field: "module", Values: []ir.Value{ir.String("Counter"), ir.String("Device")}},
			&queryir.Equals{Field: "call_id", Value: ir.Int(3)},
		}},
		Limit: 5,
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "AND module IN (?, ?) AND call_id = ? ORDER BY seq ASC LIMIT ?")
	assert.Equal(t, []any{"s1", "Counter", "Device", int64(3), 5}, params)
}

func TestCompile_NestedAnd(t *testing.T) {
	sql, _, err := Compile("s1", queryir.Select{
		From: queryir.TableCalls,
		Filter: queryir.And{Predicates: []queryir.Predicate{
			queryir.Equals{Field: "state", Value: ir.String("failed")},
			queryir.And{Predicates: []queryir.Predicate{
				queryir.Equals{Field: "module", Value: ir.String("Counter")},
				queryir.Equals{Field: "method", Value: ir.String("increment")},
			}},
		}},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "state = ? AND (module = ? AND method = ?)")
}

func TestCompile_EmptyAnd(t *testing.T) {
	sql, params, err := Compile("s1", queryir.Select{
		From:   queryir.TableCalls,
		Filter: queryir.And{},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "AND 1 = 1")
	assert.Equal(t, []any{"s1"}, params)
}

func TestCompile_TransactionsOrder(t *testing.T) {
	sql, params, err := Compile("s1", queryir.Select{
		From:   queryir.TableTransactions,
		Filter: queryir.Equals{Field: "surface_id", Value: ir.Int(1)},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "FROM transactions WHERE session_id = ? AND surface_id = ?")
	assert.Contains(t, sql, "ORDER BY surface_id ASC, seq ASC")
	assert.Equal(t, []any{"s1", int64(1)}, params)
}

func TestCompile_RejectsInvalidQuery(t *testing.T) {
	tests := []struct {
		name  string
		query queryir.Query
	}{
		{"nil", nil},
		{"unknown table", queryir.Select{From: "sessions"}},
		{"unknown column", queryir.Select{
			From:   queryir.TableCalls,
			Filter: queryir.Equals{Field: "session_id", Value: ir.String("x")},
		}},
		{"wrong kind", queryir.Select{
			From:   queryir.TableCalls,
			Filter: queryir.Equals{Field: "seq", Value: ir.String("1")},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Compile("s1", tt.query)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid query")
		})
	}
}
