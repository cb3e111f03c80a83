package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/ir"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name  string
		table Table
		terms []string
		want  Predicate
	}{
		{"none", TableCalls, nil, nil},
		{"single string", TableCalls, []string{"state=failed"},
			Equals{Field: "state", Value: ir.String("failed")}},
		{"typed int", TableCalls, []string{"call_id=7"},
			Equals{Field: "call_id", Value: ir.Int(7)}},
		{"list becomes in", TableCalls, []string{"module=Counter, Device"},
			In{Field: "module", Values: []ir.Value{ir.String("Counter"), ir.String("Device")}}},
		{"empty value", TableCalls, []string{"code="},
			Equals{Field: "code", Value: ir.String("")}},
		{"conjunction", TableTransactions, []string{"surface_id=1", "failure="},
			And{Predicates: []Predicate{
				Equals{Field: "surface_id", Value: ir.Int(1)},
				Equals{Field: "failure", Value: ir.String("")},
			}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilter(tt.table, tt.terms)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if got != nil {
				assert.NoError(t, Validate(Select{From: tt.table, Filter: got}))
			}
		})
	}
}

func TestParseFilter_Errors(t *testing.T) {
	tests := []struct {
		name    string
		term    string
		message string
	}{
		{"no equals", "state", "expected field=value"},
		{"no field", "=failed", "expected field=value"},
		{"unknown column", "surface_id=1", "cannot filter calls"},
		{"not filterable", "started_at=1", "cannot filter calls"},
		{"bad int", "seq=first", `expected int, got "first"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilter(TableCalls, []string{tt.term})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}
