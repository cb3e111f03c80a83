package queryir

import "github.com/roach88/tether/internal/ir"

// Query is a sealed interface over the query node types.
type Query interface {
	queryNode()
}

// Predicate is a sealed interface over the filter node types.
type Predicate interface {
	predicateNode()
}

// Table names a diagnostics table.
type Table string

const (
	TableCalls        Table = "calls"
	TableTransactions Table = "transactions"
)

// Select reads rows of one table within a session, filtered by Filter
// (nil = every row). Limit <= 0 means no limit.
//
// Rows always come back in the table's logical order: seq for calls,
// surface then seq for transactions.
type Select struct {
	From   Table
	Filter Predicate
	Limit  int
}

func (Select) queryNode() {}

// Equals matches rows whose field equals Value.
type Equals struct {
	Field string
	Value ir.Value
}

func (Equals) predicateNode() {}

// In matches rows whose field equals any of Values. An empty In never
// validates.
type In struct {
	Field  string
	Values []ir.Value
}

func (In) predicateNode() {}

// And matches rows satisfying every predicate. An empty And matches
// everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Kind is the value kind of a column.
type Kind int

const (
	KindString Kind = iota
	KindInt
)

func (k Kind) String() string {
	if k == KindInt {
		return "int"
	}
	return "string"
}

// Column is one filterable or selected column.
type Column struct {
	Name       string
	Kind       Kind
	Filterable bool
}

var schema = map[Table][]Column{
	TableCalls: {
		{Name: "seq", Kind: KindInt, Filterable: true},
		{Name: "call_id", Kind: KindInt, Filterable: true},
		{Name: "module", Kind: KindString, Filterable: true},
		{Name: "method", Kind: KindString, Filterable: true},
		{Name: "convention", Kind: KindString, Filterable: true},
		{Name: "state", Kind: KindString, Filterable: true},
		{Name: "code", Kind: KindString, Filterable: true},
		{Name: "started_at", Kind: KindInt},
		{Name: "duration_ns", Kind: KindInt},
	},
	TableTransactions: {
		{Name: "surface_id", Kind: KindInt, Filterable: true},
		{Name: "seq", Kind: KindInt, Filterable: true},
		{Name: "mutation_count", Kind: KindInt, Filterable: true},
		{Name: "kinds", Kind: KindString},
		{Name: "commit_ns", Kind: KindInt},
		{Name: "diff_ns", Kind: KindInt},
		{Name: "mount_ns", Kind: KindInt},
		{Name: "failure", Kind: KindString, Filterable: true},
	},
}

// Columns returns the columns of t in select order, or nil for an
// unknown table.
func Columns(t Table) []Column {
	cols := schema[t]
	if cols == nil {
		return nil
	}
	return append([]Column(nil), cols...)
}

// Lookup returns the named column of t.
func Lookup(t Table, name string) (Column, bool) {
	for _, c := range schema[t] {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}
