// Package queryir is the filter representation for diagnostics queries.
//
// A query selects rows of one diagnostics table (calls or transactions)
// within a session:
//
//	Select{
//	  From: TableCalls,
//	  Filter: And{Predicates: []Predicate{
//	    Equals{Field: "state", Value: ir.String("failed")},
//	    In{Field: "module", Values: []ir.Value{ir.String("Counter"), ir.String("Device")}},
//	  }},
//	  Limit: 20,
//	}
//
// Query and Predicate are sealed interfaces; backends switch over the
// concrete types exhaustively. The querysql package compiles queries to
// parameterized SQLite statements.
//
// Fields are checked against a fixed schema per table (see Columns), so a
// filter can never name a column the store does not have, and values must
// match the column kind. Filters are conjunctive: there is no OR, and
// In covers the common "one of" case.
package queryir
