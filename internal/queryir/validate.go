package queryir

import (
	"errors"
	"fmt"

	"github.com/roach88/tether/internal/ir"
)

// ValidationError reports a query that cannot run against the schema.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks q against the table schema. All problems are joined
// into the returned error.
func Validate(q Query) error {
	v := &validator{}
	v.query(q)
	return errors.Join(v.errs...)
}

type validator struct {
	errs []error
}

func (v *validator) add(field, format string, args ...any) {
	v.errs = append(v.errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) query(q Query) {
	switch query := q.(type) {
	case Select:
		v.selectQuery(query)
	case *Select:
		if query == nil {
			v.add("", "nil query")
			return
		}
		v.selectQuery(*query)
	case nil:
		v.add("", "nil query")
	default:
		v.add("", "unsupported query type %T", q)
	}
}

func (v *validator) selectQuery(s Select) {
	if Columns(s.From) == nil {
		v.add("", "unknown table %q", s.From)
		return
	}
	if s.Limit < 0 {
		v.add("limit", "must not be negative, got %d", s.Limit)
	}
	if s.Filter != nil {
		v.predicate(s.From, s.Filter)
	}
}

func (v *validator) predicate(t Table, p Predicate) {
	switch pred := p.(type) {
	case Equals:
		v.value(t, pred.Field, pred.Value)
	case *Equals:
		v.value(t, pred.Field, pred.Value)
	case In:
		v.in(t, pred)
	case *In:
		v.in(t, *pred)
	case And:
		for _, sub := range pred.Predicates {
			v.predicate(t, sub)
		}
	case *And:
		for _, sub := range pred.Predicates {
			v.predicate(t, sub)
		}
	default:
		v.add("", "unsupported predicate type %T", p)
	}
}

func (v *validator) in(t Table, pred In) {
	if len(pred.Values) == 0 {
		v.add(pred.Field, "in requires at least one value")
		return
	}
	for _, val := range pred.Values {
		v.value(t, pred.Field, val)
	}
}

func (v *validator) value(t Table, field string, val ir.Value) {
	col, ok := Lookup(t, field)
	if !ok {
		v.add(field, "unknown column of %s", t)
		return
	}
	if !col.Filterable {
		v.add(field, "column cannot be filtered")
		return
	}
	switch val.(type) {
	case ir.String:
		if col.Kind != KindString {
			v.add(field, "expected %s, got string", col.Kind)
		}
	case ir.Int:
		if col.Kind != KindInt {
			v.add(field, "expected %s, got int", col.Kind)
		}
	default:
		v.add(field, "expected %s, got %s", col.Kind, ir.Kind(val))
	}
}
