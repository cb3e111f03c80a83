package queryir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/tether/internal/ir"
)

// ParseFilter parses "field=value" terms into a conjunction over t.
// A comma-separated value ("state=failed,completed") becomes an In.
// Values are typed by the column kind.
func ParseFilter(t Table, terms []string) (Predicate, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	preds := make([]Predicate, 0, len(terms))
	for _, term := range terms {
		p, err := parseTerm(t, term)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return And{Predicates: preds}, nil
}

func parseTerm(t Table, term string) (Predicate, error) {
	field, raw, ok := strings.Cut(term, "=")
	field = strings.TrimSpace(field)
	if !ok || field == "" {
		return nil, &ValidationError{Message: fmt.Sprintf("filter %q: expected field=value", term)}
	}
	col, ok := Lookup(t, field)
	if !ok || !col.Filterable {
		return nil, &ValidationError{Field: field, Message: fmt.Sprintf("cannot filter %s on this column", t)}
	}

	parts := strings.Split(raw, ",")
	values := make([]ir.Value, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if col.Kind == KindInt {
			n, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, &ValidationError{Field: field, Message: fmt.Sprintf("expected int, got %q", part)}
			}
			values[i] = ir.Int(n)
			continue
		}
		values[i] = ir.String(part)
	}
	if len(values) == 1 {
		return Equals{Field: field, Value: values[0]}, nil
	}
	return In{Field: field, Values: values}, nil
}
