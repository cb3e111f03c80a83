package manifest

import (
	_ "embed"
	"fmt"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/module"
)

//go:embed schema.cue
var schemaCUE string

// CompileError is a manifest error with its CUE position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// withSchema unifies v with the manifest schema built in v's context.
func withSchema(v cue.Value) cue.Value {
	schema := v.Context().CompileString(schemaCUE, cue.Filename("schema.cue"))
	return schema.Unify(v)
}

// CompileModule parses one module struct, e.g.
//
//	spec, err := CompileModule(v.LookupPath(cue.ParsePath("module.Counter")))
//
// v should already be unified with the schema (Compile and Load do that).
func CompileModule(v cue.Value) (*ModuleSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ModuleSpec{Constants: ir.Object{}}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].String()
	}

	constVal := v.LookupPath(cue.ParsePath("constants"))
	if constVal.Exists() {
		consts, err := compileConstants(constVal)
		if err != nil {
			return nil, err
		}
		spec.Constants = consts
	}

	methodsVal := v.LookupPath(cue.ParsePath("methods"))
	if !methodsVal.Exists() {
		return nil, &CompileError{
			Field:   spec.Name + ".methods",
			Message: "methods is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := methodsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		m, err := compileMethod(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		spec.Methods = append(spec.Methods, m)
	}
	if len(spec.Methods) == 0 {
		return nil, &CompileError{
			Field:   spec.Name + ".methods",
			Message: "at least one method is required",
			Pos:     v.Pos(),
		}
	}

	return spec, nil
}

// compileConstants round-trips the struct through JSON so numbers keep
// the Int/Float split of ir.Decode.
func compileConstants(v cue.Value) (ir.Object, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	decoded, err := ir.Decode(data)
	if err != nil {
		return nil, &CompileError{Field: "constants", Message: err.Error(), Pos: v.Pos()}
	}
	obj, ok := decoded.(ir.Object)
	if !ok {
		return nil, &CompileError{Field: "constants", Message: "must be a struct", Pos: v.Pos()}
	}
	return obj, nil
}

func compileMethod(name string, v cue.Value) (MethodSpec, error) {
	m := MethodSpec{Name: name}
	field := func(f string) string { return name + "." + f }

	conv, err := lookupString(v, "convention")
	if err != nil {
		return m, err
	}
	if m.Convention, err = module.ParseConvention(conv); err != nil {
		return m, &CompileError{Field: field("convention"), Message: err.Error(), Pos: v.Pos()}
	}

	arity, err := lookupInt(v, "arity")
	if err != nil {
		return m, err
	}
	m.Arity = int(arity)

	optional, err := lookupInt(v, "optional")
	if err != nil {
		return m, err
	}
	m.Optional = int(optional)
	if m.Optional > m.Arity {
		return m, &CompileError{
			Field:   field("optional"),
			Message: fmt.Sprintf("optional (%d) exceeds arity (%d)", m.Optional, m.Arity),
			Pos:     v.LookupPath(cue.ParsePath("optional")).Pos(),
		}
	}

	behavior, err := lookupString(v, "behavior")
	if err != nil {
		return m, err
	}
	m.Behavior = Behavior(behavior)

	if val := v.LookupPath(cue.ParsePath("value")); val.Exists() {
		data, err := val.MarshalJSON()
		if err != nil {
			return m, formatCUEError(err)
		}
		if m.Value, err = ir.Decode(data); err != nil {
			return m, &CompileError{Field: field("value"), Message: err.Error(), Pos: val.Pos()}
		}
	}

	if m.Key, err = optionalString(v, "key"); err != nil {
		return m, err
	}
	if m.Code, err = optionalString(v, "code"); err != nil {
		return m, err
	}
	if m.Message, err = optionalString(v, "message"); err != nil {
		return m, err
	}

	if lv := v.LookupPath(cue.ParsePath("limit")); lv.Exists() {
		limit, err := lv.Int64()
		if err != nil {
			return m, formatCUEError(err)
		}
		m.Limit = &limit
	}

	delay, err := optionalString(v, "delay")
	if err != nil {
		return m, err
	}
	if delay != "" {
		if m.Delay, err = time.ParseDuration(delay); err != nil {
			return m, &CompileError{Field: field("delay"), Message: err.Error(), Pos: v.LookupPath(cue.ParsePath("delay")).Pos()}
		}
	}

	if err := checkMethod(m); err != nil {
		return m, &CompileError{Field: name, Message: err.Error(), Pos: v.Pos()}
	}
	return m, nil
}

// checkMethod enforces the combinations CUE cannot express.
func checkMethod(m MethodSpec) error {
	switch m.Behavior {
	case BehaviorSettleTwice:
		if m.Convention != module.ConventionPromise {
			return fmt.Errorf("settle_twice requires convention \"promise\", got %q", m.Convention)
		}
	case BehaviorReject:
		if m.Code == "" {
			return fmt.Errorf("reject requires a code")
		}
	case BehaviorEcho:
		if m.Arity < 1 {
			return fmt.Errorf("echo requires arity >= 1")
		}
	}
	if m.Delay > 0 && m.Convention != module.ConventionPromise {
		return fmt.Errorf("delay requires convention \"promise\", got %q", m.Convention)
	}
	return nil
}

// concrete resolves a value to its default when it has one.
func concrete(v cue.Value) cue.Value {
	if d, ok := v.Default(); ok {
		return d
	}
	return v
}

func lookupString(v cue.Value, path string) (string, error) {
	s, err := concrete(v.LookupPath(cue.ParsePath(path))).String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func lookupInt(v cue.Value, path string) (int64, error) {
	n, err := concrete(v.LookupPath(cue.ParsePath(path))).Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return n, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return "", nil
	}
	s, err := sv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// formatCUEError converts CUE errors to CompileError with position info.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
