package module

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/ir"
)

func echo(_ context.Context, args ir.Array) (ir.Value, error) {
	if len(args) == 0 {
		return ir.Null{}, nil
	}
	return args[0], nil
}

func counterModule(t *testing.T) *Definition {
	t.Helper()
	return NewBuilder("Counter").
		Constant("initial", ir.Int(0)).
		Promise("increment", 0, func(_ context.Context, _ ir.Array, p Promise) error {
			p.Resolve(ir.Int(1))
			return nil
		}).
		Sync("current", 0, func(context.Context, ir.Array) (ir.Value, error) { return ir.Int(0), nil }).
		Normal("log", 1, echo, WithOptional(1)).
		MustBuild()
}

func TestRegistry_ResolveReturnsRegisteredMethod(t *testing.T) {
	r := NewRegistry()
	counterID, err := r.Register(counterModule(t))
	require.NoError(t, err)
	echoID, err := r.Register(NewBuilder("Echo").Sync("echo", 1, echo).MustBuild())
	require.NoError(t, err)

	assert.Equal(t, 0, counterID)
	assert.Equal(t, 1, echoID)

	m, err := r.Resolve(counterID, 0)
	require.NoError(t, err)
	assert.Equal(t, "increment", m.Descriptor.Name)
	assert.Equal(t, ConventionPromise, m.Descriptor.Convention)
	assert.Equal(t, "Counter.increment", m.QualifiedName())

	m, err = r.Resolve(echoID, 0)
	require.NoError(t, err)
	got, err := m.Invoke(context.Background(), ir.NewArray(ir.String("hi")), nil)
	require.NoError(t, err)
	assert.Equal(t, ir.String("hi"), got)
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := NewRegistry()
	id := r.MustRegister(counterModule(t))

	_, err := r.Resolve(7, 0)
	assert.ErrorIs(t, err, ErrModuleNotFound)

	_, err = r.Resolve(-1, 0)
	assert.ErrorIs(t, err, ErrModuleNotFound)

	_, err = r.Resolve(id, 3)
	assert.ErrorIs(t, err, ErrMethodNotFound)

	_, err = r.ResolveName("Counter", "decrement")
	assert.ErrorIs(t, err, ErrMethodNotFound)

	_, err = r.ResolveName("Missing", "x")
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestRegistry_ResolveName(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(counterModule(t))

	m, err := r.ResolveName("Counter", "log")
	require.NoError(t, err)
	assert.Equal(t, 0, m.ModuleID)
	assert.Equal(t, 2, m.MethodID)
	assert.Equal(t, 1, m.Descriptor.Optional)
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(counterModule(t))

	for i := 0; i < 3; i++ {
		_, err := r.Register(counterModule(t))
		assert.ErrorIs(t, err, ErrDuplicateModule)
	}
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DuplicateOverwriteKeepsIDAndOrder(t *testing.T) {
	r := NewRegistry(WithDuplicatePolicy(Overwrite))
	r.MustRegister(NewBuilder("A").Sync("a", 0, echo).MustBuild())
	id := r.MustRegister(counterModule(t))

	before, err := r.MethodsFor("Counter")
	require.NoError(t, err)

	replacement := counterModule(t)
	newID, err := r.Register(replacement)
	require.NoError(t, err)
	assert.Equal(t, id, newID)

	after, err := r.MethodsFor("Counter")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, []string{"A", "Counter"}, r.Names())

	got, ok := r.Lookup("Counter")
	require.True(t, ok)
	assert.Same(t, replacement, got)
}

func TestRegistry_MethodsForReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(counterModule(t))

	first, err := r.MethodsFor("Counter")
	require.NoError(t, err)
	first[0].Name = "mutated"

	second, err := r.MethodsFor("Counter")
	require.NoError(t, err)
	assert.Equal(t, "increment", second[0].Name)
	assert.Equal(t, []string{"increment", "current", "log"}, names(second))

	_, err = r.MethodsFor("Nope")
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func names(descs []MethodDescriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Name
	}
	return out
}

func TestRegistry_Config(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(counterModule(t))
	r.MustRegister(NewBuilder("Bare").Sync("x", 0, echo).MustBuild())

	cfg := r.Config()
	require.Len(t, cfg, 2)
	assert.Equal(t, 0, cfg[0].ID)
	assert.Equal(t, "Counter", cfg[0].Name)
	assert.Equal(t, ir.Int(0), cfg[0].Constants["initial"])
	assert.Len(t, cfg[0].Methods, 3)
	assert.NotNil(t, cfg[1].Constants)
}

func TestRegistry_InvalidModules(t *testing.T) {
	r := NewRegistry()

	_, err := NewBuilder("").Build()
	assert.ErrorIs(t, err, ErrInvalidModule)

	_, err = r.Register(bareModule{})
	assert.ErrorIs(t, err, ErrInvalidModule)
	assert.Equal(t, 0, r.Len())

	_, err = NewBuilder("Dup").Sync("a", 0, echo).Sync("a", 0, echo).Build()
	assert.ErrorIs(t, err, ErrInvalidModule)

	_, err = NewBuilder("Neg").Sync("a", -1, echo).Build()
	assert.ErrorIs(t, err, ErrInvalidModule)

	_, err = NewBuilder("NoBody").Sync("a", 0, nil).Build()
	assert.ErrorIs(t, err, ErrInvalidModule)
}

type bareModule struct{}

func (bareModule) Name() string { return "Bare" }
func (bareModule) Methods() []MethodDescriptor {
	return []MethodDescriptor{{Name: "x", Convention: Convention(9)}}
}
func (bareModule) Constants() ir.Object { return nil }
func (bareModule) Invoke(context.Context, string, ir.Array, Promise) (ir.Value, error) {
	return nil, nil
}

type recordingModule struct {
	*Definition
	log *[]string
}

func (m recordingModule) Invalidate() {
	*m.log = append(*m.log, m.Name())
}

func TestRegistry_InvalidateReverseOrder(t *testing.T) {
	var log []string
	r := NewRegistry()
	for _, name := range []string{"First", "Second", "Third"} {
		r.MustRegister(recordingModule{
			Definition: NewBuilder(name).Sync("x", 0, echo).MustBuild(),
			log:        &log,
		})
	}
	r.MustRegister(NewBuilder("Panicky").OnInvalidate(func() { panic("boom") }).MustBuild())

	r.Invalidate()
	r.Invalidate()

	assert.Equal(t, []string{"Third", "Second", "First"}, log)
	assert.True(t, r.Invalidated())
	assert.Equal(t, 0, r.Len())

	_, err := r.Register(counterModule(t))
	assert.ErrorIs(t, err, ErrRegistryInvalidated)

	_, err = r.Resolve(0, 0)
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestMethodDescriptor_CheckArgs(t *testing.T) {
	d := MethodDescriptor{Name: "log", Arity: 3, Optional: 2}
	assert.Equal(t, 1, d.Required())

	for n := 1; n <= 3; n++ {
		require.NoError(t, d.CheckArgs(n), "%d args", n)
	}

	err := d.CheckArgs(0)
	var ace *ArgumentCountError
	require.True(t, errors.As(err, &ace))
	assert.Equal(t, 0, ace.Received)
	assert.Equal(t, 1, ace.Required)
	assert.Equal(t, 3, ace.Expected)
	assert.Contains(t, err.Error(), "between 1 and 3")

	assert.Error(t, d.CheckArgs(4))

	exact := MethodDescriptor{Name: "add", Arity: 2}
	err = exact.CheckArgs(3)
	require.Error(t, err)
	assert.Equal(t, "add: received 3 arguments, but 2 was expected", err.Error())
}

func TestMethodDescriptor_AllOptional(t *testing.T) {
	d := MethodDescriptor{Name: "increment", Arity: 1, Optional: 1}
	assert.NoError(t, d.CheckArgs(0))
	assert.NoError(t, d.CheckArgs(1))
	assert.Error(t, d.CheckArgs(2))
}

func TestBuilder_OptionalOverArityRejected(t *testing.T) {
	_, err := NewBuilder("Bad").Normal("log", 1, echo, WithOptional(2)).Build()
	assert.ErrorIs(t, err, ErrInvalidModule)
}

func TestConvention_Text(t *testing.T) {
	for _, c := range []Convention{ConventionNormal, ConventionPromise, ConventionSync} {
		text, err := c.MarshalText()
		require.NoError(t, err)

		var back Convention
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, c, back)
	}

	_, err := ParseConvention("async")
	assert.Error(t, err)
}

func TestDefinition_PromiseWithoutPromise(t *testing.T) {
	d := counterModule(t)
	_, err := d.Invoke(context.Background(), "increment", nil, nil)
	assert.Error(t, err)

	_, err = d.Invoke(context.Background(), "missing", nil, nil)
	assert.ErrorIs(t, err, ErrMethodNotFound)
}
