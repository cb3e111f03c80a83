package host

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/petermattis/goid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/config"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/manifest"
	"github.com/roach88/tether/internal/module"
	"github.com/roach88/tether/internal/mounting"
	"github.com/roach88/tether/internal/shadow"
	"github.com/roach88/tether/internal/store"
)

const counterManifest = `
module: Counter: {
	constants: initial: 0
	methods: {
		increment: {convention: "promise", behavior: "increment"}
		current: {convention: "sync", behavior: "read", key: "increment"}
	}
}
`

func counterModules(t *testing.T) []module.NativeModule {
	t.Helper()
	specs, err := manifest.CompileString("counter.cue", counterManifest)
	require.NoError(t, err)
	defs, err := manifest.BuildAll(specs)
	require.NoError(t, err)
	out := make([]module.NativeModule, len(defs))
	for i, d := range defs {
		out[i] = d
	}
	return out
}

func startHost(t *testing.T, cfg config.Config, opts ...Option) *Host {
	t.Helper()
	ctx := context.Background()
	h, err := New(ctx, cfg, counterModules(t), opts...)
	require.NoError(t, err)
	require.NoError(t, h.Start(ctx))
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return h
}

func TestHost_CounterScenario(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "diag.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := startHost(t, config.Default(), WithStore(db))
	ctx := context.Background()

	_, err = h.Eval(ctx, "counter.js", `var result = nativeModules.Counter.increment();`)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, err := h.Script.Global(ctx, "result")
		return err == nil && ir.Equal(v, ir.Int(1))
	}, 2*time.Second, time.Millisecond)

	v, err := h.Eval(ctx, "read.js", `nativeModules.Counter.current()`)
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1), v)

	n, err := testutil.GatherAndCount(h.Metrics.Registry(), "tether_bridge_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = testutil.GatherAndCount(h.Metrics.Registry(), "tether_loop_executed_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "one series per loop")

	require.NotNil(t, h.Session)
	require.Eventually(t, func() bool {
		calls, err := db.ReadCalls(ctx, h.Session.ID())
		return err == nil && len(calls) == 2
	}, 2*time.Second, time.Millisecond)

	calls, err := db.ReadCalls(ctx, h.Session.ID())
	require.NoError(t, err)
	methods := []string{calls[0].Method, calls[1].Method}
	assert.ElementsMatch(t, []string{"increment", "current"}, methods)
}

func TestHost_MountOnMainAndEvents(t *testing.T) {
	var (
		mu   sync.Mutex
		gids []int64
	)
	record := func(shadow.SurfaceID) {
		mu.Lock()
		defer mu.Unlock()
		gids = append(gids, goid.Get())
	}
	h := startHost(t, config.Default(), WithDelegate(mounting.DelegateFuncs{Will: record, Did: record}))
	ctx := context.Background()

	_, err := h.Eval(ctx, "events.js", `
		var presses = [];
		globalThis.__dispatchEvent = function (e) { presses.push(e.tag); };
	`)
	require.NoError(t, err)

	_, err = h.Mounter.StartSurface(1)
	require.NoError(t, err)

	root := shadow.NewNode(1, 1, "View", nil,
		shadow.NewNode(1, 2, "Button", ir.NewObject(ir.P("title", ir.String("+")))))

	// Built on this goroutine, mounted on main.
	tx, err := h.Mounter.Commit(ctx, 1, root)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tx.Seq)

	mainGID := h.Main.Goroutine()
	mu.Lock()
	require.Len(t, gids, 2)
	for _, g := range gids {
		assert.Equal(t, mainGID, g)
	}
	mu.Unlock()

	var snap *mounting.ViewSnapshot
	require.NoError(t, h.Main.InvokeSync(ctx, func() {
		snap = h.Views.(*mounting.MemoryHost).Snapshot(1)
	}))
	require.NotNil(t, snap)
	assert.Equal(t, "View", snap.Component)
	require.Len(t, snap.Children, 1)

	em := h.Emitter(1, 2)
	assert.True(t, em.Dispatch("press", ir.Null{}))

	require.Eventually(t, func() bool {
		v, err := h.Script.Global(ctx, "presses")
		return err == nil && ir.Equal(v, ir.Array{ir.Int(2)})
	}, 2*time.Second, time.Millisecond)

	// Unmounting the button kills its emitter.
	_, err = h.Mounter.Commit(ctx, 1, shadow.NewNode(1, 1, "View", nil))
	require.NoError(t, err)
	assert.False(t, em.Dispatch("press", ir.Null{}))
	assert.Empty(t, h.Fatal())
}

func TestHost_DuplicateModuleRejected(t *testing.T) {
	mods := append(counterModules(t), counterModules(t)...)
	_, err := New(context.Background(), config.Default(), mods)
	assert.ErrorIs(t, err, module.ErrDuplicateModule)
}

func TestHost_DuplicateModuleOverwrite(t *testing.T) {
	cfg := config.Default()
	cfg.Bridge.DuplicatePolicy = "overwrite"
	mods := append(counterModules(t), counterModules(t)...)
	h, err := New(context.Background(), cfg, mods)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Registry.Len())
	assert.Equal(t, module.Overwrite, h.Registry.Policy())
	require.NoError(t, h.Close(context.Background()))
}

func TestHost_WithViewHost(t *testing.T) {
	views := mounting.NewMemoryHost()
	h := startHost(t, config.Default(), WithViewHost(views))
	assert.Same(t, views, h.Views)

	ctx := context.Background()
	_, err := h.Mounter.StartSurface(1)
	require.NoError(t, err)
	_, err = h.Mounter.Commit(ctx, 1, shadow.NewNode(1, 1, "View", nil))
	require.NoError(t, err)

	var snap *mounting.ViewSnapshot
	require.NoError(t, h.Main.InvokeSync(ctx, func() { snap = views.Snapshot(1) }))
	require.NotNil(t, snap)
	assert.Equal(t, "View", snap.Component)
}

func TestHost_CloseWithoutStart(t *testing.T) {
	h, err := New(context.Background(), config.Default(), counterModules(t))
	require.NoError(t, err)
	require.NoError(t, h.Close(context.Background()))
	assert.True(t, h.Registry.Invalidated())
	require.NoError(t, h.Close(context.Background()))
}

func TestHost_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Bridge.Codec = "xml"
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}
