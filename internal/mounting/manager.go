package mounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/tether/internal/invoker"
	"github.com/roach88/tether/internal/shadow"
)

// MainInvoker schedules work on the main loop and knows whether the caller
// already runs there.
type MainInvoker interface {
	invoker.CallInvoker
	IsCurrent() bool
}

// FatalHandler receives mounting failures.
type FatalHandler func(err error)

// Manager mounts transactions on the main loop.
//
// Thread-safety model:
//   - Mount / StartSurface / StopSurface / Commit: safe from any goroutine
//   - host and delegate are only called on the main loop
//   - lastSeq is only touched on the main loop
type Manager struct {
	main     MainInvoker
	host     ViewHost
	delegate Delegate
	fatal    FatalHandler
	releaser Releaser
	recorder TransactionRecorder
	now      func() time.Time
	logger   *slog.Logger

	lastSeq map[shadow.SurfaceID]int64

	mu       sync.Mutex
	surfaces map[shadow.SurfaceID]*shadow.Tree
	treeOpts []shadow.TreeOption
}

// Option configures a Manager.
type Option func(*Manager)

// WithDelegate sets the mount delegate.
func WithDelegate(d Delegate) Option {
	return func(m *Manager) {
		m.delegate = d
	}
}

// WithFatalHandler sets the handler for mounting failures.
// Default: log at error level.
func WithFatalHandler(h FatalHandler) Option {
	return func(m *Manager) {
		m.fatal = h
	}
}

// WithReleaser sets the sink notified of deleted views and stopped
// surfaces.
func WithReleaser(r Releaser) Option {
	return func(m *Manager) {
		m.releaser = r
	}
}

// WithRecorder sets the sink for mounted transactions.
func WithRecorder(r TransactionRecorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithNow sets the wall clock for mount telemetry. Default: time.Now.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithTreeOptions sets the options of trees created by StartSurface.
func WithTreeOptions(opts ...shadow.TreeOption) Option {
	return func(m *Manager) {
		m.treeOpts = opts
	}
}

// WithLogger sets the manager's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a manager applying mutations to host on main.
func NewManager(main MainInvoker, host ViewHost, opts ...Option) *Manager {
	m := &Manager{
		main:     main,
		host:     host,
		delegate: DelegateFuncs{},
		now:      time.Now,
		logger:   slog.Default(),
		lastSeq:  make(map[shadow.SurfaceID]int64),
		surfaces: make(map[shadow.SurfaceID]*shadow.Tree),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fatal == nil {
		m.fatal = func(err error) {
			m.logger.Error("mounting failure", "error", err)
		}
	}
	return m
}

// Mount applies tx on the main loop and waits for it. Returns a *Failure
// when a mutation fails or the transaction is out of order, or ctx.Err()
// when ctx ends before the main loop picked the batch up.
func (m *Manager) Mount(ctx context.Context, tx *shadow.Transaction) error {
	if m.main.IsCurrent() {
		return m.mountOnMain(tx)
	}

	var err error
	if serr := m.main.InvokeSync(ctx, func() { err = m.mountOnMain(tx) }); serr != nil {
		return fmt.Errorf("mount surface %d seq %d: %w", tx.SurfaceID, tx.Seq, serr)
	}
	return err
}

func (m *Manager) mountOnMain(tx *shadow.Transaction) error {
	surface := tx.SurfaceID

	if last := m.lastSeq[surface]; tx.Seq <= last {
		f := &Failure{
			SurfaceID: surface,
			Seq:       tx.Seq,
			Index:     -1,
			Err:       fmt.Errorf("%w: got %d after %d", ErrOutOfOrderTransaction, tx.Seq, last),
		}
		m.fail(tx, f)
		return f
	}
	m.lastSeq[surface] = tx.Seq

	m.delegate.WillMount(surface)
	tx.Telemetry.MountStart = m.now()

	for i, mut := range tx.Mutations {
		if err := apply(m.host, surface, mut); err != nil {
			tx.Telemetry.MountEnd = m.now()
			f := &Failure{SurfaceID: surface, Seq: tx.Seq, Index: i, Mutation: mut, Err: err}
			m.fail(tx, f)
			return f
		}
		if mut.Kind == shadow.Delete && m.releaser != nil {
			m.releaser.Release(surface, mut.Tag)
		}
	}

	tx.Telemetry.MountEnd = m.now()
	m.delegate.DidMount(surface)

	m.logger.Debug("transaction mounted",
		"surface", surface,
		"seq", tx.Seq,
		"mutations", len(tx.Mutations),
		"mount_ms", tx.Telemetry.MountDuration().Milliseconds())
	if m.recorder != nil {
		m.recorder.RecordTransaction(tx, nil)
	}
	return nil
}

func (m *Manager) fail(tx *shadow.Transaction, f *Failure) {
	if m.recorder != nil {
		m.recorder.RecordTransaction(tx, f)
	}
	m.fatal(f)
}

// StartSurface creates the shadow tree of a new surface.
func (m *Manager) StartSurface(surface shadow.SurfaceID) (*shadow.Tree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.surfaces[surface]; ok {
		return nil, fmt.Errorf("%w: %d", ErrSurfaceExists, surface)
	}
	tree := shadow.NewTree(surface, m.treeOpts...)
	m.surfaces[surface] = tree
	return tree, nil
}

// Surface returns the tree of a running surface.
func (m *Manager) Surface(surface shadow.SurfaceID) (*shadow.Tree, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree, ok := m.surfaces[surface]
	return tree, ok
}

// Surfaces returns the running surfaces in ascending order.
func (m *Manager) Surfaces() []shadow.SurfaceID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]shadow.SurfaceID, 0, len(m.surfaces))
	for id := range m.surfaces {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Commit commits root to the surface's tree and mounts the transaction.
func (m *Manager) Commit(ctx context.Context, surface shadow.SurfaceID, root *shadow.Node) (*shadow.Transaction, error) {
	tree, ok := m.Surface(surface)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSurface, surface)
	}
	tx, err := tree.Commit(root)
	if err != nil {
		return nil, err
	}
	return tx, m.Mount(ctx, tx)
}

// StopSurface deletes every view of the surface and releases its emitters.
func (m *Manager) StopSurface(ctx context.Context, surface shadow.SurfaceID) error {
	m.mu.Lock()
	tree, ok := m.surfaces[surface]
	delete(m.surfaces, surface)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSurface, surface)
	}

	var mountErr error
	if tx := tree.Stop(); tx != nil {
		mountErr = m.Mount(ctx, tx)
	}

	cleanup := func() {
		delete(m.lastSeq, surface)
		if m.releaser != nil {
			m.releaser.ReleaseSurface(surface)
		}
	}
	if m.main.IsCurrent() {
		cleanup()
	} else if err := m.main.InvokeSync(ctx, cleanup); err != nil {
		return errors.Join(mountErr, err)
	}
	return mountErr
}
