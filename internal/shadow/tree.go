package shadow

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/tether/internal/clock"
)

var (
	// ErrDuplicateTag is returned when a tree uses a tag twice.
	ErrDuplicateTag = errors.New("duplicate tag")

	// ErrTagReused is returned when a tree brings back a tag that an
	// earlier commit deleted.
	ErrTagReused = errors.New("tag reused after delete")

	// ErrWrongSurface is returned when a node belongs to another surface.
	ErrWrongSurface = errors.New("node belongs to another surface")

	// ErrComponentChanged is returned when a tag keeps its identity but
	// changes component.
	ErrComponentChanged = errors.New("component changed for existing tag")

	// ErrInvalidTag is returned for the reserved tag 0 or negative tags.
	ErrInvalidTag = errors.New("invalid tag")

	// ErrSurfaceStopped is returned by Commit after Stop.
	ErrSurfaceStopped = errors.New("surface stopped")
)

// Tree holds the committed shadow tree of one surface.
//
// Commit may be called from any goroutine; commits are serialized and each
// is stamped with the next sequence number of the surface.
type Tree struct {
	surface SurfaceID
	now     func() time.Time

	mu      sync.Mutex
	clock   *clock.Clock
	root    *Node
	retired map[Tag]bool
	stopped bool
}

// TreeOption configures a Tree.
type TreeOption func(*Tree)

// WithNow sets the wall clock used for telemetry. Default: time.Now.
func WithNow(now func() time.Time) TreeOption {
	return func(t *Tree) {
		t.now = now
	}
}

// WithClock sets the sequence clock. Default: a fresh clock, first seq 1.
func WithClock(c *clock.Clock) TreeOption {
	return func(t *Tree) {
		t.clock = c
	}
}

// NewTree creates an empty tree for surface.
func NewTree(surface SurfaceID, opts ...TreeOption) *Tree {
	t := &Tree{
		surface: surface,
		now:     time.Now,
		clock:   clock.New(),
		retired: make(map[Tag]bool),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SurfaceID returns the tree's surface.
func (t *Tree) SurfaceID() SurfaceID {
	return t.surface
}

// Root returns the last committed root, or nil.
func (t *Tree) Root() *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root
}

// Commit validates root, diffs it against the previous commit and returns
// the transaction. On error nothing is committed and no sequence number is
// consumed.
func (t *Tree) Commit(root *Node) (*Transaction, error) {
	if root == nil {
		return nil, errors.New("commit: nil root")
	}
	start := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return nil, fmt.Errorf("surface %d: %w", t.surface, ErrSurfaceStopped)
	}
	if err := t.validate(root); err != nil {
		return nil, fmt.Errorf("surface %d: %w", t.surface, err)
	}

	return t.commitLocked(root, start), nil
}

// Stop commits the empty tree: the transaction removes and deletes every
// node. Later commits fail with ErrSurfaceStopped. Stopping an empty or
// stopped tree returns nil.
func (t *Tree) Stop() *Transaction {
	start := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return nil
	}
	t.stopped = true
	if t.root == nil {
		return nil
	}
	return t.commitLocked(nil, start)
}

func (t *Tree) commitLocked(root *Node, start time.Time) *Transaction {
	diffStart := t.now()
	mutations := Diff(t.root, root)
	diffEnd := t.now()

	for _, m := range mutations {
		if m.Kind == Delete {
			t.retired[m.Tag] = true
		}
	}
	t.root = root

	return &Transaction{
		SurfaceID: t.surface,
		Seq:       t.clock.Next(),
		Mutations: mutations,
		Telemetry: Telemetry{
			CommitStart:   start,
			CommitEnd:     t.now(),
			DiffStart:     diffStart,
			DiffEnd:       diffEnd,
			MutationCount: len(mutations),
		},
	}
}

func (t *Tree) validate(root *Node) error {
	prev := index(t.root)
	seen := make(map[Tag]bool)

	var err error
	root.Walk(func(_, n *Node, _ int) {
		if err != nil {
			return
		}
		switch {
		case n == nil:
			err = errors.New("nil child")
		case n.Tag <= RootParent:
			err = fmt.Errorf("%w: %d", ErrInvalidTag, n.Tag)
		case n.SurfaceID != t.surface:
			err = fmt.Errorf("%w: tag %d is on surface %d", ErrWrongSurface, n.Tag, n.SurfaceID)
		case seen[n.Tag]:
			err = fmt.Errorf("%w: %d", ErrDuplicateTag, n.Tag)
		case t.retired[n.Tag]:
			err = fmt.Errorf("%w: %d", ErrTagReused, n.Tag)
		}
		if err != nil {
			return
		}
		if old, ok := prev[n.Tag]; ok && old.ComponentName != n.ComponentName {
			err = fmt.Errorf("%w: tag %d %s -> %s", ErrComponentChanged, n.Tag, old.ComponentName, n.ComponentName)
			return
		}
		seen[n.Tag] = true
	})
	return err
}
