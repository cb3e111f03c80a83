package mounting

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/shadow"
)

// Errors returned by MemoryHost.
var (
	ErrViewExists       = errors.New("view already exists")
	ErrViewNotFound     = errors.New("view not found")
	ErrViewAttached     = errors.New("view already attached")
	ErrIndexOutOfRange  = errors.New("index out of range")
	ErrChildMismatch    = errors.New("child at index does not match")
	ErrOffMainLoop      = errors.New("view hierarchy touched off the main loop")
	ErrSurfaceContainer = errors.New("surface container already holds a root")
)

type memView struct {
	tag       shadow.Tag
	component string
	props     ir.Object
	parent    shadow.Tag
	attached  bool
	children  []shadow.Tag
}

type memSurface struct {
	root  shadow.Tag
	views map[shadow.Tag]*memView
}

// MemoryHost is an in-memory view hierarchy. It enforces the same rules a
// platform host would: views exist before they are attached, indices are
// in range, and a removed child is the one at the given index.
type MemoryHost struct {
	owner interface{ IsCurrent() bool }

	mu       sync.Mutex
	surfaces map[shadow.SurfaceID]*memSurface
	ops      map[shadow.MutationKind]int
}

// MemoryHostOption configures a MemoryHost.
type MemoryHostOption func(*MemoryHost)

// WithOwner makes every host call fail with ErrOffMainLoop unless
// owner.IsCurrent() is true.
func WithOwner(owner interface{ IsCurrent() bool }) MemoryHostOption {
	return func(h *MemoryHost) {
		h.owner = owner
	}
}

// NewMemoryHost creates an empty host.
func NewMemoryHost(opts ...MemoryHostOption) *MemoryHost {
	h := &MemoryHost{
		surfaces: make(map[shadow.SurfaceID]*memSurface),
		ops:      make(map[shadow.MutationKind]int),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *MemoryHost) begin(surface shadow.SurfaceID, kind shadow.MutationKind) (*memSurface, error) {
	if h.owner != nil && !h.owner.IsCurrent() {
		return nil, ErrOffMainLoop
	}
	h.ops[kind]++
	s, ok := h.surfaces[surface]
	if !ok {
		s = &memSurface{views: make(map[shadow.Tag]*memView)}
		h.surfaces[surface] = s
	}
	return s, nil
}

func (s *memSurface) view(tag shadow.Tag) (*memView, error) {
	v, ok := s.views[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrViewNotFound, tag)
	}
	return v, nil
}

// CreateView implements ViewHost.
func (h *MemoryHost) CreateView(surface shadow.SurfaceID, tag shadow.Tag, component string, props ir.Object) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := h.begin(surface, shadow.Create)
	if err != nil {
		return err
	}
	if _, ok := s.views[tag]; ok {
		return fmt.Errorf("%w: %d", ErrViewExists, tag)
	}
	s.views[tag] = &memView{tag: tag, component: component, props: maps.Clone(props)}
	return nil
}

// DeleteView implements ViewHost.
func (h *MemoryHost) DeleteView(surface shadow.SurfaceID, tag shadow.Tag) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := h.begin(surface, shadow.Delete)
	if err != nil {
		return err
	}
	v, err := s.view(tag)
	if err != nil {
		return err
	}
	if v.attached {
		s.detach(v)
	}
	for _, c := range v.children {
		if child, ok := s.views[c]; ok {
			child.attached = false
		}
	}
	delete(s.views, tag)
	return nil
}

func (s *memSurface) detach(v *memView) {
	v.attached = false
	if v.parent == shadow.RootParent {
		s.root = 0
		return
	}
	parent, ok := s.views[v.parent]
	if !ok {
		return
	}
	for i, c := range parent.children {
		if c == v.tag {
			parent.children = append(parent.children[:i:i], parent.children[i+1:]...)
			return
		}
	}
}

// InsertView implements ViewHost.
func (h *MemoryHost) InsertView(surface shadow.SurfaceID, parent, tag shadow.Tag, index int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := h.begin(surface, shadow.Insert)
	if err != nil {
		return err
	}
	v, err := s.view(tag)
	if err != nil {
		return err
	}
	if v.attached {
		return fmt.Errorf("%w: %d", ErrViewAttached, tag)
	}

	if parent == shadow.RootParent {
		if s.root != 0 {
			return fmt.Errorf("%w: %d", ErrSurfaceContainer, s.root)
		}
		if index != 0 {
			return fmt.Errorf("%w: root index %d", ErrIndexOutOfRange, index)
		}
		s.root = tag
	} else {
		p, err := s.view(parent)
		if err != nil {
			return err
		}
		if index < 0 || index > len(p.children) {
			return fmt.Errorf("%w: insert %d into %d at %d (len %d)", ErrIndexOutOfRange, tag, parent, index, len(p.children))
		}
		p.children = append(p.children, 0)
		copy(p.children[index+1:], p.children[index:])
		p.children[index] = tag
	}
	v.parent = parent
	v.attached = true
	return nil
}

// RemoveView implements ViewHost.
func (h *MemoryHost) RemoveView(surface shadow.SurfaceID, parent, tag shadow.Tag, index int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := h.begin(surface, shadow.Remove)
	if err != nil {
		return err
	}
	v, err := s.view(tag)
	if err != nil {
		return err
	}

	if parent == shadow.RootParent {
		if s.root != tag {
			return fmt.Errorf("%w: root is %d, not %d", ErrChildMismatch, s.root, tag)
		}
		s.root = 0
	} else {
		p, err := s.view(parent)
		if err != nil {
			return err
		}
		if index < 0 || index >= len(p.children) {
			return fmt.Errorf("%w: remove %d from %d at %d (len %d)", ErrIndexOutOfRange, tag, parent, index, len(p.children))
		}
		if p.children[index] != tag {
			return fmt.Errorf("%w: %d holds %d at %d, not %d", ErrChildMismatch, parent, p.children[index], index, tag)
		}
		p.children = append(p.children[:index:index], p.children[index+1:]...)
	}
	v.attached = false
	v.parent = 0
	return nil
}

// UpdateView implements ViewHost.
func (h *MemoryHost) UpdateView(surface shadow.SurfaceID, tag shadow.Tag, changed ir.Object) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := h.begin(surface, shadow.Update)
	if err != nil {
		return err
	}
	v, err := s.view(tag)
	if err != nil {
		return err
	}
	if v.props == nil {
		v.props = ir.Object{}
	}
	for k, val := range changed {
		if ir.IsNull(val) {
			delete(v.props, k)
			continue
		}
		v.props[k] = val
	}
	return nil
}

// ViewSnapshot is a copy of one live view and its attached subtree.
type ViewSnapshot struct {
	Tag       shadow.Tag      `json:"tag" yaml:"tag"`
	Component string          `json:"component" yaml:"component"`
	Props     ir.Object       `json:"props,omitempty" yaml:"props,omitempty"`
	Children  []*ViewSnapshot `json:"children,omitempty" yaml:"children,omitempty"`
}

// Snapshot returns the attached hierarchy of a surface, or nil when the
// surface has no root.
func (h *MemoryHost) Snapshot(surface shadow.SurfaceID) *ViewSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.surfaces[surface]
	if !ok || s.root == 0 {
		return nil
	}
	var build func(tag shadow.Tag) *ViewSnapshot
	build = func(tag shadow.Tag) *ViewSnapshot {
		v := s.views[tag]
		snap := &ViewSnapshot{Tag: v.tag, Component: v.component, Props: maps.Clone(v.props)}
		for _, c := range v.children {
			snap.Children = append(snap.Children, build(c))
		}
		return snap
	}
	return build(s.root)
}

// ViewCount returns the number of live (created, not deleted) views of a
// surface, attached or not.
func (h *MemoryHost) ViewCount(surface shadow.SurfaceID) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.surfaces[surface]; ok {
		return len(s.views)
	}
	return 0
}

// Ops returns how many host calls of each kind were made.
func (h *MemoryHost) Ops() map[shadow.MutationKind]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return maps.Clone(h.ops)
}
