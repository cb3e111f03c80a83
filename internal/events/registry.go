package events

import (
	"sync"

	"github.com/roach88/tether/internal/shadow"
)

// Handle is a non-owning reference to a mounted view. It never keeps the
// view alive; it only resolves while the same mount generation is
// registered.
type Handle struct {
	Surface    shadow.SurfaceID
	Tag        shadow.Tag
	Generation uint64
}

type viewKey struct {
	surface shadow.SurfaceID
	tag     shadow.Tag
}

// Registry tracks which views can currently receive events.
//
// Thread-safety: safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	live    map[viewKey]uint64
	nextGen uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[viewKey]uint64)}
}

// Register binds a view and returns its handle. Registering a tag again
// starts a new generation; older handles stop resolving.
func (r *Registry) Register(surface shadow.SurfaceID, tag shadow.Tag) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextGen++
	r.live[viewKey{surface, tag}] = r.nextGen
	return Handle{Surface: surface, Tag: tag, Generation: r.nextGen}
}

// Unregister forgets a view.
func (r *Registry) Unregister(surface shadow.SurfaceID, tag shadow.Tag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, viewKey{surface, tag})
}

// Alive reports whether h still refers to a mounted view.
func (r *Registry) Alive(h Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gen, ok := r.live[viewKey{h.Surface, h.Tag}]
	return ok && gen == h.Generation
}

// Len returns the number of live views.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

// Release implements mounting.Releaser.
func (r *Registry) Release(surface shadow.SurfaceID, tag shadow.Tag) {
	r.Unregister(surface, tag)
}

// ReleaseSurface implements mounting.Releaser.
func (r *Registry) ReleaseSurface(surface shadow.SurfaceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.live {
		if k.surface == surface {
			delete(r.live, k)
		}
	}
}
