package mounting

import (
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/shadow"
)

// ViewHost is the platform UI boundary. Every method is called on the main
// loop only.
type ViewHost interface {
	// CreateView instantiates a detached view.
	CreateView(surface shadow.SurfaceID, tag shadow.Tag, component string, props ir.Object) error

	// DeleteView detaches the view if needed and releases it.
	DeleteView(surface shadow.SurfaceID, tag shadow.Tag) error

	// InsertView attaches tag under parent at index. Parent RootParent is
	// the surface container.
	InsertView(surface shadow.SurfaceID, parent, tag shadow.Tag, index int) error

	// RemoveView detaches tag from parent at index without releasing it.
	RemoveView(surface shadow.SurfaceID, parent, tag shadow.Tag, index int) error

	// UpdateView applies changed props. Removed props arrive as ir.Null.
	UpdateView(surface shadow.SurfaceID, tag shadow.Tag, changed ir.Object) error
}

// Delegate observes mounting. Both hooks run on the main loop.
type Delegate interface {
	WillMount(surface shadow.SurfaceID)
	DidMount(surface shadow.SurfaceID)
}

// DelegateFuncs adapts two functions to Delegate. Nil funcs are skipped.
type DelegateFuncs struct {
	Will func(shadow.SurfaceID)
	Did  func(shadow.SurfaceID)
}

// WillMount implements Delegate.
func (d DelegateFuncs) WillMount(s shadow.SurfaceID) {
	if d.Will != nil {
		d.Will(s)
	}
}

// DidMount implements Delegate.
func (d DelegateFuncs) DidMount(s shadow.SurfaceID) {
	if d.Did != nil {
		d.Did(s)
	}
}

// Releaser is told when a view is deleted or a surface stops, so that
// non-owning handles to it (event emitters) stop resolving.
type Releaser interface {
	Release(surface shadow.SurfaceID, tag shadow.Tag)
	ReleaseSurface(surface shadow.SurfaceID)
}

// TransactionRecorder receives every transaction after it was mounted.
// failure is nil on success.
type TransactionRecorder interface {
	RecordTransaction(tx *shadow.Transaction, failure *Failure)
}

// apply dispatches one mutation to the host.
func apply(host ViewHost, surface shadow.SurfaceID, m shadow.Mutation) error {
	switch m.Kind {
	case shadow.Create:
		return host.CreateView(surface, m.Tag, m.ComponentName, m.Props)
	case shadow.Delete:
		return host.DeleteView(surface, m.Tag)
	case shadow.Insert:
		return host.InsertView(surface, m.ParentTag, m.Tag, m.Index)
	case shadow.Remove:
		return host.RemoveView(surface, m.ParentTag, m.Tag, m.Index)
	case shadow.Update:
		keys := m.ChangedProps()
		if len(keys) == 0 {
			return nil
		}
		changed := make(ir.Object, len(keys))
		for _, k := range keys {
			if v, ok := m.Props[k]; ok {
				changed[k] = v
			} else {
				changed[k] = ir.Null{}
			}
		}
		return host.UpdateView(surface, m.Tag, changed)
	default:
		return errUnknownMutation
	}
}

// TransactionRecorders fans a transaction out to several recorders.
type TransactionRecorders []TransactionRecorder

// RecordTransaction implements TransactionRecorder.
func (rs TransactionRecorders) RecordTransaction(tx *shadow.Transaction, failure *Failure) {
	for _, r := range rs {
		r.RecordTransaction(tx, failure)
	}
}
