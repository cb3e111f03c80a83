package shadow

import (
	"fmt"
	"time"

	"github.com/roach88/tether/internal/ir"
)

// MutationKind is the kind of a view mutation.
type MutationKind int

const (
	Create MutationKind = iota
	Delete
	Insert
	Remove
	Update
)

func (k MutationKind) String() string {
	switch k {
	case Create:
		return "create"
	case Delete:
		return "delete"
	case Insert:
		return "insert"
	case Remove:
		return "remove"
	case Update:
		return "update"
	default:
		return fmt.Sprintf("mutation(%d)", int(k))
	}
}

// Mutation is one step of a transaction. Consumed exactly once by the
// mounting manager and never persisted.
type Mutation struct {
	Kind MutationKind `json:"kind"`
	Tag  Tag          `json:"tag"`

	// ParentTag and Index locate Insert and Remove.
	ParentTag Tag `json:"parent,omitempty"`
	Index     int `json:"index,omitempty"`

	// ComponentName is set on Create.
	ComponentName string `json:"component,omitempty"`

	// Props are the initial props on Create and the new props on Update.
	Props ir.Object `json:"props,omitempty"`

	// OldProps are the previous props on Update.
	OldProps ir.Object `json:"old_props,omitempty"`
}

func (m Mutation) String() string {
	switch m.Kind {
	case Create:
		return fmt.Sprintf("create %d %s", m.Tag, m.ComponentName)
	case Delete:
		return fmt.Sprintf("delete %d", m.Tag)
	case Insert:
		return fmt.Sprintf("insert %d into %d at %d", m.Tag, m.ParentTag, m.Index)
	case Remove:
		return fmt.Sprintf("remove %d from %d at %d", m.Tag, m.ParentTag, m.Index)
	case Update:
		return fmt.Sprintf("update %d", m.Tag)
	default:
		return m.Kind.String()
	}
}

// ChangedProps returns the keys of an Update whose values differ between
// OldProps and Props, including keys that were removed. Sorted.
func (m Mutation) ChangedProps() []string {
	changed := ir.Object{}
	for k, v := range m.Props {
		if old, ok := m.OldProps[k]; !ok || !ir.Equal(old, v) {
			changed[k] = v
		}
	}
	for k := range m.OldProps {
		if _, ok := m.Props[k]; !ok {
			changed[k] = ir.Null{}
		}
	}
	return changed.SortedKeys()
}

// Telemetry records the timings of one transaction.
type Telemetry struct {
	CommitStart   time.Time `json:"commit_start"`
	CommitEnd     time.Time `json:"commit_end"`
	DiffStart     time.Time `json:"diff_start"`
	DiffEnd       time.Time `json:"diff_end"`
	MountStart    time.Time `json:"mount_start"`
	MountEnd      time.Time `json:"mount_end"`
	MutationCount int       `json:"mutation_count"`
}

// CommitDuration returns CommitEnd - CommitStart.
func (t Telemetry) CommitDuration() time.Duration { return t.CommitEnd.Sub(t.CommitStart) }

// DiffDuration returns DiffEnd - DiffStart.
func (t Telemetry) DiffDuration() time.Duration { return t.DiffEnd.Sub(t.DiffStart) }

// MountDuration returns MountEnd - MountStart.
func (t Telemetry) MountDuration() time.Duration { return t.MountEnd.Sub(t.MountStart) }

// Transaction is the ordered set of mutations produced by one commit.
type Transaction struct {
	SurfaceID SurfaceID  `json:"surface_id"`
	Seq       int64      `json:"seq"`
	Mutations []Mutation `json:"mutations"`
	Telemetry Telemetry  `json:"telemetry"`
}
