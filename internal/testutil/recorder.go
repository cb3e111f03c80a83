package testutil

import (
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/tether/internal/bridge"
	"github.com/roach88/tether/internal/shadow"
)

// CallLog collects the records of finished bridge calls.
//
// Implements bridge.CallRecorder. Safe for concurrent use.
type CallLog struct {
	mu      sync.Mutex
	records []bridge.CallRecord
}

// NewCallLog creates an empty log.
func NewCallLog() *CallLog {
	return &CallLog{}
}

// RecordCall implements bridge.CallRecorder.
func (l *CallLog) RecordCall(rec bridge.CallRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

// Records returns the records ordered by seq.
func (l *CallLog) Records() []bridge.CallRecord {
	l.mu.Lock()
	out := slices.Clone(l.records)
	l.mu.Unlock()
	slices.SortStableFunc(out, func(a, b bridge.CallRecord) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return out
}

// Count returns how many calls of "Module.method" were recorded.
func (l *CallLog) Count(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.records {
		if r.Module+"."+r.Method == method {
			n++
		}
	}
	return n
}

// LifecycleLog records willMount/didMount notifications.
//
// Implements mounting.Delegate. When an owner is set, every notification
// that arrives while owner.IsCurrent() is false is counted in OffOwner.
type LifecycleLog struct {
	owner interface{ IsCurrent() bool }

	mu       sync.Mutex
	entries  []string
	offOwner int
}

// NewLifecycleLog creates a log. owner may be nil.
func NewLifecycleLog(owner interface{ IsCurrent() bool }) *LifecycleLog {
	return &LifecycleLog{owner: owner}
}

// WillMount implements mounting.Delegate.
func (l *LifecycleLog) WillMount(s shadow.SurfaceID) {
	l.add("will_mount", s)
}

// DidMount implements mounting.Delegate.
func (l *LifecycleLog) DidMount(s shadow.SurfaceID) {
	l.add("did_mount", s)
}

func (l *LifecycleLog) add(hook string, s shadow.SurfaceID) {
	onOwner := l.owner == nil || l.owner.IsCurrent()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf("%s %d", hook, s))
	if !onOwner {
		l.offOwner++
	}
}

// Entries returns the notifications in arrival order, e.g. "will_mount 1".
func (l *LifecycleLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}

// OffOwner returns how many notifications arrived off the owner.
func (l *LifecycleLog) OffOwner() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offOwner
}
