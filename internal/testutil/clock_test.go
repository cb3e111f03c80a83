package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/bridge"
	"github.com/roach88/tether/internal/module"
)

func TestStepClock_AdvancesByStep(t *testing.T) {
	c := NewStepClock(time.Time{}, 5*time.Millisecond)

	assert.Equal(t, DefaultEpoch, c.Now())
	assert.Equal(t, DefaultEpoch.Add(5*time.Millisecond), c.Now())
	assert.Equal(t, int64(2), c.Reads())

	c.Reset()
	assert.Equal(t, DefaultEpoch, c.Now())
}

func TestStepClock_DefaultStep(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	c := NewStepClock(start, 0)
	c.Now()
	assert.Equal(t, start.Add(time.Millisecond), c.Now())
}

func TestStepClock_ConcurrentReadsAreUnique(t *testing.T) {
	c := NewStepClock(time.Time{}, time.Nanosecond)

	const goroutines = 50
	seen := make(chan time.Time, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- c.Now()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[time.Time]bool)
	for ts := range seen {
		require.False(t, unique[ts], "duplicate instant %v", ts)
		unique[ts] = true
	}
	assert.Len(t, unique, goroutines)
}

func TestCallLog_OrdersBySeq(t *testing.T) {
	log := NewCallLog()
	log.RecordCall(bridge.CallRecord{Seq: 3, Module: "Counter", Method: "increment"})
	log.RecordCall(bridge.CallRecord{Seq: 1, Module: "Counter", Method: "current", Convention: module.ConventionSync})
	log.RecordCall(bridge.CallRecord{Seq: 2, Module: "Counter", Method: "increment"})

	recs := log.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{recs[0].Seq, recs[1].Seq, recs[2].Seq})
	assert.Equal(t, 2, log.Count("Counter.increment"))
	assert.Equal(t, 0, log.Count("Device.info"))
}

type fakeOwner struct{ current bool }

func (o *fakeOwner) IsCurrent() bool { return o.current }

func TestLifecycleLog_TracksOwner(t *testing.T) {
	owner := &fakeOwner{current: true}
	log := NewLifecycleLog(owner)

	log.WillMount(1)
	owner.current = false
	log.DidMount(1)

	assert.Equal(t, []string{"will_mount 1", "did_mount 1"}, log.Entries())
	assert.Equal(t, 1, log.OffOwner())
}
