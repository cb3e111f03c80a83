package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/bridge"
	"github.com/roach88/tether/internal/module"
	"github.com/roach88/tether/internal/mounting"
	"github.com/roach88/tether/internal/shadow"
)

func TestCollector_RecordCall(t *testing.T) {
	c := NewCollector("test")

	c.RecordCall(bridge.CallRecord{Module: "Counter", Method: "increment", Convention: module.ConventionPromise, State: bridge.StateCompleted, Duration: time.Millisecond})
	c.RecordCall(bridge.CallRecord{Module: "Counter", Method: "increment", Convention: module.ConventionPromise, State: bridge.StateCompleted, Duration: 2 * time.Millisecond})
	c.RecordCall(bridge.CallRecord{Module: "Counter", Method: "increment", Convention: module.ConventionPromise, State: bridge.StateFailed, Code: "E_LIMIT"})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.callsTotal.WithLabelValues("Counter", "increment", "promise", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.callsTotal.WithLabelValues("Counter", "increment", "promise", "E_LIMIT")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.callLatency))
}

func TestCollector_RecordTransaction(t *testing.T) {
	c := NewCollector("")

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tx := &shadow.Transaction{
		SurfaceID: 1,
		Seq:       1,
		Mutations: []shadow.Mutation{
			{Kind: shadow.Create, Tag: 1},
			{Kind: shadow.Insert, Tag: 1},
		},
		Telemetry: shadow.Telemetry{
			CommitStart: start,
			CommitEnd:   start.Add(3 * time.Millisecond),
			DiffStart:   start.Add(time.Millisecond),
			DiffEnd:     start.Add(2 * time.Millisecond),
			MountStart:  start.Add(4 * time.Millisecond),
			MountEnd:    start.Add(5 * time.Millisecond),
		},
	}
	c.RecordTransaction(tx, nil)
	c.RecordTransaction(tx, &mounting.Failure{Index: 1})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactions.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactions.WithLabelValues("failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.mutations.WithLabelValues("create")))

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	byName := map[string]*dto.MetricFamily{}
	for _, f := range families {
		byName[f.GetName()] = f
	}
	mount := byName["tether_mounting_mount_duration_seconds"]
	require.NotNil(t, mount)
	assert.Equal(t, uint64(2), mount.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestCollector_Gauge(t *testing.T) {
	c := NewCollector("test")
	depth := 3.0
	c.Gauge("invoker", "queue_depth", "Queued work items", func() float64 { return depth })

	families, err := c.Registry().Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "test_invoker_queue_depth" {
			found = true
			assert.Equal(t, 3.0, f.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found)
}

func TestCollector_CounterFuncPerLabel(t *testing.T) {
	c := NewCollector("test")
	c.CounterFunc("loop", "executed_total", "Work items completed", map[string]string{"loop": "main"}, func() float64 { return 4 })
	c.CounterFunc("loop", "executed_total", "Work items completed", map[string]string{"loop": "runtime"}, func() float64 { return 9 })

	families, err := c.Registry().Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "test_loop_executed_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			got[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"main": 4, "runtime": 9}, got)
}
