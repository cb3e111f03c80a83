package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/bridge"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/queryir"
	"github.com/roach88/tether/internal/shadow"
)

func TestQueryCalls_Filter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, s)

	sess.RecordCall(callRecord(1, "increment", bridge.StateCompleted, time.Millisecond))
	failed := callRecord(2, "increment", bridge.StateFailed, time.Millisecond)
	failed.Code = "E_LIMIT"
	sess.RecordCall(failed)
	sess.RecordCall(callRecord(3, "current", bridge.StateCompleted, time.Millisecond))

	tests := []struct {
		name    string
		filter  queryir.Predicate
		limit   int
		wantSeq []int64
	}{
		{"all", nil, 0, []int64{1, 2, 3}},
		{"by state", queryir.Equals{Field: "state", Value: ir.String("failed")}, 0, []int64{2}},
		{"by method", queryir.Equals{Field: "method", Value: ir.String("increment")}, 0, []int64{1, 2}},
		{"in", queryir.In{Field: "seq", Values: []ir.Value{ir.Int(1), ir.Int(3)}}, 0, []int64{1, 3}},
		{"and", queryir.And{Predicates: []queryir.Predicate{
			queryir.Equals{Field: "method", Value: ir.String("increment")},
			queryir.Equals{Field: "code", Value: ir.String("")},
		}}, 0, []int64{1}},
		{"limit", nil, 2, []int64{1, 2}},
		{"no match", queryir.Equals{Field: "module", Value: ir.String("Device")}, 0, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls, err := s.QueryCalls(ctx, sess.ID(), tt.filter, tt.limit)
			require.NoError(t, err)
			got := []int64{}
			for _, c := range calls {
				got = append(got, c.Seq)
			}
			assert.Equal(t, tt.wantSeq, got)
		})
	}
}

func TestQueryCalls_InvalidFilter(t *testing.T) {
	s := createTestStore(t)
	sess := createTestSession(t, s)

	_, err := s.QueryCalls(context.Background(), sess.ID(),
		queryir.Equals{Field: "session_id", Value: ir.String("x")}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown column")
}

func TestQueryTransactions_BySurface(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, s)

	mut := []shadow.Mutation{{Kind: shadow.Create, Tag: 1, ComponentName: "View"}}
	sess.RecordTransaction(&shadow.Transaction{SurfaceID: 1, Seq: 1, Mutations: mut}, nil)
	sess.RecordTransaction(&shadow.Transaction{SurfaceID: 2, Seq: 1, Mutations: mut}, nil)
	sess.RecordTransaction(&shadow.Transaction{SurfaceID: 1, Seq: 2}, nil)

	txs, err := s.QueryTransactions(ctx, sess.ID(), queryir.Equals{Field: "surface_id", Value: ir.Int(1)}, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(1), txs[0].Seq)
	assert.Equal(t, int64(2), txs[1].Seq)
	assert.Equal(t, 1, txs[0].MutationCount)
	assert.Equal(t, 0, txs[1].MutationCount)
}
