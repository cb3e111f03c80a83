package shadow

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/ir"
)

// stepNow returns a wall clock that advances one millisecond per call.
func stepNow() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestTree_CommitStampsIncreasingSeq(t *testing.T) {
	tree := NewTree(1, WithNow(stepNow()))

	tx1, err := tree.Commit(view(1, text(2, "a")))
	require.NoError(t, err)
	tx2, err := tree.Commit(view(1, text(2, "b")))
	require.NoError(t, err)

	assert.Equal(t, SurfaceID(1), tx1.SurfaceID)
	assert.Equal(t, int64(1), tx1.Seq)
	assert.Equal(t, int64(2), tx2.Seq)
	assert.Len(t, tx1.Mutations, 4)
	assert.Equal(t, 4, tx1.Telemetry.MutationCount)
	assert.Equal(t, 1, tx2.Telemetry.MutationCount)

	tel := tx1.Telemetry
	assert.True(t, tel.CommitStart.Before(tel.DiffStart))
	assert.True(t, tel.DiffStart.Before(tel.DiffEnd))
	assert.True(t, tel.DiffEnd.Before(tel.CommitEnd))
	assert.Equal(t, time.Millisecond, tel.DiffDuration())
}

func TestTree_RejectsInvalidTrees(t *testing.T) {
	tree := NewTree(1)
	_, err := tree.Commit(view(1, text(2, "a"), view(3, text(2, "dup"))))
	assert.ErrorIs(t, err, ErrDuplicateTag)

	_, err = tree.Commit(view(0))
	assert.ErrorIs(t, err, ErrInvalidTag)

	_, err = tree.Commit(view(1, NewNode(2, 5, "View", nil)))
	assert.ErrorIs(t, err, ErrWrongSurface)

	_, err = tree.Commit(view(1, nil))
	assert.Error(t, err)

	_, err = tree.Commit(nil)
	assert.Error(t, err)

	assert.Nil(t, tree.Root(), "failed commits leave nothing behind")

	tx, err := tree.Commit(view(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), tx.Seq, "failed commits consume no sequence numbers")
}

func TestTree_TagsUniqueForSurfaceLifetime(t *testing.T) {
	tree := NewTree(1)
	_, err := tree.Commit(view(1, text(2, "a")))
	require.NoError(t, err)
	_, err = tree.Commit(view(1))
	require.NoError(t, err)

	_, err = tree.Commit(view(1, text(2, "again")))
	assert.ErrorIs(t, err, ErrTagReused)
}

func TestTree_ComponentChangeRejected(t *testing.T) {
	tree := NewTree(1)
	_, err := tree.Commit(view(1, text(2, "a")))
	require.NoError(t, err)

	_, err = tree.Commit(view(1, view(2)))
	assert.ErrorIs(t, err, ErrComponentChanged)
}

func TestTree_Stop(t *testing.T) {
	tree := NewTree(1)
	assert.Nil(t, NewTree(2).Stop())

	_, err := tree.Commit(view(1, text(2, "a")))
	require.NoError(t, err)

	tx := tree.Stop()
	require.NotNil(t, tx)
	assert.Equal(t, int64(2), tx.Seq)

	var deletes int
	for _, m := range tx.Mutations {
		if m.Kind == Delete {
			deletes++
		}
	}
	assert.Equal(t, 2, deletes)
	assert.Nil(t, tree.Stop())

	_, err = tree.Commit(view(1))
	assert.ErrorIs(t, err, ErrSurfaceStopped)
}

func TestTree_ConcurrentCommitsGetUniqueSeq(t *testing.T) {
	tree := NewTree(1)
	const n = 20

	seqs := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := tree.Commit(NewNode(1, 1, "View", ir.NewObject(ir.P("i", ir.Int(i)))))
			if assert.NoError(t, err) {
				seqs <- tx.Seq
			}
		}(i)
	}
	wg.Wait()
	close(seqs)

	seen := map[int64]bool{}
	for s := range seqs {
		seen[s] = true
	}
	assert.Len(t, seen, n)
}

func TestMutation_ChangedPropsIncludesRemovedKeys(t *testing.T) {
	m := Mutation{
		Kind:     Update,
		OldProps: ir.NewObject(ir.P("a", ir.Int(1)), ir.P("b", ir.Int(2)), ir.P("c", ir.Int(3))),
		Props:    ir.NewObject(ir.P("a", ir.Int(1)), ir.P("b", ir.Int(5)), ir.P("d", ir.Int(4))),
	}
	assert.Equal(t, []string{"b", "c", "d"}, m.ChangedProps())
}
