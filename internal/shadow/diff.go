package shadow

import (
	"slices"
	"sort"

	"github.com/roach88/tether/internal/ir"
)

// Diff computes the mutations that turn prev into next. Either may be nil:
// a nil prev creates and inserts everything, a nil next removes and
// deletes everything. Both trees must carry unique tags.
func Diff(prev, next *Node) []Mutation {
	d := &differ{
		oldIndex: index(prev),
		newIndex: index(next),
	}

	var oldRoots, newRoots []*Node
	if prev != nil {
		oldRoots = []*Node{prev}
	}
	if next != nil {
		newRoots = []*Node{next}
	}
	d.children(RootParent, oldRoots, newRoots)

	out := make([]Mutation, 0, len(d.removes)+len(d.deletes)+len(d.creates)+len(d.updates)+len(d.inserts))
	out = append(out, d.removes...)
	out = append(out, d.deletes...)
	out = append(out, d.creates...)
	out = append(out, d.updates...)
	out = append(out, d.inserts...)
	return out
}

type differ struct {
	oldIndex map[Tag]*Node
	newIndex map[Tag]*Node

	removes []Mutation
	deletes []Mutation
	creates []Mutation
	updates []Mutation
	inserts []Mutation
}

// children diffs the child lists of one parent.
func (d *differ) children(parent Tag, old, cur []*Node) {
	oldPos := make(map[Tag]int, len(old))
	for i, c := range old {
		oldPos[c.Tag] = i
	}
	newPos := make(map[Tag]int, len(cur))
	for i, c := range cur {
		newPos[c.Tag] = i
	}

	// Children present on both sides keep their place when they form the
	// longest run already in order; the rest move.
	var kept []int
	for _, c := range cur {
		if i, ok := oldPos[c.Tag]; ok {
			kept = append(kept, i)
		}
	}
	stays := make(map[int]bool, len(kept))
	for _, i := range longestIncreasing(kept) {
		stays[i] = true
	}

	type removal struct {
		index int
		node  *Node
	}
	var removals []removal
	for i, c := range old {
		if _, inNew := newPos[c.Tag]; inNew && stays[i] {
			continue
		}
		removals = append(removals, removal{i, c})
	}
	sort.Slice(removals, func(a, b int) bool { return removals[a].index > removals[b].index })
	for _, r := range removals {
		d.removes = append(d.removes, Mutation{Kind: Remove, Tag: r.node.Tag, ParentTag: parent, Index: r.index})
	}
	for _, r := range removals {
		if _, alive := d.newIndex[r.node.Tag]; !alive {
			d.delete(r.node)
		}
	}

	for j, c := range cur {
		i, inOld := oldPos[c.Tag]
		if !inOld || !stays[i] {
			d.inserts = append(d.inserts, Mutation{Kind: Insert, Tag: c.Tag, ParentTag: parent, Index: j})
		}

		prev, existed := d.oldIndex[c.Tag]
		if !existed {
			d.creates = append(d.creates, Mutation{
				Kind:          Create,
				Tag:           c.Tag,
				ComponentName: c.ComponentName,
				Props:         c.Props,
			})
			d.children(c.Tag, nil, c.Children)
			continue
		}

		// Reparented or kept nodes are diffed exactly once, under their new
		// parent.
		if !propsEqual(prev.Props, c.Props) {
			d.updates = append(d.updates, Mutation{
				Kind:     Update,
				Tag:      c.Tag,
				Props:    c.Props,
				OldProps: prev.Props,
			})
		}
		// Shared subtrees are unchanged by construction.
		if prev != c {
			d.children(c.Tag, prev.Children, c.Children)
		}
	}
}

// delete releases a subtree that no longer exists. Children that survive
// elsewhere are only removed.
func (d *differ) delete(n *Node) {
	d.children(n.Tag, n.Children, nil)
	d.deletes = append(d.deletes, Mutation{Kind: Delete, Tag: n.Tag})
}

func propsEqual(a, b ir.Object) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return ir.Equal(a, b)
}

// longestIncreasing returns the values of the longest strictly increasing
// subsequence of xs.
func longestIncreasing(xs []int) []int {
	if len(xs) == 0 {
		return nil
	}
	// tails[k] is the index into xs of the smallest tail of an increasing
	// run of length k+1.
	tails := make([]int, 0, len(xs))
	prev := make([]int, len(xs))
	for i, x := range xs {
		k := sort.Search(len(tails), func(k int) bool { return xs[tails[k]] >= x })
		if k > 0 {
			prev[i] = tails[k-1]
		} else {
			prev[i] = -1
		}
		if k == len(tails) {
			tails = append(tails, i)
		} else {
			tails[k] = i
		}
	}

	out := make([]int, len(tails))
	for i, k := len(tails)-1, tails[len(tails)-1]; i >= 0; i, k = i-1, prev[k] {
		out[i] = xs[k]
	}
	return slices.Clip(out)
}
