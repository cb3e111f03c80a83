package shadow

import (
	"fmt"

	"github.com/roach88/tether/internal/ir"
)

// Tag identifies a node within a surface. Tag 0 is reserved for the
// surface container.
type Tag int64

// SurfaceID identifies a root view hierarchy.
type SurfaceID int64

// RootParent is the parent tag of a surface's root node.
const RootParent Tag = 0

// Node is an immutable shadow node. Once committed it must not be modified;
// a layout pass builds new nodes and may share unchanged subtrees.
type Node struct {
	Tag           Tag       `json:"tag" yaml:"tag"`
	SurfaceID     SurfaceID `json:"surface_id" yaml:"surface_id"`
	ComponentName string    `json:"component" yaml:"component"`
	Props         ir.Object `json:"props,omitempty" yaml:"props"`
	Children      []*Node   `json:"children,omitempty" yaml:"children"`
}

// NewNode builds a node. Children are adopted as given.
func NewNode(surface SurfaceID, tag Tag, component string, props ir.Object, children ...*Node) *Node {
	if props == nil {
		props = ir.Object{}
	}
	return &Node{
		Tag:           tag,
		SurfaceID:     surface,
		ComponentName: component,
		Props:         props,
		Children:      children,
	}
}

// Walk visits n and its descendants in pre-order. A nil child is visited
// but not descended into.
func (n *Node) Walk(fn func(parent, node *Node, index int)) {
	var walk func(parent, node *Node, index int)
	walk = func(parent, node *Node, index int) {
		fn(parent, node, index)
		if node == nil {
			return
		}
		for i, c := range node.Children {
			walk(node, c, i)
		}
	}
	walk(nil, n, 0)
}

// Count returns the number of nodes in the subtree.
func (n *Node) Count() int {
	if n == nil {
		return 0
	}
	total := 0
	n.Walk(func(_, _ *Node, _ int) { total++ })
	return total
}

func (n *Node) String() string {
	return fmt.Sprintf("%s#%d", n.ComponentName, n.Tag)
}

// index maps every tag of a tree to its node.
func index(root *Node) map[Tag]*Node {
	out := make(map[Tag]*Node)
	if root == nil {
		return out
	}
	root.Walk(func(_, n *Node, _ int) {
		out[n.Tag] = n
	})
	return out
}
