// Package rtree implements a bounding-box spatial index with R*-tree
// split heuristics: insert by choose-subtree, split on overflow by the R*
// axis/index selection, erase with leaf-level orphan reinsertion, and
// point/box search.
//
// Node storage departs from a pointer-chasing-with-reallocation design:
// every node (directory or value) is its own heap allocation, so a Go
// pointer to it never moves and never needs a "valid_pointer" escape
// hatch - the arena-of-stable-handles idea is realized for free by the
// language's memory model. A value node's address doubles as the handle
// Erase expects.
package rtree

import (
	"sort"

	logging "github.com/op/go-logging"

	"github.com/kohei101/multidimalgorithm/libs/datastructure"
	"github.com/kohei101/multidimalgorithm/libs/mdserr"
)

var log = logging.MustGetLogger("rtree")

type nodeKind int

const (
	unspecified nodeKind = iota
	directoryLeaf
	directoryNonLeaf
	valueNode
)

// Node is an opaque handle to a value previously inserted into a Tree.
// Its only public use is as the argument to Erase.
type Node[K Num, V any] struct {
	kind     nodeKind
	box      Box[K]
	parent   *Node[K, V]
	children []*Node[K, V]
	value    V
}

// Box returns the handle's current bounding box.
func (n *Node[K, V]) Box() Box[K] { return n.box }

// Value returns the handle's stored value.
func (n *Node[K, V]) Value() V { return n.value }

// MatchMode selects SearchBox's predicate.
type MatchMode int

const (
	Overlap MatchMode = iota
	ExactMatch
)

// IntegrityMode selects CheckIntegrity's reporting behavior.
type IntegrityMode int

const (
	IntegrityThrow IntegrityMode = iota
	IntegrityFull
)

// Tree is a D-dimensional R*-tree. D, the fan-out bounds and the depth
// cap are fixed at construction.
type Tree[K Num, V any] struct {
	dim      int
	minSize  int
	maxSize  int
	maxDepth int

	root  *Node[K, V]
	count int
}

// New builds an empty tree. Requires dim >= 1, minSize >= 1,
// minSize <= maxSize/2.
func New[K Num, V any](dim, minSize, maxSize, maxDepth int) (*Tree[K, V], error) {
	if dim < 1 {
		return nil, mdserr.New(mdserr.InvalidRange, "rtree.new", "dim must be >= 1")
	}
	if minSize < 1 || maxSize < 2 || minSize > maxSize/2 {
		return nil, mdserr.New(mdserr.InvalidRange, "rtree.new", "min_node_size must be >= 1 and <= max_node_size/2")
	}
	return &Tree[K, V]{
		dim:      dim,
		minSize:  minSize,
		maxSize:  maxSize,
		maxDepth: maxDepth,
		root:     &Node[K, V]{kind: directoryLeaf},
	}, nil
}

// Count returns the number of values currently stored.
func (t *Tree[K, V]) Count() int { return t.count }

func (t *Tree[K, V]) validateBox(box Box[K]) error {
	if box.dim() != t.dim {
		return mdserr.New(mdserr.InvalidRange, "rtree", "box dimension does not match the tree's dimension count")
	}
	if !box.Valid() {
		return mdserr.New(mdserr.InvalidRange, "rtree", "box start must be <= end on every dimension")
	}
	return nil
}

// Insert adds v with the given box and returns its handle.
func (t *Tree[K, V]) Insert(box Box[K], v V) (*Node[K, V], error) {
	if err := t.validateBox(box); err != nil {
		return nil, err
	}
	vn := &Node[K, V]{kind: valueNode, box: box, value: v}
	if depth, err := t.depthOf(t.root); err != nil {
		return nil, err
	} else if depth+1 > t.maxDepth {
		return nil, mdserr.New(mdserr.CapacityExceeded, "rtree.insert", "max_tree_depth exceeded")
	}
	t.attachValue(vn)
	t.count++
	return vn, nil
}

func (t *Tree[K, V]) depthOf(n *Node[K, V]) (int, error) {
	depth := 0
	for n.kind == directoryNonLeaf {
		if len(n.children) == 0 {
			break
		}
		n = n.children[0]
		depth++
		if depth > t.maxDepth+1 {
			return depth, mdserr.New(mdserr.CapacityExceeded, "rtree", "max_tree_depth exceeded")
		}
	}
	return depth, nil
}

func (t *Tree[K, V]) attachValue(vn *Node[K, V]) {
	target := t.chooseSubtree(t.root, vn.box)
	vn.parent = target
	target.children = append(target.children, vn)
	if len(target.children) == 1 {
		target.box = vn.box
	} else {
		target.box = target.box.Union(vn.box)
	}
	t.enlargeAncestors(target, vn.box)
	t.cascadeSplit(target)
}

func (t *Tree[K, V]) enlargeAncestors(n *Node[K, V], box Box[K]) {
	for p := n.parent; p != nil; p = p.parent {
		p.box = p.box.Union(box)
	}
}

// chooseSubtree descends to the leaf directory that should receive box,
// minimizing overlap enlargement when children are leaf directories and
// area enlargement otherwise, per the R* choose-subtree rule. Ties on the
// primary metric break by smaller resulting (enlarged) area, and ties on
// that break by smaller current area.
func (t *Tree[K, V]) chooseSubtree(n *Node[K, V], box Box[K]) *Node[K, V] {
	for n.kind == directoryNonLeaf {
		childrenAreLeaves := len(n.children) > 0 && n.children[0].kind == directoryLeaf
		bestIdx := -1
		var bestPrimary, bestResulting, bestArea K
		for i, c := range n.children {
			var primary K
			if childrenAreLeaves {
				primary = t.overlapAfterInsert(n.children, i, box)
			} else {
				primary = c.box.Enlargement(box)
			}
			resulting := c.box.Union(box).Area()
			area := c.box.Area()
			better := bestIdx == -1 ||
				primary < bestPrimary ||
				(primary == bestPrimary && resulting < bestResulting) ||
				(primary == bestPrimary && resulting == bestResulting && area < bestArea)
			if better {
				bestIdx, bestPrimary, bestResulting, bestArea = i, primary, resulting, area
			}
		}
		n = n.children[bestIdx]
	}
	return n
}

func (t *Tree[K, V]) overlapAfterInsert(siblings []*Node[K, V], i int, box Box[K]) K {
	enlarged := siblings[i].box.Union(box)
	var sum K
	for j, c := range siblings {
		if j == i {
			continue
		}
		sum += enlarged.IntersectionArea(c.box)
	}
	return sum
}

// cascadeSplit splits n, and its ancestors in turn, as long as they
// overflow max_node_size.
func (t *Tree[K, V]) cascadeSplit(n *Node[K, V]) {
	for n != nil && len(n.children) > t.maxSize {
		sibling := t.split(n)
		parent := n.parent
		if parent == nil {
			newRoot := &Node[K, V]{kind: directoryNonLeaf, children: []*Node[K, V]{n, sibling}}
			n.parent, sibling.parent = newRoot, newRoot
			newRoot.box = n.box.Union(sibling.box)
			t.root = newRoot
			return
		}
		sibling.parent = parent
		parent.children = append(parent.children, sibling)
		parent.box = parent.box.Union(sibling.box)
		n = parent
	}
}

// split performs the R* split of an overflowing directory n (currently
// holding max_node_size+1 children): choose the axis minimizing the
// summed half-margins of the candidate distributions, then the
// distribution on that axis minimizing overlap (ties by combined area).
// n keeps group 1; the returned sibling holds group 2.
func (t *Tree[K, V]) split(n *Node[K, V]) *Node[K, V] {
	children := n.children
	numDist := len(children) - 2*t.minSize + 1
	if numDist < 1 {
		numDist = 1
	}

	bestAxis := 0
	var bestMargin K
	sortedByAxis := make([][]*Node[K, V], t.dim)
	for d := 0; d < t.dim; d++ {
		sorted := append([]*Node[K, V](nil), children...)
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].box.Start[d] != sorted[j].box.Start[d] {
				return sorted[i].box.Start[d] < sorted[j].box.Start[d]
			}
			return sorted[i].box.End[d] < sorted[j].box.End[d]
		})
		sortedByAxis[d] = sorted

		var marginSum K
		for k := 1; k <= numDist; k++ {
			g1, g2 := sorted[:t.minSize-1+k], sorted[t.minSize-1+k:]
			marginSum += unionOf(g1).Margin() + unionOf(g2).Margin()
		}
		if d == 0 || marginSum < bestMargin {
			bestAxis, bestMargin = d, marginSum
		}
	}

	sorted := sortedByAxis[bestAxis]
	bestK := 1
	var bestOverlap, bestArea K
	for k := 1; k <= numDist; k++ {
		g1, g2 := sorted[:t.minSize-1+k], sorted[t.minSize-1+k:]
		b1, b2 := unionOf(g1), unionOf(g2)
		overlap := b1.IntersectionArea(b2)
		area := b1.Area() + b2.Area()
		if k == 1 || overlap < bestOverlap || (overlap == bestOverlap && area < bestArea) {
			bestK, bestOverlap, bestArea = k, overlap, area
		}
	}

	g1, g2 := sorted[:t.minSize-1+bestK], sorted[t.minSize-1+bestK:]
	sibling := &Node[K, V]{kind: n.kind, children: append([]*Node[K, V](nil), g2...)}
	n.children = append([]*Node[K, V](nil), g1...)
	for _, c := range n.children {
		c.parent = n
	}
	for _, c := range sibling.children {
		c.parent = sibling
	}
	n.box = unionOf(g1)
	sibling.box = unionOf(g2)
	return sibling
}

func unionOf[K Num, V any](nodes []*Node[K, V]) Box[K] {
	b := nodes[0].box
	for _, n := range nodes[1:] {
		b = b.Union(n.box)
	}
	return b
}

// Erase removes vn's value from the tree. If its leaf directory drops
// below min_node_size and is not the root, the leaf is dissolved: its
// remaining siblings are collected as orphans, the leaf is unlinked from
// its parent, and each orphan is reinserted through the normal insert
// path (Design note: option "b" - forced reinsertion limited to the leaf
// level, with a single-child root collapsed into its child rather than a
// full recursive dissolve of every underflowing ancestor).
func (t *Tree[K, V]) Erase(vn *Node[K, V]) error {
	if vn == nil || vn.kind != valueNode || vn.parent == nil {
		return mdserr.New(mdserr.InvalidRange, "rtree.erase", "not a live value handle")
	}
	leaf := vn.parent
	idx := indexOfChild(leaf.children, vn)
	if idx < 0 {
		return mdserr.New(mdserr.InvalidRange, "rtree.erase", "handle is not attached to its recorded parent")
	}
	leaf.children = append(leaf.children[:idx], leaf.children[idx+1:]...)
	vn.parent = nil
	t.count--
	t.condenseAfterErase(leaf)
	return nil
}

func indexOfChild[K Num, V any](children []*Node[K, V], target *Node[K, V]) int {
	for i, c := range children {
		if c == target {
			return i
		}
	}
	return -1
}

func (t *Tree[K, V]) condenseAfterErase(leaf *Node[K, V]) {
	if leaf == t.root {
		t.recomputeBox(leaf)
		return
	}
	if len(leaf.children) >= t.minSize {
		t.shrinkChain(leaf)
		return
	}

	orphans := &datastructure.CircleArray[*Node[K, V]]{}
	orphans.Init(len(leaf.children))
	for _, c := range leaf.children {
		orphans.Append(c)
	}
	parent := leaf.parent
	removeChild(parent, leaf)
	t.condenseAncestor(parent)
	t.collapseRootIfSingleChild()
	for orphans.Len() > 0 {
		t.reinsertOrphan(orphans.Pop())
	}
}

// condenseAncestor tightens parent's box after one of its children was
// removed. A non-root directory that itself drops below
// min_node_size from this is left underflowing rather than cascaded into
// a further dissolve (design note: option "b", see DESIGN.md) - only its
// box is kept tight, via shrinkChain.
func (t *Tree[K, V]) condenseAncestor(parent *Node[K, V]) {
	if parent == t.root {
		t.recomputeBox(parent)
		return
	}
	t.shrinkChain(parent)
}

func removeChild[K Num, V any](parent, child *Node[K, V]) {
	idx := indexOfChild(parent.children, child)
	if idx >= 0 {
		parent.children = append(parent.children[:idx], parent.children[idx+1:]...)
	}
}

func (t *Tree[K, V]) reinsertOrphan(vn *Node[K, V]) {
	vn.parent = nil
	t.attachValue(vn)
}

// recomputeBox unconditionally rebuilds n's box from its children.
func (t *Tree[K, V]) recomputeBox(n *Node[K, V]) {
	if len(n.children) == 0 {
		n.box = Box[K]{Start: make([]K, t.dim), End: make([]K, t.dim)}
		return
	}
	n.box = unionOf(n.children)
}

// shrinkChain walks from n upward, recomputing each box from its
// children, and stops as soon as a box is unchanged - an unchanged box
// means the erased box did not touch that ancestor's boundary, so nothing
// further up needs revisiting.
func (t *Tree[K, V]) shrinkChain(n *Node[K, V]) {
	for n != nil {
		old := n.box
		t.recomputeBox(n)
		if n.box.Equal(old) {
			return
		}
		n = n.parent
	}
}

func (t *Tree[K, V]) collapseRootIfSingleChild() {
	for t.root.kind == directoryNonLeaf && len(t.root.children) == 1 {
		child := t.root.children[0]
		child.parent = nil
		t.root = child
	}
}

// SearchPoint returns every value whose box contains p.
func (t *Tree[K, V]) SearchPoint(p []K) ([]V, error) {
	if len(p) != t.dim {
		return nil, mdserr.New(mdserr.InvalidRange, "rtree.search_point", "point dimension does not match the tree's dimension count")
	}
	var out []V
	t.searchPointNode(t.root, p, &out)
	return out, nil
}

func (t *Tree[K, V]) searchPointNode(n *Node[K, V], p []K, out *[]V) {
	if !n.box.ContainsPoint(p) {
		return
	}
	if n.kind == valueNode {
		*out = append(*out, n.value)
		return
	}
	for _, c := range n.children {
		t.searchPointNode(c, p, out)
	}
}

// SearchBox returns every value matching q under mode: any intersecting
// box for Overlap, or exact box equality for ExactMatch.
func (t *Tree[K, V]) SearchBox(q Box[K], mode MatchMode) ([]V, error) {
	if err := t.validateBox(q); err != nil {
		return nil, err
	}
	var out []V
	t.searchBoxNode(t.root, q, mode, &out)
	return out, nil
}

func (t *Tree[K, V]) searchBoxNode(n *Node[K, V], q Box[K], mode MatchMode, out *[]V) {
	if n.kind == valueNode {
		if mode == ExactMatch {
			if n.box.Equal(q) {
				*out = append(*out, n.value)
			}
			return
		}
		if n.box.Intersects(q) {
			*out = append(*out, n.value)
		}
		return
	}
	if !n.box.Intersects(q) {
		return
	}
	for _, c := range n.children {
		t.searchBoxNode(c, q, mode, out)
	}
}

// queuedNode is one pending stop in CheckIntegrity's breadth-first walk.
type queuedNode[K Num, V any] struct {
	node, parent *Node[K, V]
	isRoot       bool
}

// CheckIntegrity is a debug traversal verifying the tree's structural
// invariants: parent-kind rules, box tightness, and fan-out bounds. IntegrityThrow
// reports only the first violation found; IntegrityFull logs every one
// before returning the first as an error.
func (t *Tree[K, V]) CheckIntegrity(mode IntegrityMode) error {
	if t.minSize > t.maxSize/2 {
		return mdserr.New(mdserr.IntegrityErrorKind, "rtree.check_integrity", "min_node_size exceeds max_node_size/2")
	}
	var violations []string
	queue := &datastructure.LinkedList{}
	queue.PushBack(queuedNode[K, V]{t.root, nil, true})
	for queue.Len() > 0 {
		if mode != IntegrityFull && len(violations) > 0 {
			break
		}
		q := queue.PopFront().(queuedNode[K, V])
		t.checkNode(q.node, q.parent, q.isRoot, &violations)
		if q.node.kind != valueNode {
			for _, c := range q.node.children {
				queue.PushBack(queuedNode[K, V]{c, q.node, false})
			}
		}
	}
	if len(violations) == 0 {
		return nil
	}
	if mode == IntegrityFull {
		for _, v := range violations {
			log.Errorf("integrity violation: %s", v)
		}
	}
	return mdserr.New(mdserr.IntegrityErrorKind, "rtree.check_integrity", violations[0])
}

func (t *Tree[K, V]) checkNode(n, parent *Node[K, V], isRoot bool, violations *[]string) {
	record := func(msg string) { *violations = append(*violations, msg) }
	if n.parent != parent {
		record("parent back-link mismatch")
	}
	switch n.kind {
	case directoryLeaf:
		if parent != nil && parent.kind != directoryNonLeaf {
			record("leaf directory's parent is not a non-leaf directory")
		}
	case directoryNonLeaf:
		if parent != nil && parent.kind != directoryNonLeaf {
			record("non-leaf directory's parent is not a non-leaf directory")
		}
	case valueNode:
		if parent == nil || parent.kind != directoryLeaf {
			record("value node's parent is not a leaf directory")
		}
		return
	}

	if !isRoot {
		if len(n.children) < t.minSize {
			record("directory underflows min_node_size")
		}
		if len(n.children) == 0 {
			record("non-root directory is empty")
		}
	}
	if len(n.children) > t.maxSize {
		record("directory overflows max_node_size")
	}
	if len(n.children) > 0 {
		want := unionOf(n.children)
		if !n.box.Equal(want) {
			record("directory box is not the tight union of its children")
		}
	}
}
