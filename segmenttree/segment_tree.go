// Package segmenttree implements a classic stabbing-query structure: a set
// of half-open intervals tagged with opaque data handles, answering "which
// intervals contain point p" in O(log n + k). Mutation is buffered in an
// insertion list and only reflected into the query tree on the next
// BuildTree, mirroring fst's two-phase build. The balanced non-leaf layer
// is rebuilt with the same bottom-up pairing treebuild shares with fst.
package segmenttree

import (
	"cmp"
	"sort"

	"github.com/Workiva/go-datastructures/bitarray"
	logging "github.com/op/go-logging"

	"github.com/kohei101/multidimalgorithm/libs/mdserr"
	"github.com/kohei101/multidimalgorithm/libs/treebuild"
)

var log = logging.MustGetLogger("segmenttree")

// labeled is satisfied by both leafNode and innerNode: anything that can
// carry a bitset of handle indices and be remembered in the tagged-node
// map for O(k) removal.
type labeled[K cmp.Ordered] interface {
	treebuild.Item[K]
	setLabel(idx uint64)
	clearLabel(idx uint64)
}

type leafNode[K cmp.Ordered] struct {
	key        K
	labels     bitarray.BitArray
	prev, next *leafNode[K]
	parent     treebuild.Item[K]
}

func (l *leafNode[K]) Bounds() treebuild.Bounds[K] {
	high := l.key
	if l.next != nil {
		high = l.next.key
	}
	return treebuild.Bounds[K]{Low: l.key, High: high}
}

func (l *leafNode[K]) setLabel(idx uint64) {
	if l.labels == nil {
		l.labels = bitarray.NewSparseBitArray()
	}
	l.labels.SetBit(idx)
}

func (l *leafNode[K]) clearLabel(idx uint64) {
	if l.labels != nil {
		l.labels.ClearBit(idx)
	}
}

type innerNode[K cmp.Ordered] struct {
	bounds      treebuild.Bounds[K]
	left, right treebuild.Item[K]
	labels      bitarray.BitArray
	parent      treebuild.Item[K]
}

func (n *innerNode[K]) Bounds() treebuild.Bounds[K] {
	return n.bounds
}

func (n *innerNode[K]) setLabel(idx uint64) {
	if n.labels == nil {
		n.labels = bitarray.NewSparseBitArray()
	}
	n.labels.SetBit(idx)
}

func (n *innerNode[K]) clearLabel(idx uint64) {
	if n.labels != nil {
		n.labels.ClearBit(idx)
	}
}

type segmentEntry[K cmp.Ordered, H comparable] struct {
	begin, end K
	handle     H
}

// Tree is a segment tree over handles of type H, keyed by an ordered
// domain K.
type Tree[K cmp.Ordered, H comparable] struct {
	segments  []segmentEntry[K, H]
	validTree bool

	head, tail *leafNode[K]
	root       treebuild.Item[K]

	handleIndex map[H]uint64
	indexHandle map[uint64]H
	tagged      map[uint64][]labeled[K]
}

// New returns an empty segment tree.
func New[K cmp.Ordered, H comparable]() *Tree[K, H] {
	return &Tree[K, H]{}
}

// Insert appends (b, e, h) to the segment list and invalidates the tree.
// b >= e is a no-op.
func (t *Tree[K, H]) Insert(b, e K, h H) {
	if !(b < e) {
		return
	}
	t.segments = append(t.segments, segmentEntry[K, H]{begin: b, end: e, handle: h})
	t.validTree = false
}

// Remove deletes every appearance of h from the tree's current labels (so
// it is commutative with Search immediately, without a rebuild) and from
// the backing segment list (so a future BuildTree does not resurrect it).
// It does not invalidate the tree and does not destroy h itself - h is not
// owned by the tree.
func (t *Tree[K, H]) Remove(h H) {
	kept := t.segments[:0]
	for _, s := range t.segments {
		if s.handle != h {
			kept = append(kept, s)
		}
	}
	t.segments = kept

	idx, ok := t.handleIndex[h]
	if !ok {
		return
	}
	for _, node := range t.tagged[idx] {
		node.clearLabel(idx)
	}
	delete(t.tagged, idx)
	delete(t.handleIndex, h)
	delete(t.indexHandle, idx)
}

// BuildTree collects the unique endpoint keys of the current segment list,
// builds a leaf chain and balanced non-leaf tree over them, then descends
// for every stored segment to populate the tagged-node map.
func (t *Tree[K, H]) BuildTree() {
	keys := uniqueSortedKeys(t.segments)
	if len(keys) == 0 {
		t.head, t.tail, t.root = nil, nil, nil
		t.handleIndex = map[H]uint64{}
		t.indexHandle = map[uint64]H{}
		t.tagged = map[uint64][]labeled[K]{}
		t.validTree = true
		return
	}

	leaves := make([]*leafNode[K], len(keys))
	for i, k := range keys {
		leaves[i] = &leafNode[K]{key: k}
	}
	for i := 0; i+1 < len(leaves); i++ {
		leaves[i].next = leaves[i+1]
		leaves[i+1].prev = leaves[i]
	}
	t.head, t.tail = leaves[0], leaves[len(leaves)-1]

	items := make([]treebuild.Item[K], len(leaves))
	for i, l := range leaves {
		items[i] = l
	}
	t.root = treebuild.Build[K](items, func(left, right treebuild.Item[K]) treebuild.Item[K] {
		return &innerNode[K]{bounds: treebuild.Bounds[K]{Low: left.Bounds().Low, High: right.Bounds().High}, left: left, right: right}
	})
	assignParents[K](t.root, nil)

	t.handleIndex = map[H]uint64{}
	t.indexHandle = map[uint64]H{}
	t.tagged = map[uint64][]labeled[K]{}
	var next uint64
	for _, s := range t.segments {
		idx, ok := t.handleIndex[s.handle]
		if !ok {
			idx = next
			next++
			t.handleIndex[s.handle] = idx
			t.indexHandle[idx] = s.handle
		}
		t.tagRange(t.root, s.begin, s.end, idx)
	}
	t.validTree = true
}

func uniqueSortedKeys[K cmp.Ordered, H comparable](segments []segmentEntry[K, H]) []K {
	seen := map[K]bool{}
	keys := make([]K, 0, len(segments)*2)
	for _, s := range segments {
		if !seen[s.begin] {
			seen[s.begin] = true
			keys = append(keys, s.begin)
		}
		if !seen[s.end] {
			seen[s.end] = true
			keys = append(keys, s.end)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func assignParents[K cmp.Ordered](item, parent treebuild.Item[K]) {
	switch n := item.(type) {
	case *leafNode[K]:
		n.parent = parent
	case *innerNode[K]:
		n.parent = parent
		assignParents[K](n.left, n)
		assignParents[K](n.right, n)
	}
}

// tagRange labels the minimal set of tree nodes whose union is exactly
// [b, e): a non-leaf is labeled and the recursion stops there once its
// range is wholly contained in [b, e); otherwise recursion continues into
// whichever children intersect [b, e). At the leaf layer, a leaf whose key
// lies in [b, e) is tagged directly (its span ends at the next endpoint
// key, which is at most e), and a leaf exactly at e hands the tag to its
// predecessor (the leaf chain represents half-open segments looking
// right), unless that predecessor is also b - avoiding double-tagging a
// one-breakpoint-long sub-range.
func (t *Tree[K, H]) tagRange(item treebuild.Item[K], b, e K, idx uint64) {
	switch n := item.(type) {
	case *leafNode[K]:
		if n.key == b || (b < n.key && n.key < e) {
			n.setLabel(idx)
			t.tagged[idx] = append(t.tagged[idx], n)
		}
		if n.key == e {
			if n.prev != nil && n.prev.key != b {
				n.prev.setLabel(idx)
				t.tagged[idx] = append(t.tagged[idx], n.prev)
			}
		}
	case *innerNode[K]:
		low, high := n.bounds.Low, n.bounds.High
		if !(low < b) && !(e < high) {
			n.setLabel(idx)
			t.tagged[idx] = append(t.tagged[idx], n)
			return
		}
		if lb := n.left.Bounds(); lb.Low < e && b < lb.High {
			t.tagRange(n.left, b, e, idx)
		}
		if rb := n.right.Bounds(); rb.Low < e && b < rb.High {
			t.tagRange(n.right, b, e, idx)
		}
	}
}

// Search requires a valid tree and returns every handle whose inserted
// [b, e) contains p, in insertion order, with no duplicates. A point
// outside the tree's current domain simply has no handles, not an error.
func (t *Tree[K, H]) Search(p K) ([]H, error) {
	if !t.validTree {
		return nil, mdserr.New(mdserr.TreeNotBuilt, "segmenttree.search", "call BuildTree after the last mutation")
	}
	if t.root == nil {
		return nil, nil
	}
	rb := t.root.Bounds()
	if p < rb.Low || !(p < rb.High) {
		return nil, nil
	}

	acc := bitarray.NewSparseBitArray()
	item := t.root
	for {
		switch n := item.(type) {
		case *leafNode[K]:
			if n.labels != nil {
				acc = acc.Or(n.labels)
			}
			return t.handlesFromBits(acc), nil
		case *innerNode[K]:
			if n.labels != nil {
				acc = acc.Or(n.labels)
			}
			if p < n.left.Bounds().High {
				item = n.left
			} else {
				item = n.right
			}
		}
	}
}

func (t *Tree[K, H]) handlesFromBits(bits bitarray.BitArray) []H {
	var result []H
	for it := bits.Blocks(); it.Next(); {
		blockIndex, block := it.Value()
		for i := uint64(0); i < 64; i++ {
			if block&(1<<i) == 0 {
				continue
			}
			idx := blockIndex*64 + i
			if h, ok := t.indexHandle[idx]; ok {
				result = append(result, h)
			}
		}
	}
	return result
}
