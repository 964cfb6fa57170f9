// Package fst implements the Flat Segment Tree: a piecewise-constant map
// from a totally ordered key domain [lo, hi) to values. Values are
// overlaid onto sub-ranges with InsertFront/InsertBack; queries run either
// as a linear sweep over the raw leaf chain (Search, always available) or
// as a logarithmic descent over a balanced tree rebuilt from that chain
// (SearchTree, requires a prior BuildTree).
package fst

import (
	"cmp"

	logging "github.com/op/go-logging"

	"github.com/kohei101/multidimalgorithm/libs/mdserr"
	"github.com/kohei101/multidimalgorithm/libs/pool"
	"github.com/kohei101/multidimalgorithm/libs/treebuild"
)

var log = logging.MustGetLogger("fst")

// leaf is one breakpoint of the horizontal leaf chain: value holds from
// key up to (not including) the next leaf's key.
type leaf[K cmp.Ordered, V comparable] struct {
	key        K
	value      V
	prev, next *leaf[K, V]
}

func (l *leaf[K, V]) Bounds() treebuild.Bounds[K] {
	high := l.key
	if l.next != nil {
		high = l.next.key
	}
	return treebuild.Bounds[K]{Low: l.key, High: high}
}

// inner is a non-leaf node of the built tree, spanning the union of its
// two children: [left.Low, right.High).
type inner[K cmp.Ordered, V comparable] struct {
	bounds      treebuild.Bounds[K]
	left, right treebuild.Item[K]
}

func (n *inner[K, V]) Bounds() treebuild.Bounds[K] {
	return n.bounds
}

// Segment is a maximal constant-value range [Begin, End) returned by a
// search.
type Segment[K cmp.Ordered] struct {
	Begin, End K
}

// FST is a Flat Segment Tree over the half-open domain [Lo, Hi).
type FST[K cmp.Ordered, V comparable] struct {
	lo, hi     K
	head, tail *leaf[K, V] // always present: the lo and hi sentinels
	root       treebuild.Item[K]
	validTree  bool

	innerPool *pool.LockFreePool[*inner[K, V]]
}

// New creates a 2-leaf chain lo->def, hi->def. lo must be strictly less
// than hi.
func New[K cmp.Ordered, V comparable](lo, hi K, def V) (*FST[K, V], error) {
	if !(lo < hi) {
		return nil, mdserr.New(mdserr.InvalidRange, "fst.new", "lo must be less than hi")
	}
	head := &leaf[K, V]{key: lo, value: def}
	tail := &leaf[K, V]{key: hi, value: def}
	head.next = tail
	tail.prev = head
	return &FST[K, V]{
		lo: lo, hi: hi, head: head, tail: tail,
		innerPool: pool.NewLockFreePool(func() *inner[K, V] { return &inner[K, V]{} }),
	}, nil
}

func (t *FST[K, V]) Lo() K { return t.lo }
func (t *FST[K, V]) Hi() K { return t.hi }

// IsTreeBuilt reports whether SearchTree can currently be used.
func (t *FST[K, V]) IsTreeBuilt() bool { return t.validTree }

// inRange reports whether p lies in [lo, hi).
func (t *FST[K, V]) inRange(p K) bool {
	return !(p < t.lo) && p < t.hi
}

// locate returns the leaf with the largest key <= k. k need not itself lie
// in [lo, hi); callers that need that guarantee check it separately.
func (t *FST[K, V]) locate(k K) *leaf[K, V] {
	cur := t.head
	for cur.next != nil && !(k < cur.next.key) {
		cur = cur.next
	}
	return cur
}

// Search walks the leaf chain linearly and returns the value in effect at
// p along with the maximal constant-value segment containing p. It works
// regardless of whether the tree has been built.
func (t *FST[K, V]) Search(p K) (V, Segment[K], error) {
	var zero V
	if !t.inRange(p) {
		return zero, Segment[K]{}, mdserr.New(mdserr.OutOfRange, "fst.search", "p is outside [lo, hi)")
	}
	l := t.locate(p)
	return l.value, Segment[K]{Begin: l.key, End: l.next.key}, nil
}

// SearchTree descends the built tree in O(log n). It requires a valid
// tree (see BuildTree); any mutation since the last build invalidates it.
func (t *FST[K, V]) SearchTree(p K) (V, Segment[K], error) {
	var zero V
	if !t.inRange(p) {
		return zero, Segment[K]{}, mdserr.New(mdserr.OutOfRange, "fst.search_tree", "p is outside [lo, hi)")
	}
	if !t.validTree {
		return zero, Segment[K]{}, mdserr.New(mdserr.TreeNotBuilt, "fst.search_tree", "call BuildTree after the last mutation")
	}
	item := t.root
	for {
		switch n := item.(type) {
		case *leaf[K, V]:
			return n.value, Segment[K]{Begin: n.key, End: n.next.key}, nil
		case *inner[K, V]:
			if p < n.left.Bounds().High {
				item = n.left
			} else {
				item = n.right
			}
		default:
			panic("fst: unknown tree node type")
		}
	}
}

// BuildTree rebuilds the non-leaf layer from the current leaf chain in
// O(n) by bottom-up pairing. Idempotent: rebuilding an unmutated chain
// produces an equivalent tree. The non-leaf nodes from the previous build
// are returned to innerPool before the new ones are drawn from it, so a
// steady stream of rebuilds mostly recycles nodes instead of allocating.
func (t *FST[K, V]) BuildTree() {
	if t.root != nil {
		t.releaseInnerNodes(t.root)
	}
	leaves := make([]treebuild.Item[K], 0, 8)
	for l := t.head; l != nil; l = l.next {
		leaves = append(leaves, l)
	}
	t.root = treebuild.Build[K](leaves, func(left, right treebuild.Item[K]) treebuild.Item[K] {
		n := t.innerPool.Get()
		*n = inner[K, V]{
			bounds: treebuild.Bounds[K]{Low: left.Bounds().Low, High: right.Bounds().High},
			left:   left,
			right:  right,
		}
		return n
	})
	t.validTree = true
}

// releaseInnerNodes walks the non-leaf nodes under item and hands each
// one back to innerPool. Leaves aren't pooled - they carry the live
// key/value/chain-link state BuildTree doesn't rebuild, so only the
// derived non-leaf layer is ever disposable.
func (t *FST[K, V]) releaseInnerNodes(item treebuild.Item[K]) {
	n, ok := item.(*inner[K, V])
	if !ok {
		return
	}
	t.releaseInnerNodes(n.left)
	t.releaseInnerNodes(n.right)
	*n = inner[K, V]{}
	t.innerPool.Put(n)
}

// clip narrows [b, e) to the tree's domain [lo, hi) and reports whether
// anything is left to insert.
func (t *FST[K, V]) clip(b, e K) (K, K, bool) {
	if b < t.lo {
		b = t.lo
	}
	if e > t.hi {
		e = t.hi
	}
	return b, e, b < e
}

func (t *FST[K, V]) unlink(l *leaf[K, V]) {
	if l.prev != nil {
		l.prev.next = l.next
	} else {
		t.head = l.next
	}
	if l.next != nil {
		l.next.prev = l.prev
	} else {
		t.tail = l.prev
	}
}

// deleteInterior removes leaves strictly between b and e. For front
// inserts the interval is fully open (b, e); for back inserts it is
// half-open (b, e], so a leaf that happens to sit exactly on the new
// segment's end is discarded outright rather than updated in place - back
// inserts thereby always materialize a fresh leaf at e ("wins to the
// right"), while front inserts leave a pre-existing leaf at e untouched
// and merely overwrite its value in the upsert step that follows
// ("overrides a coincident boundary from above").
func (t *FST[K, V]) deleteInterior(b, e K, front bool) {
	cur := t.head.next
	for cur != nil && cur != t.tail {
		next := cur.next
		del := b < cur.key && cur.key < e
		if !front && cur.key == e {
			del = true
		}
		if del {
			t.unlink(cur)
		}
		cur = next
	}
}

// upsert writes v at key k, updating an existing leaf in place or
// splicing in a new one immediately after its predecessor.
func (t *FST[K, V]) upsert(k K, v V) {
	pred := t.locate(k)
	if pred.key == k {
		pred.value = v
		return
	}
	n := &leaf[K, V]{key: k, value: v, prev: pred, next: pred.next}
	if pred.next != nil {
		pred.next.prev = n
	}
	pred.next = n
	if t.tail == pred {
		t.tail = n
	}
}

// coalesceFrom removes the leaf at k, and cascades rightward, as long as
// each leaf's value equals its left neighbor's. The lo and hi sentinels
// are never removed.
func (t *FST[K, V]) coalesceFrom(k K) {
	l := t.locate(k)
	for l != t.head && l != t.tail && l.prev != nil && l.value == l.prev.value {
		next := l.next
		t.unlink(l)
		if next == nil {
			return
		}
		l = next
	}
}

// insert overlays v on [b, e), clipped to the tree's domain, and
// invalidates the tree. b >= e (after clipping) is a no-op, not an error.
func (t *FST[K, V]) insert(b, e K, v V, front bool) {
	cb, ce, ok := t.clip(b, e)
	if !ok {
		return
	}
	trailing := t.locate(ce).value // value in effect at ce, before mutation
	t.deleteInterior(cb, ce, front)
	t.upsert(cb, v)
	t.upsert(ce, trailing)
	t.coalesceFrom(cb)
	t.coalesceFrom(ce)
	t.validTree = false
}

// InsertFront overlays v on [b, e), clipped to [lo, hi). A coincident
// boundary at e is overridden from above rather than replaced.
func (t *FST[K, V]) InsertFront(b, e K, v V) {
	t.insert(b, e, v, true)
}

// InsertBack overlays v on [b, e), clipped to [lo, hi). A coincident
// boundary at e is claimed by a fresh leaf rather than updated in place.
func (t *FST[K, V]) InsertBack(b, e K, v V) {
	t.insert(b, e, v, false)
}
