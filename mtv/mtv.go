package mtv

import (
	"reflect"
	"sort"

	logging "github.com/op/go-logging"

	"github.com/kohei101/multidimalgorithm/libs/mdserr"
)

var log = logging.MustGetLogger("mtv")

// EventHandler receives notifications whenever a non-empty block is
// created or destroyed, so a caller can track per-category memory or
// reference counts without polling the container's block list.
type EventHandler interface {
	ElementBlockAcquired(b Block)
	ElementBlockReleased(b Block)
}

type noopEventHandler struct{}

func (noopEventHandler) ElementBlockAcquired(Block) {}
func (noopEventHandler) ElementBlockReleased(Block) {}

// MTV is a sequence of logical positions [0, Size()), partitioned into
// contiguous, type-homogeneous element blocks. Adjacent blocks of the
// same category are never allowed to coexist; every mutating operation
// ends by merging its boundary back into matching neighbors.
type MTV struct {
	size      int
	blocks    []Block
	positions []int // positions[i] is the first logical position of blocks[i]
	handler   EventHandler

	categoryOfType map[reflect.Type]Category
}

// New creates a container of size positions, all initially holding no
// value (a single Empty block spanning the whole range).
func New(size int, handler EventHandler) *MTV {
	if handler == nil {
		handler = noopEventHandler{}
	}
	db := &MTV{
		size:           size,
		handler:        handler,
		categoryOfType: make(map[reflect.Type]Category),
	}
	if size > 0 {
		db.blocks = []Block{&emptyBlock{n: size}}
	}
	db.recomputePositions()
	return db
}

// Size returns the number of logical positions in the container.
func (db *MTV) Size() int { return db.size }

// BlockCount returns the number of element blocks currently backing the
// container, including Empty runs.
func (db *MTV) BlockCount() int { return len(db.blocks) }

// NonEmptyBlockCount returns the number of blocks whose category isn't
// Empty - the quantity an EventHandler counting acquisitions minus
// releases is expected to track.
func (db *MTV) NonEmptyBlockCount() int {
	n := 0
	for _, b := range db.blocks {
		if b.Category() != Empty {
			n++
		}
	}
	return n
}

func (db *MTV) emitAcquired(b Block) {
	if b.Category() != Empty {
		db.handler.ElementBlockAcquired(b)
	}
}

func (db *MTV) emitReleased(b Block) {
	if b.Category() != Empty {
		db.handler.ElementBlockReleased(b)
	}
}

func (db *MTV) recomputePositions() {
	db.positions = make([]int, len(db.blocks))
	pos := 0
	for i, b := range db.blocks {
		db.positions[i] = pos
		pos += b.Len()
	}
}

// locate returns the index of the block containing logical position p.
func (db *MTV) locate(p int) int {
	i := sort.Search(len(db.positions), func(i int) bool { return db.positions[i] > p })
	return i - 1
}

// truncate clones b and trims it down to the sub-range [keepFrom,
// keepFrom+keepLen).
func truncate(b Block, keepFrom, keepLen int) Block {
	clone := b.Clone()
	if keepFrom+keepLen < clone.Len() {
		clone.Erase(keepFrom+keepLen, clone.Len()-keepFrom-keepLen)
	}
	if keepFrom > 0 {
		clone.Erase(0, keepFrom)
	}
	return clone
}

// coalesceFrom merges the block at idx with its left neighbor, then with
// its (possibly new) right neighbor, whenever categories match. No two
// adjacent blocks of the same category - Empty included - ever survive a
// mutating operation.
func (db *MTV) coalesceFrom(idx int) {
	if idx < 0 || idx >= len(db.blocks) {
		return
	}
	if idx > 0 && db.blocks[idx-1].Category() == db.blocks[idx].Category() {
		db.mergeAt(idx - 1)
		idx--
	}
	if idx+1 < len(db.blocks) && db.blocks[idx].Category() == db.blocks[idx+1].Category() {
		db.mergeAt(idx)
	}
}

// mergeAt absorbs blocks[i+1] into blocks[i] and removes it from the list.
func (db *MTV) mergeAt(i int) {
	left, right := db.blocks[i], db.blocks[i+1]
	left.AppendFrom(right, 0, right.Len())
	db.emitReleased(right)
	db.blocks = append(db.blocks[:i+1], db.blocks[i+2:]...)
	db.recomputePositions()
}

func categoryFor[T any](db *MTV) Category {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if cat, ok := db.categoryOfType[t]; ok {
		return cat
	}
	cat := CategoryOf(t.String())
	db.categoryOfType[t] = cat
	return cat
}

// RegisterCategory binds T to a caller-chosen, stable category name
// instead of the type's own reflect string, so the tag survives a type
// rename. It must be called before the first Set/Get of T on db.
func RegisterCategory[T any](db *MTV, name string) Category {
	t := reflect.TypeOf((*T)(nil)).Elem()
	cat := CategoryOf(name)
	db.categoryOfType[t] = cat
	return cat
}

// setRange is the core block-algebra primitive behind every value-setting
// operation: Set (n=1), SetRange, and SetEmpty all reduce to it.
//
//   - If [p, p+n) falls entirely within one block already of category
//     cat, the write happens in place and no block is created or
//     destroyed.
//   - Otherwise every block touched by [p, p+n) is released, the
//     uncovered remainders of its first and last block survive as
//     truncated copies, a new block of cat is spliced in between them,
//     and the new boundaries are merged into their neighbors.
func (db *MTV) setRange(p, n int, cat Category, makeBlock func(n int) Block) error {
	if n == 0 {
		return nil
	}
	if p < 0 || p+n > db.size {
		return mdserr.New(mdserr.OutOfRange, "mtv.set_range", "range exceeds the container's size")
	}

	startIdx := db.locate(p)
	endIdx := db.locate(p + n - 1)

	if startIdx == endIdx && db.blocks[startIdx].Category() == cat {
		offset := p - db.positions[startIdx]
		db.blocks[startIdx].Overwrite(offset, makeBlock(n), 0, n)
		return nil
	}

	var replacement []Block
	prefixLen := p - db.positions[startIdx]
	if prefixLen > 0 {
		replacement = append(replacement, truncate(db.blocks[startIdx], 0, prefixLen))
	}
	replacement = append(replacement, makeBlock(n))
	endBlockStart := db.positions[endIdx]
	suffixStart := (p + n) - endBlockStart
	suffixLen := db.blocks[endIdx].Len() - suffixStart
	if suffixLen > 0 {
		replacement = append(replacement, truncate(db.blocks[endIdx], suffixStart, suffixLen))
	}

	for i := startIdx; i <= endIdx; i++ {
		db.emitReleased(db.blocks[i])
	}
	for _, b := range replacement {
		db.emitAcquired(b)
	}

	out := make([]Block, 0, len(db.blocks)-(endIdx-startIdx+1)+len(replacement))
	out = append(out, db.blocks[:startIdx]...)
	out = append(out, replacement...)
	out = append(out, db.blocks[endIdx+1:]...)
	db.blocks = out
	db.recomputePositions()

	for i := len(replacement) - 1; i >= 0; i-- {
		db.coalesceFrom(startIdx + i)
	}
	return nil
}

// Set overwrites the value at position p with v, re-tagging its block to
// T's category.
func Set[T any](db *MTV, p int, v T) error {
	cat := categoryFor[T](db)
	return db.setRange(p, 1, cat, func(n int) Block {
		b := NewTypedBlock[T](cat, n)
		for i := 0; i < n; i++ {
			b.SetAt(i, v)
		}
		return b
	})
}

// SetRange overwrites positions [p, p+len(values)) with values, under a
// single new block of T's category.
func SetRange[T any](db *MTV, p int, values []T) error {
	if len(values) == 0 {
		return nil
	}
	cat := categoryFor[T](db)
	return db.setRange(p, len(values), cat, func(n int) Block {
		b := NewTypedBlock[T](cat, n)
		copy(b.values, values[:n])
		return b
	})
}

// SetEmpty clears n positions starting at p back to the Empty category.
func SetEmpty(db *MTV, p, n int) error {
	return db.setRange(p, n, Empty, func(n int) Block { return &emptyBlock{n: n} })
}

// Get returns the value stored at position p, failing with TypeMismatch
// if the block occupying p is not of category T.
func Get[T any](db *MTV, p int) (T, error) {
	var zero T
	if p < 0 || p >= db.size {
		return zero, mdserr.New(mdserr.OutOfRange, "mtv.get", "position out of range")
	}
	idx := db.locate(p)
	tb, ok := db.blocks[idx].(*TypedBlock[T])
	if !ok {
		return zero, mdserr.New(mdserr.TypeMismatch, "mtv.get", "stored category does not match the requested type")
	}
	return tb.At(p - db.positions[idx]), nil
}

// Category reports the category tag of the block occupying position p.
func (db *MTV) Category(p int) (Category, error) {
	if p < 0 || p >= db.size {
		return Empty, mdserr.New(mdserr.OutOfRange, "mtv.category", "position out of range")
	}
	return db.blocks[db.locate(p)].Category(), nil
}

// IsEmpty reports whether position p currently holds no value.
func (db *MTV) IsEmpty(p int) bool {
	cat, err := db.Category(p)
	return err == nil && cat == Empty
}

// insertBlocks splices newBlocks into the container at position p,
// splitting the block occupying p (if p is interior to one) into its
// uncovered prefix and suffix around the insertion point.
func (db *MTV) insertBlocks(p int, newBlocks []Block) error {
	if p < 0 || p > db.size {
		return mdserr.New(mdserr.OutOfRange, "mtv.insert", "position out of range")
	}
	if len(newBlocks) == 0 {
		return nil
	}

	var before, after Block
	idx := len(db.blocks)
	if db.size > 0 && p < db.size {
		idx = db.locate(p)
		old := db.blocks[idx]
		offset := p - db.positions[idx]
		if offset > 0 {
			before = truncate(old, 0, offset)
		}
		if offset < old.Len() {
			after = truncate(old, offset, old.Len()-offset)
		}
		db.emitReleased(old)
	}

	replacement := make([]Block, 0, len(newBlocks)+2)
	if before != nil {
		replacement = append(replacement, before)
		db.emitAcquired(before)
	}
	replacement = append(replacement, newBlocks...)
	for _, b := range newBlocks {
		db.emitAcquired(b)
	}
	if after != nil {
		replacement = append(replacement, after)
		db.emitAcquired(after)
	}

	added := 0
	for _, b := range newBlocks {
		added += b.Len()
	}

	out := make([]Block, 0, len(db.blocks)+len(replacement))
	if idx < len(db.blocks) {
		out = append(out, db.blocks[:idx]...)
		out = append(out, replacement...)
		out = append(out, db.blocks[idx+1:]...)
	} else {
		out = append(out, db.blocks...)
		out = append(out, replacement...)
	}
	db.blocks = out
	db.size += added
	db.recomputePositions()

	for i := len(replacement) - 1; i >= 0; i-- {
		db.coalesceFrom(idx + i)
	}
	return nil
}

func (db *MTV) insertBlock(p int, blk Block) error {
	return db.insertBlocks(p, []Block{blk})
}

// InsertEmpty inserts n new Empty positions at p, shifting every position
// at or after p to the right by n.
func InsertEmpty(db *MTV, p, n int) error {
	if n <= 0 {
		return nil
	}
	return db.insertBlock(p, &emptyBlock{n: n})
}

// InsertRange inserts len(values) new positions of T's category at p.
func InsertRange[T any](db *MTV, p int, values []T) error {
	if len(values) == 0 {
		return nil
	}
	cat := categoryFor[T](db)
	b := NewTypedBlock[T](cat, len(values))
	copy(b.values, values)
	return db.insertBlock(p, b)
}

// Erase removes n positions starting at p, shifting everything after the
// removed range left by n and merging the closed gap's neighbors.
func Erase(db *MTV, p, n int) error {
	if n <= 0 {
		return nil
	}
	if p < 0 || p+n > db.size {
		return mdserr.New(mdserr.OutOfRange, "mtv.erase", "range exceeds the container's size")
	}

	startIdx := db.locate(p)
	endIdx := db.locate(p + n - 1)

	var replacement []Block
	prefixLen := p - db.positions[startIdx]
	if prefixLen > 0 {
		replacement = append(replacement, truncate(db.blocks[startIdx], 0, prefixLen))
	}
	endBlockStart := db.positions[endIdx]
	suffixStart := (p + n) - endBlockStart
	suffixLen := db.blocks[endIdx].Len() - suffixStart
	if suffixLen > 0 {
		replacement = append(replacement, truncate(db.blocks[endIdx], suffixStart, suffixLen))
	}

	for i := startIdx; i <= endIdx; i++ {
		db.emitReleased(db.blocks[i])
	}
	for _, b := range replacement {
		db.emitAcquired(b)
	}

	out := make([]Block, 0, len(db.blocks)-(endIdx-startIdx+1)+len(replacement))
	out = append(out, db.blocks[:startIdx]...)
	out = append(out, replacement...)
	out = append(out, db.blocks[endIdx+1:]...)
	db.blocks = out
	db.size -= n
	db.recomputePositions()

	if len(replacement) > 0 {
		for i := len(replacement) - 1; i >= 0; i-- {
			db.coalesceFrom(startIdx + i)
		}
	} else if startIdx > 0 && startIdx < len(db.blocks) {
		db.coalesceFrom(startIdx - 1)
	}
	return nil
}

// Resize grows the container by appending Empty positions, or shrinks it
// by erasing its tail.
func Resize(db *MTV, n int) error {
	if n < 0 {
		return mdserr.New(mdserr.InvalidRange, "mtv.resize", "size must be non-negative")
	}
	if n == db.size {
		return nil
	}
	if n > db.size {
		return InsertEmpty(db, db.size, n-db.size)
	}
	return Erase(db, n, db.size-n)
}

// extractBlocks removes the closed range [p, q] from db and returns the
// blocks that covered it, moving whole blocks by reference wherever the
// range boundary doesn't split one, and cloning only the two blocks that
// straddle p or q.
func (db *MTV) extractBlocks(p, q int) ([]Block, error) {
	if p < 0 || q < p || q >= db.size {
		return nil, mdserr.New(mdserr.InvalidRange, "mtv.transfer", "invalid source range")
	}
	n := q - p + 1
	startIdx := db.locate(p)
	endIdx := db.locate(q)

	for i := startIdx; i <= endIdx; i++ {
		db.emitReleased(db.blocks[i])
	}

	var extracted, replacement []Block
	if startIdx == endIdx {
		blk := db.blocks[startIdx]
		prefixLen := p - db.positions[startIdx]
		if prefixLen == 0 && n == blk.Len() {
			extracted = append(extracted, blk)
		} else {
			extracted = append(extracted, truncate(blk, prefixLen, n))
		}
		if prefixLen > 0 {
			replacement = append(replacement, truncate(blk, 0, prefixLen))
		}
		if prefixLen+n < blk.Len() {
			replacement = append(replacement, truncate(blk, prefixLen+n, blk.Len()-prefixLen-n))
		}
	} else {
		startBlk, endBlk := db.blocks[startIdx], db.blocks[endIdx]
		prefixLen := p - db.positions[startIdx]
		if prefixLen == 0 {
			extracted = append(extracted, startBlk)
		} else {
			extracted = append(extracted, truncate(startBlk, prefixLen, startBlk.Len()-prefixLen))
			replacement = append(replacement, truncate(startBlk, 0, prefixLen))
		}
		extracted = append(extracted, db.blocks[startIdx+1:endIdx]...)
		endCovered := q - db.positions[endIdx] + 1
		if endCovered == endBlk.Len() {
			extracted = append(extracted, endBlk)
		} else {
			extracted = append(extracted, truncate(endBlk, 0, endCovered))
			replacement = append(replacement, truncate(endBlk, endCovered, endBlk.Len()-endCovered))
		}
	}

	for _, b := range replacement {
		db.emitAcquired(b)
	}
	out := make([]Block, 0, len(db.blocks)-(endIdx-startIdx+1)+len(replacement))
	out = append(out, db.blocks[:startIdx]...)
	out = append(out, replacement...)
	out = append(out, db.blocks[endIdx+1:]...)
	db.blocks = out
	db.size -= n
	db.recomputePositions()

	if len(replacement) > 0 {
		for i := len(replacement) - 1; i >= 0; i-- {
			db.coalesceFrom(startIdx + i)
		}
	} else if startIdx > 0 && startIdx < len(db.blocks) {
		db.coalesceFrom(startIdx - 1)
	}
	return extracted, nil
}

// Transfer moves the elements at positions [p, q] out of src and into
// dst starting at pPrime, destroying dst's pre-existing content over the
// same length. Blocks that are fully covered by [p, q] are moved by
// reference rather than copied; only the two boundary blocks are cloned.
func Transfer(src *MTV, p, q int, dst *MTV, pPrime int) error {
	destroyLen := q - p + 1
	if pPrime < 0 || pPrime+destroyLen > dst.size {
		return mdserr.New(mdserr.OutOfRange, "mtv.transfer", "destination range exceeds the container's size")
	}
	extracted, err := src.extractBlocks(p, q)
	if err != nil {
		return err
	}
	if err := Erase(dst, pPrime, destroyLen); err != nil {
		return err
	}
	return dst.insertBlocks(pPrime, extracted)
}

// Swap exchanges the equal-length ranges [p, q] in src and [pPrime,
// pPrime+(q-p)] in dst, implemented as a pair of whole-block moves with
// re-merging on each side.
func Swap(src *MTV, p, q int, dst *MTV, pPrime int) error {
	lenRange := q - p + 1
	qPrime := pPrime + lenRange - 1
	if pPrime < 0 || qPrime >= dst.size {
		return mdserr.New(mdserr.OutOfRange, "mtv.swap", "destination range exceeds the container's size")
	}
	srcBlocks, err := src.extractBlocks(p, q)
	if err != nil {
		return err
	}
	dstBlocks, err := dst.extractBlocks(pPrime, qPrime)
	if err != nil {
		return err
	}
	if err := src.insertBlocks(p, dstBlocks); err != nil {
		return err
	}
	return dst.insertBlocks(pPrime, srcBlocks)
}

// BlockInfo describes one element block for iteration or introspection.
type BlockInfo struct {
	Position int
	Category Category
	Size     int
	Block    Block
}

// Blocks returns a snapshot of the container's current block partition,
// in position order.
func (db *MTV) Blocks() []BlockInfo {
	out := make([]BlockInfo, len(db.blocks))
	for i, b := range db.blocks {
		out[i] = BlockInfo{Position: db.positions[i], Category: b.Category(), Size: b.Len(), Block: b}
	}
	return out
}
