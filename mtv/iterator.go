package mtv

import "github.com/kohei101/multidimalgorithm/libs/mdserr"

// Iterator walks a container position by position, tracking its current
// block so repeated advances stay amortized O(1) instead of re-running
// locate's binary search every step.
type Iterator struct {
	db       *MTV
	pos      int
	blockIdx int
}

// NewIterator returns an iterator positioned before the container's
// first element; call Next to advance onto it.
func NewIterator(db *MTV) *Iterator {
	return &Iterator{db: db, pos: -1}
}

// Next advances the iterator by one position, reporting whether a
// position remains.
func (it *Iterator) Next() bool {
	it.pos++
	if it.pos >= it.db.size {
		return false
	}
	for it.blockIdx+1 < len(it.db.blocks) && it.db.positions[it.blockIdx+1] <= it.pos {
		it.blockIdx++
	}
	return true
}

// Position returns the iterator's current logical position.
func (it *Iterator) Position() int { return it.pos }

// Category returns the category of the block under the iterator.
func (it *Iterator) Category() Category { return it.db.blocks[it.blockIdx].Category() }

// IsEmpty reports whether the current position holds no value.
func (it *Iterator) IsEmpty() bool { return it.Category() == Empty }

func (it *Iterator) offset() int { return it.pos - it.db.positions[it.blockIdx] }

// IteratorValue reads the current position's value as T, failing with
// TypeMismatch if the block under the iterator isn't of that category.
func IteratorValue[T any](it *Iterator) (T, error) {
	var zero T
	tb, ok := it.db.blocks[it.blockIdx].(*TypedBlock[T])
	if !ok {
		return zero, mdserr.New(mdserr.TypeMismatch, "mtv.iterator_value", "stored category does not match the requested type")
	}
	return tb.At(it.offset()), nil
}
