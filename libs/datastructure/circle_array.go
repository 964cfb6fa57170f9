package datastructure

import (
	"errors"
)

var OutOfCapacity = errors.New("Out of capacity")

// CircleArray is a fixed-capacity ring buffer of T, used as a bounded
// work queue wherever a caller knows the maximum number of pending items
// up front - e.g. the set of orphaned children a dissolving rtree
// directory can ever produce is bounded by its own fan-out, so there's no
// reason to let that queue grow past it.
type CircleArray[T any] struct {
	items  []T
	first  int
	length int
}

func (a *CircleArray[T]) Len() int {
	return a.length
}

func (a *CircleArray[T]) Get(index int) T {
	if index >= a.length {
		panic("Index out of range")
	}
	return a.items[(a.first+index)%len(a.items)]
}

func (a *CircleArray[T]) Put(index int, v T) {
	if index >= a.length {
		panic("Index out of range")
	}
	a.items[(a.first+index)%len(a.items)] = v
}

func (a *CircleArray[T]) Append(v T) error {
	if a.length >= len(a.items) {
		return OutOfCapacity
	}
	a.items[(a.first+a.length)%len(a.items)] = v
	a.length++
	return nil
}

func (a *CircleArray[T]) Push(v T) { // will overwrite
	a.items[(a.first+a.length)%len(a.items)] = v
	a.length++
	if a.length > len(a.items) {
		a.length = len(a.items)
		a.first = (a.first + 1) % len(a.items)
	}
}

// Pop removes and returns the oldest element. Calling it on an empty
// array returns T's zero value - the caller should check Len() first.
func (a *CircleArray[T]) Pop() T {
	var zero T
	if a.length <= 0 {
		return zero
	}
	v := a.items[a.first]
	a.items[a.first] = zero // drop the reference so it can be collected
	a.length--
	a.first = (a.first + 1) % len(a.items)
	return v
}

func (a *CircleArray[T]) Resize(size int) {
	items := make([]T, size)
	copy(items, a.items)
	a.items = items
}

func (a *CircleArray[T]) Init(size int) {
	a.items = make([]T, size)
}
