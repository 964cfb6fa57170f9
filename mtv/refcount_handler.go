package mtv

import "github.com/kohei101/multidimalgorithm/libs/pool"

// RefCountingHandler is an EventHandler that tracks the container's live
// non-empty block count with an atomic reference count, the same
// primitive used elsewhere in this module's stack to track live
// object counts. BlockCount is safe to read concurrently with mutation
// on the MTV it's attached to, even though the MTV itself is not.
type RefCountingHandler struct {
	count pool.ReferenceCount
}

// NewRefCountingHandler returns a handler starting at zero live blocks.
func NewRefCountingHandler() *RefCountingHandler {
	return &RefCountingHandler{}
}

func (h *RefCountingHandler) ElementBlockAcquired(Block) { h.count.AddReferenceCount() }
func (h *RefCountingHandler) ElementBlockReleased(Block) { h.count.SubReferenceCount() }

// BlockCount returns the current number of live (non-empty) blocks.
func (h *RefCountingHandler) BlockCount() int32 { return h.count.GetReferenceCount() }
