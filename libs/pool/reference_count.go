/*
 * Copyright (c) 2022 Yunshan Networks
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package pool

import (
	"sync/atomic"
)

// ReferenceCount is a lock-free live-reference counter, the primitive
// mtv.RefCountingHandler wraps to turn block-acquired/block-released
// events into a running count of the MTV's currently non-empty blocks.
// The zero value starts at 0 live references; Reset marks the first one.
type ReferenceCount struct {
	n atomic.Int32
}

// Reset marks a single live reference, discarding whatever count was
// there before.
func (r *ReferenceCount) Reset() {
	r.n.Store(1)
}

// AddReferenceCount records one more live reference.
func (r *ReferenceCount) AddReferenceCount() {
	r.n.Add(1)
}

// SubReferenceCount drops one live reference and reports whether any
// remain. A count that goes negative means something released more times
// than it acquired; that's logged rather than returned, since callers
// generally treat it the same as "no references left."
func (r *ReferenceCount) SubReferenceCount() bool {
	v := r.n.Add(-1)
	if v > 0 {
		return true
	}
	if v != 0 {
		log.Errorf("reference(%d) maybe double released", v)
	}
	return false
}

// GetReferenceCount returns the current live-reference count.
func (r *ReferenceCount) GetReferenceCount() int32 {
	return r.n.Load()
}
