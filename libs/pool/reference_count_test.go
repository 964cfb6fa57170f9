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

import "testing"

func TestReferenceCountAddAndGet(t *testing.T) {
	var r ReferenceCount
	r.Reset()

	r.AddReferenceCount()
	if got := r.GetReferenceCount(); got != 2 {
		t.Errorf("GetReferenceCount() = %d, want 2", got)
	}
}

func TestReferenceCountSubStillLive(t *testing.T) {
	var r ReferenceCount
	r.Reset()
	r.AddReferenceCount()

	if valid := r.SubReferenceCount(); !valid {
		t.Errorf("SubReferenceCount() = false, want true (one reference still live)")
	}
	if got := r.GetReferenceCount(); got != 1 {
		t.Errorf("GetReferenceCount() = %d, want 1", got)
	}
}

func TestReferenceCountSubExhausted(t *testing.T) {
	var r ReferenceCount
	r.Reset()

	if valid := r.SubReferenceCount(); valid {
		t.Errorf("SubReferenceCount() = true, want false (no references left)")
	}
	if got := r.GetReferenceCount(); got != 0 {
		t.Errorf("GetReferenceCount() = %d, want 0", got)
	}
}

func TestReferenceCountResetAlwaysStartsAtOne(t *testing.T) {
	var r ReferenceCount
	r.AddReferenceCount()
	r.AddReferenceCount()
	r.Reset()
	if got := r.GetReferenceCount(); got != 1 {
		t.Errorf("Reset() left count at %d, want 1", got)
	}
}
