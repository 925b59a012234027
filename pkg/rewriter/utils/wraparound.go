// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package utils

import (
	"unsafe"
)

type number interface {
	uint16 | uint32
}

type extendedNumber interface {
	uint32 | uint64
}

// WrapAround widens a fixed-width RTP counter (sequence number or timestamp)
// into a monotone extended space by tracking wraparound cycles. All interval
// arithmetic in the rewriter operates on extended values so that ordering is
// unambiguous across cycles.
type WrapAround[T number, ET extendedNumber] struct {
	halfRange T

	initialized bool
	extHighest  ET
}

func NewWrapAround[T number, ET extendedNumber]() *WrapAround[T, ET] {
	var t T
	return &WrapAround[T, ET]{
		halfRange: T(1) << ((unsafe.Sizeof(t) * 8) - 1),
	}
}

// Update extends val and advances the highest seen extended value if val is
// in-order. Out-of-order values are extended relative to the highest seen
// without disturbing the cycle state. ok is false when val precedes the
// start of the stream and has no valid extension.
func (w *WrapAround[T, ET]) Update(val T) (ET, bool) {
	if !w.initialized {
		w.initialized = true
		w.extHighest = ET(val)
		return w.extHighest, true
	}

	ext, ok := w.Extend(val)
	if !ok {
		return 0, false
	}
	if ext > w.extHighest {
		w.extHighest = ext
	}
	return ext, true
}

// Extend is the read-only form of Update: it returns the extension of val
// nearest to the highest seen value. Used for references embedded in
// sub-headers (RTX OSN, FEC SN base) which may point backwards across a
// cycle boundary. ok is false when val precedes the start of the stream.
func (w *WrapAround[T, ET]) Extend(val T) (ET, bool) {
	if !w.initialized {
		return ET(val), true
	}

	delta := val - w.Highest()
	if delta < w.halfRange {
		// at or ahead of highest
		return w.extHighest + ET(delta), true
	}

	// behind highest, possibly across a wrap boundary
	back := ET(w.Highest() - val)
	if back > w.extHighest {
		// extending below zero would alias a pre-start value onto a future
		// cycle, there is no valid extension
		return 0, false
	}
	return w.extHighest - back, true
}

func (w *WrapAround[T, ET]) Highest() T {
	return T(w.extHighest)
}

func (w *WrapAround[T, ET]) ExtendedHighest() ET {
	return w.extHighest
}

func (w *WrapAround[T, ET]) Initialized() bool {
	return w.initialized
}
