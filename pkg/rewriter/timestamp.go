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

package rewriter

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/livekit/protocol/logger"
)

// tsBefore reports a < b with mod 2^32 signed difference. RTP timestamps
// wrap, plain integer comparison is never correct here.
func tsBefore(a uint32, b uint32) bool {
	return int32(a-b) < 0
}

type timestampCacheEntry struct {
	targetTS   uint32
	insertedAt time.Time
}

// timestampRewriter translates one source SSRC's RTP timestamps into the
// group's reference timeline while preserving per-frame identity and
// ordering:
//
//   - a source timestamp seen within the freshness window reuses its cached
//     translation verbatim, every packet of a frame gets the same rewritten
//     timestamp even if clock drift is observed mid-frame
//   - a source timestamp older than the newest one seen is clamped to stay
//     strictly below the newer frame's rewritten timestamp (downlift)
//   - a new in-order timestamp is raised to the group's uplift floor when
//     the clock conversion lags it (uplift), compensating for sampling-clock
//     phase across switched encodings
type timestampRewriter struct {
	logger logger.Logger
	clock  MediaClock

	cache     *lru.Cache[uint32, timestampCacheEntry]
	freshness time.Duration

	hasMax        bool
	maxSourceTS   uint32
	maxTargetTS   uint32
	maxInsertedAt time.Time
}

func newTimestampRewriter(clock MediaClock, config Config, logger logger.Logger) *timestampRewriter {
	cache, _ := lru.New[uint32, timestampCacheEntry](config.TimestampCacheSize)
	return &timestampRewriter{
		logger:    logger,
		clock:     clock,
		cache:     cache,
		freshness: config.TimestampFreshness,
	}
}

// rewrite translates sourceTS of sourceSSRC into refSSRC's timeline.
// floor is the highest target timestamp the group has emitted so far
// (valid only when hasFloor). advanceFloor reports that the caller should
// raise the group floor to the returned timestamp.
func (t *timestampRewriter) rewrite(
	sourceSSRC uint32,
	refSSRC uint32,
	sourceTS uint32,
	floor uint32,
	hasFloor bool,
) (targetTS uint32, advanceFloor bool, err error) {
	now := time.Now()

	if entry, ok := t.cache.Get(sourceTS); ok && now.Sub(entry.insertedAt) <= t.freshness {
		return entry.targetTS, false, nil
	}

	converted, err := t.convert(sourceSSRC, refSSRC, sourceTS)
	if err != nil {
		return 0, false, err
	}

	if t.hasMax && now.Sub(t.maxInsertedAt) <= t.freshness && tsBefore(sourceTS, t.maxSourceTS) {
		// out-of-order frame, one step back: never emit a timestamp at or
		// above one already sent for a newer frame
		if !tsBefore(converted, t.maxTargetTS) {
			t.logger.Debugw("downlifting reordered frame timestamp",
				"sourceTS", sourceTS, "converted", converted, "maxTargetTS", t.maxTargetTS)
			converted = t.maxTargetTS - 1
		}
		t.cache.Add(sourceTS, timestampCacheEntry{targetTS: converted, insertedAt: now})
		return converted, false, nil
	}

	// new in-order frame
	if hasFloor && tsBefore(converted, floor+1) {
		converted = floor + 1
	}

	t.hasMax = true
	t.maxSourceTS = sourceTS
	t.maxTargetTS = converted
	t.maxInsertedAt = now
	t.cache.Add(sourceTS, timestampCacheEntry{targetTS: converted, insertedAt: now})
	return converted, true, nil
}

// convert maps sourceTS into refSSRC's RTP timeline via the wall clock.
// The reference source's own timestamps need no conversion. Correctness is a
// hard precondition, an unavailable correlation fails the rewrite.
func (t *timestampRewriter) convert(sourceSSRC uint32, refSSRC uint32, sourceTS uint32) (uint32, error) {
	if sourceSSRC == refSSRC {
		return sourceTS, nil
	}

	wallClockMs, ok := t.clock.ToWallClock(sourceSSRC, sourceTS)
	if !ok {
		return 0, errNoClockCorrelation
	}

	converted, ok := t.clock.FromWallClock(refSSRC, wallClockMs)
	if !ok {
		return 0, errNoClockCorrelation
	}
	return converted, nil
}
