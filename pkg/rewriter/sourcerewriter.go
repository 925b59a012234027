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
	"github.com/gammazero/deque"
	"github.com/pion/rtp"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/ssrc-rewriter/pkg/rewriter/utils"
)

// SourceRewriter owns one source SSRC's rewriting history: the current open
// interval, a bounded archive of closed intervals ordered by sourceMax, and
// the per-source timestamp translation state.
//
// A genuinely new interval is only ever created by the owning GroupRewriter
// on handover, never implicitly here, preserving the invariant that only one
// interval is writable at a time.
type SourceRewriter struct {
	logger logger.Logger
	ssrc   uint32
	group  *GroupRewriter

	seq  *utils.WrapAround[uint16, uint64]
	open *interval

	archive       deque.Deque[*interval]
	archivedCount uint64
	archiveBudget uint64

	ts *timestampRewriter
}

func newSourceRewriter(ssrc uint32, group *GroupRewriter, config Config, l logger.Logger) *SourceRewriter {
	return &SourceRewriter{
		logger:        l.WithValues("sourceSSRC", ssrc),
		ssrc:          ssrc,
		group:         group,
		seq:           utils.NewWrapAround[uint16, uint64](),
		archiveBudget: uint64(config.ArchivePacketBudget),
		ts:            newTimestampRewriter(group.engine.params.Clock, config, l),
	}
}

// extendSequence widens the packet's 16-bit sequence number using this
// source's cycle counter, advancing the counter for in-order packets.
// ok is false for values preceding the start of the stream.
func (s *SourceRewriter) extendSequence(sn uint16) (uint64, bool) {
	return s.seq.Update(sn)
}

// extendAround is the read-only extension used for sequence number
// references embedded in sub-headers.
func (s *SourceRewriter) extendAround(sn uint16) (uint64, bool) {
	return s.seq.Extend(sn)
}

// rewrite classifies the packet as an in-order continuation of the open
// interval or a retransmission covered by an archived one and delegates the
// field rewrites. Anything older than the source's history is a stale
// retransmission and is dropped.
func (s *SourceRewriter) rewrite(pkt *rtp.Packet, extSeq uint64) error {
	if s.open != nil && extSeq >= s.open.sourceMin {
		s.open.advance(extSeq)
		return s.open.rewritePacket(pkt, extSeq, s)
	}

	if archived := s.findArchived(extSeq); archived != nil {
		return archived.rewritePacket(pkt, extSeq, s)
	}

	s.logger.Debugw("dropping packet outside rewriting history", "extSeq", extSeq)
	return errNoCoveringInterval
}

// isNewMedia reports whether extSeq lies beyond everything this source has
// mapped so far, i.e. the packet carries new media rather than a
// retransmission resolvable against the archive.
func (s *SourceRewriter) isNewMedia(extSeq uint64) bool {
	if s.open != nil {
		return extSeq >= s.open.sourceMin
	}
	if s.archive.Len() == 0 {
		return true
	}
	return extSeq > s.archive.Back().sourceMax
}

// pause closes the open interval and archives it, returning the length of
// the closed interval. Pausing an already-paused source is a no-op.
func (s *SourceRewriter) pause() uint64 {
	if s.open == nil {
		s.logger.Infow("pause on already-paused source")
		return 0
	}

	closed := s.open
	s.open = nil
	s.archivePush(closed)
	return closed.length()
}

// resume opens a fresh interval anchored at extSeq mapping to targetBase.
// Called only by the owning GroupRewriter on handover.
func (s *SourceRewriter) resume(extSeq uint64, targetBase uint64) {
	if s.open != nil {
		s.logger.Warnw("resume on source with open interval", nil, "open", s.open.String())
		s.pause()
	}
	s.open = newInterval(s.ssrc, extSeq, targetBase)
}

func (s *SourceRewriter) isPaused() bool {
	return s.open == nil
}

// translateSequence resolves extSeq through the open interval and the
// archive without mutating either. Used for FEC SN base and RTX OSN
// references.
func (s *SourceRewriter) translateSequence(extSeq uint64) (uint64, bool) {
	if s.open != nil && s.open.contains(extSeq) {
		return s.open.translate(extSeq), true
	}
	if archived := s.findArchived(extSeq); archived != nil {
		return archived.translate(extSeq), true
	}
	return 0, false
}

// findArchived is a nearest-ceiling search over the archive keyed by
// sourceMax, succeeding iff the found interval contains extSeq.
func (s *SourceRewriter) findArchived(extSeq uint64) *interval {
	lo, hi := 0, s.archive.Len()
	for lo < hi {
		mid := (lo + hi) >> 1
		if s.archive.At(mid).sourceMax < extSeq {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == s.archive.Len() {
		return nil
	}
	if archived := s.archive.At(lo); archived.contains(extSeq) {
		return archived
	}
	return nil
}

func (s *SourceRewriter) archivePush(closed *interval) {
	s.archive.PushBack(closed)
	s.archivedCount += closed.length()
	for s.archivedCount > s.archiveBudget && s.archive.Len() > 1 {
		evicted := s.archive.PopFront()
		s.archivedCount -= evicted.length()
		s.logger.Debugw("evicted archived interval", "interval", evicted.String())
	}
}

// rewriteTimestamp runs the group timestamp protocol for one source
// timestamp, advancing the group's uplift floor when a new in-order frame is
// emitted.
func (s *SourceRewriter) rewriteTimestamp(sourceTS uint32) (uint32, error) {
	g := s.group
	targetTS, advanceFloor, err := s.ts.rewrite(s.ssrc, g.refSSRC, sourceTS, g.lastTargetTS, g.tsEmitted)
	if err != nil {
		s.logger.Warnw("timestamp rewrite failed", err, "sourceTS", sourceTS)
		return 0, err
	}
	if advanceFloor {
		g.lastTargetTS = targetTS
		g.tsEmitted = true
	}
	return targetTS, nil
}

func (s *SourceRewriter) DebugInfo() map[string]interface{} {
	info := map[string]interface{}{
		"SSRC":          s.ssrc,
		"Paused":        s.isPaused(),
		"ArchivedCount": s.archivedCount,
		"ArchiveLen":    s.archive.Len(),
	}
	if s.open != nil {
		info["OpenInterval"] = s.open.String()
	}
	return info
}
