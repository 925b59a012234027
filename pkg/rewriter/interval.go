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
	"fmt"

	"github.com/pion/rtp"
)

// interval maps one contiguous run of a source SSRC's extended sequence
// numbers onto a contiguous run in the target SSRC's number space. The
// mapping is a pure translation, no reordering happens inside an interval.
//
// An interval is open while its source is the active one feeding the target
// (sourceMax advances as packets arrive) and closed once the source is
// paused. Closed intervals are immutable and archived for retransmission
// lookups.
type interval struct {
	sourceSSRC uint32
	sourceMin  uint64
	sourceMax  uint64
	targetBase uint64
}

func newInterval(sourceSSRC uint32, extSeq uint64, targetBase uint64) *interval {
	return &interval{
		sourceSSRC: sourceSSRC,
		sourceMin:  extSeq,
		sourceMax:  extSeq,
		targetBase: targetBase,
	}
}

func (i *interval) String() string {
	return fmt.Sprintf("interval{ssrc: %d, source: [%d, %d], targetBase: %d}",
		i.sourceSSRC, i.sourceMin, i.sourceMax, i.targetBase)
}

func (i *interval) contains(extSeq uint64) bool {
	return extSeq >= i.sourceMin && extSeq <= i.sourceMax
}

// translate maps extSeq into the target number space. Defined only when
// contains(extSeq) holds for closed intervals; the open interval of the
// active source is advanced before translation instead.
func (i *interval) translate(extSeq uint64) uint64 {
	return extSeq - i.sourceMin + i.targetBase
}

// advance grows the open interval to cover extSeq. Must not be called on a
// closed interval.
func (i *interval) advance(extSeq uint64) {
	if extSeq > i.sourceMax {
		i.sourceMax = extSeq
	}
}

// length is the number of sequence numbers covered, including gaps from
// packets that were never observed.
func (i *interval) length() uint64 {
	return i.sourceMax - i.sourceMin + 1
}

// rewritePacket performs the in-place field rewrites for a packet whose
// extended sequence number falls inside this interval: SSRC substitution,
// sequence number translation, RED/FEC/RTX sub-header patching and the
// timestamp rewrite. Sub-header lookups go through the owning SourceRewriter
// since a referenced sequence number may live in a different interval.
//
// A failed sub-rewrite aborts the whole packet, a partially rewritten packet
// would desynchronize the receiver's de-redundancy logic.
func (i *interval) rewritePacket(pkt *rtp.Packet, extSeq uint64, src *SourceRewriter) error {
	group := src.group
	engine := group.engine

	pkt.SSRC = group.targetSSRC
	pkt.SequenceNumber = uint16(i.translate(extSeq))

	if redPT, ok := engine.redPayloadTypes[src.ssrc]; ok && pkt.PayloadType == redPT {
		fecPT, hasFEC := engine.fecPayloadTypes[src.ssrc]
		if hasFEC {
			if err := rewriteREDEmbeddedFEC(pkt.Payload, fecPT, src); err != nil {
				return err
			}
		}
	} else if fecPT, ok := engine.fecPayloadTypes[src.ssrc]; ok && pkt.PayloadType == fecPT {
		if err := rewriteFECSNBase(pkt.Payload, src); err != nil {
			return err
		}
	}

	if primarySSRC, ok := engine.rtxPrimary[src.ssrc]; ok {
		if err := rewriteRTXOriginalSN(pkt.Payload, engine.sourceRewriterFor(primarySSRC)); err != nil {
			return err
		}
	}

	targetTS, err := src.rewriteTimestamp(pkt.Timestamp)
	if err != nil {
		return err
	}
	pkt.Timestamp = targetTS
	return nil
}
