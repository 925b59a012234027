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
	"github.com/pion/rtp"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/ssrc-rewriter/pkg/telemetry"
)

// GroupRewriter owns one target SSRC. It holds one SourceRewriter per
// contributing source SSRC and decides packet by packet which source is
// active, i.e. which source's output currently defines the target stream,
// performing a controlled handover between sources.
type GroupRewriter struct {
	logger logger.Logger
	engine *RewritingEngine

	targetSSRC uint32
	sources    map[uint32]*SourceRewriter
	active     *SourceRewriter

	// target extended sequence number base for the next open interval,
	// advanced by the length of every interval closed on handover
	nextTargetBase uint64
	baseSeeded     bool

	// timestamp reference SSRC: the first source ever seen for this target
	refSSRC   uint32
	refSeeded bool

	// uplift floor: the highest target RTP timestamp emitted so far
	lastTargetTS uint32
	tsEmitted    bool
}

func newGroupRewriter(targetSSRC uint32, engine *RewritingEngine, l logger.Logger) *GroupRewriter {
	return &GroupRewriter{
		logger:     l.WithValues("targetSSRC", targetSSRC),
		engine:     engine,
		targetSSRC: targetSSRC,
		sources:    make(map[uint32]*SourceRewriter),
	}
}

func (g *GroupRewriter) addSource(ssrc uint32) *SourceRewriter {
	if src, ok := g.sources[ssrc]; ok {
		return src
	}
	src := newSourceRewriter(ssrc, g, g.engine.params.Config, g.logger)
	g.sources[ssrc] = src
	return src
}

func (g *GroupRewriter) removeSource(ssrc uint32) {
	src, ok := g.sources[ssrc]
	if !ok {
		return
	}
	if g.active == src {
		g.nextTargetBase += src.pause()
		g.active = nil
	}
	delete(g.sources, ssrc)
}

// rewrite mutates pkt in place to continue the target stream. A packet from
// a non-active source carrying new media triggers a handover; late
// retransmissions from paused sources resolve through their archives without
// disturbing the active source.
func (g *GroupRewriter) rewrite(pkt *rtp.Packet) error {
	src, ok := g.sources[pkt.SSRC]
	if !ok {
		return errNoSourceRewriter
	}

	if !g.refSeeded {
		g.refSSRC = pkt.SSRC
		g.refSeeded = true
	}

	extSeq, ok := src.extendSequence(pkt.SequenceNumber)
	if !ok {
		// reordered below the first sequence number ever seen, stale
		g.logger.Debugw("dropping packet preceding stream start",
			"sourceSSRC", pkt.SSRC, "sn", pkt.SequenceNumber)
		return errNoCoveringInterval
	}

	if src != g.active && src.isNewMedia(extSeq) {
		g.handover(src, pkt, extSeq)
	}

	return src.rewrite(pkt, extSeq)
}

// handover pauses the previously active source, advances the target base by
// the length of the just-closed interval and opens a fresh interval for the
// new source. A handover is expected to coincide with a keyframe; a switch
// mid-frame is a protocol invariant violation but still proceeds, the stream
// degrades only until the next frame boundary.
func (g *GroupRewriter) handover(src *SourceRewriter, pkt *rtp.Packet, extSeq uint64) {
	if g.active != nil {
		g.nextTargetBase += g.active.pause()
	}
	if !g.baseSeeded {
		g.nextTargetBase = extSeq
		g.baseSeeded = true
	}

	if isKeyFrame := g.engine.params.IsKeyFrame; isKeyFrame != nil && !isKeyFrame(pkt) {
		g.logger.Warnw("handover not aligned with keyframe", nil,
			"fromSSRC", g.activeSSRC(), "toSSRC", src.ssrc, "extSeq", extSeq)
	}

	g.logger.Infow("source handover",
		"fromSSRC", g.activeSSRC(), "toSSRC", src.ssrc, "targetBase", g.nextTargetBase)

	src.resume(extSeq, g.nextTargetBase)
	g.active = src
	telemetry.IncrementHandovers()
}

func (g *GroupRewriter) activeSSRC() uint32 {
	if g.active == nil {
		return 0
	}
	return g.active.ssrc
}

// isIdle reports that no source feeds this target, used by the engine to
// decide BYE emission.
func (g *GroupRewriter) isIdle() bool {
	return len(g.sources) == 0
}

func (g *GroupRewriter) DebugInfo() map[string]interface{} {
	sources := make(map[uint32]map[string]interface{}, len(g.sources))
	for ssrc, src := range g.sources {
		sources[ssrc] = src.DebugInfo()
	}
	return map[string]interface{}{
		"TargetSSRC":     g.targetSSRC,
		"ActiveSSRC":     g.activeSSRC(),
		"NextTargetBase": g.nextTargetBase,
		"RefSSRC":        g.refSSRC,
		"LastTargetTS":   g.lastTargetTS,
		"Sources":        sources,
	}
}
