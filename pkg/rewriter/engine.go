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

	"github.com/frostbyte73/core"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/ssrc-rewriter/pkg/telemetry"
)

// UnmapSSRC is the sentinel target passed to Configure to unbind a set of
// source SSRCs from their target.
const UnmapSSRC uint32 = 0

type RewritingEngineParams struct {
	Logger     logger.Logger
	Clock      MediaClock
	IsKeyFrame KeyFrameDetector
	RTCPWriter func([]rtcp.Packet) error
	Config     Config
}

// ConfigureParams (re-)binds a set of source SSRCs to one target SSRC.
// It is consumed from a signaling collaborator, not a CLI.
type ConfigureParams struct {
	SourceSSRCs   []uint32
	TargetSSRC    uint32 // UnmapSSRC to unbind
	TargetRTXSSRC uint32 // UnmapSSRC when the target has no RTX stream

	REDPayloadTypes map[uint32]uint8  // source SSRC -> RED payload type
	FECPayloadTypes map[uint32]uint8  // source SSRC -> FEC payload type
	RTXSSRCs        map[uint32]uint32 // RTX SSRC -> primary SSRC
}

type targetBinding struct {
	group    *GroupRewriter
	refCount int
}

// RewritingEngine is the entry point of the SSRC rewriting core. It holds
// the SSRC group topology, routes each inbound RTP/RTCP packet to the right
// GroupRewriter and reverse-maps target SSRCs back to source SSRCs inside
// outgoing RTCP feedback.
//
// The engine is not internally synchronized: callers must serialize all
// calls into one instance, every mutation happens within the call that
// delivered the triggering packet.
type RewritingEngine struct {
	params RewritingEngineParams
	logger logger.Logger

	groupsBySource  map[uint32]*GroupRewriter
	targets         map[uint32]*targetBinding
	rtxPrimary      map[uint32]uint32
	redPayloadTypes map[uint32]uint8
	fecPayloadTypes map[uint32]uint8

	closed core.Fuse

	packetsRewritten atomic.Uint64
	packetsDropped   atomic.Uint64
}

func NewRewritingEngine(params RewritingEngineParams) *RewritingEngine {
	l := params.Logger
	if l == nil {
		l = logger.GetLogger()
	}
	params.Config = params.Config.withDefaults()
	return &RewritingEngine{
		params:          params,
		logger:          l,
		groupsBySource:  make(map[uint32]*GroupRewriter),
		targets:         make(map[uint32]*targetBinding),
		rtxPrimary:      make(map[uint32]uint32),
		redPayloadTypes: make(map[uint32]uint8),
		fecPayloadTypes: make(map[uint32]uint8),
		closed:          core.NewFuse(),
	}
}

// Configure idempotently binds params.SourceSSRCs to params.TargetSSRC,
// creating the GroupRewriter on first use and reference counting it per
// bound source. Passing UnmapSSRC as the target unbinds the sources; when a
// target's reference count reaches zero the engine emits an RTCP BYE for it
// and discards its state.
func (e *RewritingEngine) Configure(params ConfigureParams) error {
	if e.closed.IsBroken() {
		return ErrEngineClosed
	}

	if len(params.SourceSSRCs) == 0 {
		e.logger.Infow("configure called with empty source set, ignoring")
		return nil
	}

	for rtxSSRC, primarySSRC := range params.RTXSSRCs {
		e.rtxPrimary[rtxSSRC] = primarySSRC
	}
	for ssrc, pt := range params.REDPayloadTypes {
		e.redPayloadTypes[ssrc] = pt
	}
	for ssrc, pt := range params.FECPayloadTypes {
		e.fecPayloadTypes[ssrc] = pt
	}

	if params.TargetSSRC == UnmapSSRC {
		for _, ssrc := range params.SourceSSRCs {
			e.unbind(ssrc)
		}
		return nil
	}

	for _, ssrc := range params.SourceSSRCs {
		target := params.TargetSSRC
		if _, isRTX := e.rtxPrimary[ssrc]; isRTX {
			if params.TargetRTXSSRC == UnmapSSRC {
				// binding an rtx source into the media group would let its
				// retransmissions trigger media handovers
				e.logger.Warnw("rtx source has no rtx target, leaving unbound", nil, "sourceSSRC", ssrc)
				continue
			}
			// retransmissions continue the target's RTX stream
			target = params.TargetRTXSSRC
		}
		e.bind(ssrc, target)
	}
	return nil
}

func (e *RewritingEngine) bind(sourceSSRC uint32, targetSSRC uint32) {
	if existing := e.groupsBySource[sourceSSRC]; existing != nil {
		if existing.targetSSRC == targetSSRC {
			// already bound, nothing to do
			return
		}
		e.unbind(sourceSSRC)
	}

	binding := e.targets[targetSSRC]
	if binding == nil {
		binding = &targetBinding{
			group: newGroupRewriter(targetSSRC, e, e.logger),
		}
		e.targets[targetSSRC] = binding
	}
	binding.refCount++
	binding.group.addSource(sourceSSRC)
	e.groupsBySource[sourceSSRC] = binding.group

	e.logger.Debugw("bound source to target",
		"sourceSSRC", sourceSSRC, "targetSSRC", targetSSRC, "refCount", binding.refCount)
}

func (e *RewritingEngine) unbind(sourceSSRC uint32) {
	group := e.groupsBySource[sourceSSRC]
	if group == nil {
		e.logger.Infow("unbind of unmapped source", "sourceSSRC", sourceSSRC)
		return
	}

	delete(e.groupsBySource, sourceSSRC)
	group.removeSource(sourceSSRC)

	binding := e.targets[group.targetSSRC]
	if binding == nil {
		return
	}
	binding.refCount--
	if binding.refCount > 0 {
		return
	}

	delete(e.targets, group.targetSSRC)
	if !group.isIdle() {
		e.logger.Warnw("retiring target with live sources", nil, "targetSSRC", group.targetSSRC)
	}
	e.sendBye(group.targetSSRC)
}

// sendBye emits a minimal RTCP compound packet (empty-report RR + BYE) for a
// retired target SSRC.
func (e *RewritingEngine) sendBye(targetSSRC uint32) {
	if e.params.RTCPWriter == nil {
		return
	}

	compound := []rtcp.Packet{
		&rtcp.ReceiverReport{},
		&rtcp.Goodbye{
			Sources: []uint32{targetSSRC},
			Reason:  e.params.Config.ByeReason,
		},
	}
	if err := e.params.RTCPWriter(compound); err != nil {
		e.logger.Warnw("could not send bye for retired target", err, "targetSSRC", targetSSRC)
	}
	telemetry.IncrementByes()
}

// TransformRTP rewrites pkt in place for transmission on its target SSRC.
// Traffic with no configured mapping passes through unmodified. A rewrite
// failure returns nil, the packet must be dropped, never forwarded
// half-rewritten.
func (e *RewritingEngine) TransformRTP(pkt *rtp.Packet) (*rtp.Packet, error) {
	if pkt == nil {
		return nil, errNilPacket
	}
	if e.closed.IsBroken() {
		return nil, ErrEngineClosed
	}

	group := e.groupsBySource[pkt.SSRC]
	if group == nil {
		telemetry.IncrementPackets(telemetry.PacketPassthrough, 1)
		return pkt, nil
	}

	if err := group.rewrite(pkt); err != nil {
		e.packetsDropped.Inc()
		telemetry.IncrementPackets(telemetry.PacketDropped, 1)
		e.logger.Debugw("dropping packet", "sourceSSRC", pkt.SSRC, "error", err)
		return nil, err
	}

	e.packetsRewritten.Inc()
	telemetry.IncrementPackets(telemetry.PacketRewritten, 1)
	return pkt, nil
}

// TransformRTCP rewrites an outgoing RTCP compound packet sub-packet by
// sub-packet. Reports are replaced with placeholder empty-block forms, SDES
// and BYE pass through, payload-specific feedback has its subject SSRCs
// reverse-translated from target to the currently active source, generic
// NACK is dropped (handled by a separate collaborator) and anything else is
// logged and dropped.
func (e *RewritingEngine) TransformRTCP(pkts []rtcp.Packet) []rtcp.Packet {
	out := make([]rtcp.Packet, 0, len(pkts))
	for _, pkt := range pkts {
		switch p := pkt.(type) {
		case *rtcp.SenderReport:
			out = append(out, &rtcp.SenderReport{SSRC: p.SSRC})
			telemetry.IncrementRTCP(telemetry.RTCPForwarded, 1)

		case *rtcp.ReceiverReport:
			out = append(out, &rtcp.ReceiverReport{SSRC: p.SSRC})
			telemetry.IncrementRTCP(telemetry.RTCPForwarded, 1)

		case *rtcp.SourceDescription, *rtcp.Goodbye:
			out = append(out, pkt)
			telemetry.IncrementRTCP(telemetry.RTCPForwarded, 1)

		case *rtcp.PictureLossIndication:
			p.MediaSSRC = e.reverseTranslate(p.MediaSSRC)
			out = append(out, p)
			telemetry.IncrementRTCP(telemetry.RTCPTranslated, 1)

		case *rtcp.FullIntraRequest:
			p.MediaSSRC = e.reverseTranslate(p.MediaSSRC)
			for i := range p.FIR {
				p.FIR[i].SSRC = e.reverseTranslate(p.FIR[i].SSRC)
			}
			out = append(out, p)
			telemetry.IncrementRTCP(telemetry.RTCPTranslated, 1)

		case *rtcp.ReceiverEstimatedMaximumBitrate:
			for i := range p.SSRCs {
				p.SSRCs[i] = e.reverseTranslate(p.SSRCs[i])
			}
			out = append(out, p)
			telemetry.IncrementRTCP(telemetry.RTCPTranslated, 1)

		case *rtcp.TransportLayerNack:
			// generic NACK is satisfied by the retransmission collaborator
			telemetry.IncrementRTCP(telemetry.RTCPDropped, 1)

		default:
			e.logger.Debugw("dropping unhandled rtcp packet", "type", fmt.Sprintf("%T", pkt))
			telemetry.IncrementRTCP(telemetry.RTCPDropped, 1)
		}
	}
	return out
}

// reverseTranslate maps a target SSRC back to the source SSRC currently
// feeding it so feedback reaches the correct upstream sender. An unresolved
// SSRC is preserved and logged: lost feedback is preferred over feedback
// sent to a nonexistent endpoint identity.
func (e *RewritingEngine) reverseTranslate(targetSSRC uint32) uint32 {
	binding := e.targets[targetSSRC]
	if binding == nil || binding.group.active == nil {
		e.logger.Infow("could not reverse-translate feedback ssrc", "targetSSRC", targetSSRC)
		return targetSSRC
	}
	return binding.group.active.ssrc
}

// Close retires all live targets, emitting a BYE for each, and rejects
// further traffic.
func (e *RewritingEngine) Close() {
	e.closed.Once(func() {
		for targetSSRC := range e.targets {
			e.sendBye(targetSSRC)
		}
		e.targets = make(map[uint32]*targetBinding)
		e.groupsBySource = make(map[uint32]*GroupRewriter)
	})
}

func (e *RewritingEngine) DebugInfo() map[string]interface{} {
	targets := make(map[uint32]map[string]interface{}, len(e.targets))
	for ssrc, binding := range e.targets {
		info := binding.group.DebugInfo()
		info["RefCount"] = binding.refCount
		targets[ssrc] = info
	}
	return map[string]interface{}{
		"PacketsRewritten": e.packetsRewritten.Load(),
		"PacketsDropped":   e.packetsDropped.Load(),
		"Targets":          targets,
	}
}

// sourceRewriterFor resolves a source SSRC to its rewriter across groups,
// used for RTX original sequence number resolution where the reference
// lives in the primary stream's group.
func (e *RewritingEngine) sourceRewriterFor(sourceSSRC uint32) *SourceRewriter {
	group := e.groupsBySource[sourceSSRC]
	if group == nil {
		return nil
	}
	return group.sources[sourceSSRC]
}
