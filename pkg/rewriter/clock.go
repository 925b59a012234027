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

import "github.com/pion/rtp"

// MediaClock correlates an SSRC's RTP timestamp domain to wall-clock time.
// It is fed by RTCP sender reports elsewhere; the rewriter consumes it as a
// black box. A correlation may be unavailable for an SSRC that has not yet
// produced a sender report, in which case ok is false.
type MediaClock interface {
	// ToWallClock converts an RTP timestamp of the given SSRC to wall-clock
	// milliseconds.
	ToWallClock(ssrc uint32, rtpTS uint32) (wallClockMs int64, ok bool)

	// FromWallClock converts wall-clock milliseconds into the RTP timestamp
	// domain of the given SSRC.
	FromWallClock(ssrc uint32, wallClockMs int64) (rtpTS uint32, ok bool)
}

// KeyFrameDetector reports whether pkt starts a decodable frame. Codec
// awareness lives with the caller, the rewriter only uses it to validate
// that a handover lands on a frame boundary.
type KeyFrameDetector func(pkt *rtp.Packet) bool
