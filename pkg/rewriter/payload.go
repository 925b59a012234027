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
	"encoding/binary"
)

// rewriteRTXOriginalSN patches the original sequence number carried in the
// first two bytes of an RTX payload (RFC 4588). The OSN lives in the primary
// stream's sequence space, so it is resolved through the primary source's
// retransmission lookup, not the RTX source's own intervals.
func rewriteRTXOriginalSN(payload []byte, primary *SourceRewriter) error {
	if primary == nil {
		return errRTXUnresolved
	}
	if len(payload) < 2 {
		return errShortRTXPayload
	}

	osn := binary.BigEndian.Uint16(payload[0:2])
	extOSN, ok := primary.extendAround(osn)
	if !ok {
		return errRTXUnresolved
	}
	extTarget, ok := primary.translateSequence(extOSN)
	if !ok {
		return errRTXUnresolved
	}

	binary.BigEndian.PutUint16(payload[0:2], uint16(extTarget))
	return nil
}

// rewriteFECSNBase patches the 16-bit SN base in an RFC 5109 style FEC
// header. The base may reference a different extended cycle than the packet
// carrying it, so the translation goes through the source's full interval
// history.
func rewriteFECSNBase(fec []byte, src *SourceRewriter) error {
	if len(fec) < 4 {
		return errShortFECHeader
	}

	snBase := binary.BigEndian.Uint16(fec[2:4])
	extBase, ok := src.extendAround(snBase)
	if !ok {
		return errFECBaseUnresolved
	}
	extTarget, ok := src.translateSequence(extBase)
	if !ok {
		return errFECBaseUnresolved
	}

	binary.BigEndian.PutUint16(fec[2:4], uint16(extTarget))
	return nil
}

// rewriteREDEmbeddedFEC walks an RFC 2198 RED payload and rewrites the SN
// base of an embedded FEC block, located by matching the block payload type
// against the SSRC's bound FEC payload type. A RED payload without an
// embedded FEC block is left untouched.
//
//	 0                   1                    2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3  4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|F|   block PT  |  timestamp offset         |   block length    |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
func rewriteREDEmbeddedFEC(payload []byte, fecPT uint8, src *SourceRewriter) error {
	type redBlock struct {
		pt     uint8
		length int
	}

	var blocks []redBlock
	offset := 0
	for {
		if offset >= len(payload) {
			return errShortREDHeader
		}
		if payload[offset]&0x80 == 0 {
			// last block header, block runs to the end of the payload
			blocks = append(blocks, redBlock{pt: payload[offset] & 0x7f, length: -1})
			offset++
			break
		}
		if offset+4 > len(payload) {
			return errShortREDHeader
		}
		blocks = append(blocks, redBlock{
			pt:     payload[offset] & 0x7f,
			length: int(binary.BigEndian.Uint16(payload[offset+2:offset+4]) & 0x3ff),
		})
		offset += 4
	}

	for _, block := range blocks {
		length := block.length
		if length < 0 {
			length = len(payload) - offset
		}
		if offset+length > len(payload) {
			return errShortREDHeader
		}
		if block.pt == fecPT {
			return rewriteFECSNBase(payload[offset:offset+length], src)
		}
		offset += length
	}

	return nil
}
