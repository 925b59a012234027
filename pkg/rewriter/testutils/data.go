package testutils

import (
	"encoding/binary"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// -----------------------------------------------------------

type TestPacketParams struct {
	SetMarker      bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	PayloadSize    int
}

func GetTestPacket(params *TestPacketParams) *rtp.Packet {
	payloadSize := params.PayloadSize
	if payloadSize == 0 {
		payloadSize = 10
	}
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         params.SetMarker,
			PayloadType:    params.PayloadType,
			SequenceNumber: params.SequenceNumber,
			Timestamp:      params.Timestamp,
			SSRC:           params.SSRC,
		},
		Payload: make([]byte, payloadSize),
	}
}

// GetTestRTXPacket wraps originalSN into an RTX payload (RFC 4588).
func GetTestRTXPacket(params *TestPacketParams, originalSN uint16) *rtp.Packet {
	pkt := GetTestPacket(params)
	binary.BigEndian.PutUint16(pkt.Payload[0:2], originalSN)
	return pkt
}

// GetTestFECPacket builds a payload with an RFC 5109 style FEC header
// carrying snBase.
func GetTestFECPacket(params *TestPacketParams, snBase uint16) *rtp.Packet {
	if params.PayloadSize < 10 {
		params.PayloadSize = 10
	}
	pkt := GetTestPacket(params)
	binary.BigEndian.PutUint16(pkt.Payload[2:4], snBase)
	return pkt
}

// GetTestREDPacket builds an RFC 2198 RED payload with one redundant FEC
// block followed by a primary block.
func GetTestREDPacket(params *TestPacketParams, fecPT uint8, snBase uint16, primaryPT uint8, primarySize int) *rtp.Packet {
	fecBlock := make([]byte, 10)
	binary.BigEndian.PutUint16(fecBlock[2:4], snBase)

	payload := make([]byte, 0, 5+len(fecBlock)+primarySize)

	// redundant block header: F=1, PT, ts offset 0, length
	header := uint32(0x80|fecPT) << 24
	header |= uint32(len(fecBlock)) & 0x3ff
	payload = binary.BigEndian.AppendUint32(payload, header)

	// primary block header: F=0, PT
	payload = append(payload, primaryPT)

	payload = append(payload, fecBlock...)
	payload = append(payload, make([]byte, primarySize)...)

	pkt := GetTestPacket(params)
	pkt.Payload = payload
	return pkt
}

// -----------------------------------------------------------

// ClockMapping is a linear RTP timestamp to wall clock correlation for one
// SSRC.
type ClockMapping struct {
	RTPBase       uint32
	WallClockBase int64
	ClockRate     uint32
}

// TestMediaClock implements rewriter.MediaClock over static per-SSRC linear
// mappings.
type TestMediaClock struct {
	mappings map[uint32]ClockMapping
}

func NewTestMediaClock() *TestMediaClock {
	return &TestMediaClock{
		mappings: make(map[uint32]ClockMapping),
	}
}

func (c *TestMediaClock) SetMapping(ssrc uint32, mapping ClockMapping) {
	c.mappings[ssrc] = mapping
}

func (c *TestMediaClock) ClearMapping(ssrc uint32) {
	delete(c.mappings, ssrc)
}

func (c *TestMediaClock) ToWallClock(ssrc uint32, rtpTS uint32) (int64, bool) {
	m, ok := c.mappings[ssrc]
	if !ok {
		return 0, false
	}
	elapsed := int64(int32(rtpTS - m.RTPBase))
	return m.WallClockBase + elapsed*1000/int64(m.ClockRate), true
}

func (c *TestMediaClock) FromWallClock(ssrc uint32, wallClockMs int64) (uint32, bool) {
	m, ok := c.mappings[ssrc]
	if !ok {
		return 0, false
	}
	return m.RTPBase + uint32((wallClockMs-m.WallClockBase)*int64(m.ClockRate)/1000), true
}

// --------------------------------------

var TestVP8Codec = webrtc.RTPCodecCapability{
	MimeType:  "video/vp8",
	ClockRate: 90000,
}

var TestOpusCodec = webrtc.RTPCodecCapability{
	MimeType:  "audio/opus",
	ClockRate: 48000,
}
