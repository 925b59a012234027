package rewriter

import (
	"testing"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/ssrc-rewriter/pkg/rewriter/testutils"
)

type testEnv struct {
	engine   *RewritingEngine
	clock    *testutils.TestMediaClock
	rtcpSent [][]rtcp.Packet
	keyFrame bool
}

func newTestEnv() *testEnv {
	return newTestEnvWithConfig(DefaultConfig())
}

func newTestEnvWithConfig(config Config) *testEnv {
	env := &testEnv{
		clock:    testutils.NewTestMediaClock(),
		keyFrame: true,
	}
	env.engine = NewRewritingEngine(RewritingEngineParams{
		Logger: logger.GetLogger(),
		Clock:  env.clock,
		IsKeyFrame: func(_ *rtp.Packet) bool {
			return env.keyFrame
		},
		RTCPWriter: func(pkts []rtcp.Packet) error {
			env.rtcpSent = append(env.rtcpSent, pkts)
			return nil
		},
		Config: config,
	})
	return env
}

func (env *testEnv) configure(t *testing.T, sources []uint32, target uint32) {
	require.NoError(t, env.engine.Configure(ConfigureParams{
		SourceSSRCs: sources,
		TargetSSRC:  target,
	}))
}

func readUint16(t *testing.T, buf []byte) uint16 {
	require.GreaterOrEqual(t, len(buf), 2)
	return uint16(buf[0])<<8 | uint16(buf[1])
}

// rewrite pushes one plain media packet through the engine and requires
// success.
func (env *testEnv) rewrite(t *testing.T, ssrc uint32, sn uint16, ts uint32) *rtp.Packet {
	out, err := env.engine.TransformRTP(testutils.GetTestPacket(&testutils.TestPacketParams{
		SSRC:           ssrc,
		SequenceNumber: sn,
		Timestamp:      ts,
	}))
	require.NoError(t, err)
	require.NotNil(t, out)
	return out
}
