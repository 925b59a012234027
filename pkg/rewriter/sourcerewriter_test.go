package rewriter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/ssrc-rewriter/pkg/rewriter/testutils"
)

func setupSmallArchiveGroup(t *testing.T) *testEnv {
	config := DefaultConfig()
	config.ArchivePacketBudget = 8

	env := newTestEnvWithConfig(config)
	env.configure(t, []uint32{100, 200}, 500)
	env.clock.SetMapping(100, testutils.ClockMapping{RTPBase: 10000, WallClockBase: 0, ClockRate: 90000})
	env.clock.SetMapping(200, testutils.ClockMapping{RTPBase: 400000, WallClockBase: 0, ClockRate: 90000})
	return env
}

func TestSourcePauseIdempotent(t *testing.T) {
	env := setupTwoSourceGroup(t)

	for i := uint16(0); i < 6; i++ {
		env.rewrite(t, 100, 1000+i, 10000+3000*uint32(i))
	}

	src := env.engine.sourceRewriterFor(100)
	require.NotNil(t, src)
	require.Equal(t, uint64(6), src.pause())
	require.True(t, src.isPaused())
	require.Equal(t, uint64(0), src.pause())
}

func TestSourceArchiveEviction(t *testing.T) {
	env := setupSmallArchiveGroup(t)

	// first interval of source 100: 6 packets
	for i := uint16(0); i < 6; i++ {
		env.rewrite(t, 100, 1000+i, 10000+3000*uint32(i))
	}
	env.rewrite(t, 200, 2000, 405000) // closes {1000..1005}

	// second interval of source 100: 6 more packets
	for i := uint16(0); i < 6; i++ {
		env.rewrite(t, 100, 1050+i, 160000+3000*uint32(i))
	}
	env.rewrite(t, 200, 2100, 435000) // closing {1050..1055} exceeds the budget

	src := env.engine.sourceRewriterFor(100)
	require.Equal(t, 1, src.archive.Len())
	require.Equal(t, uint64(6), src.archivedCount)

	// retransmission into the evicted interval is gone
	pkt := testutils.GetTestPacket(&testutils.TestPacketParams{
		SSRC:           100,
		SequenceNumber: 1003,
		Timestamp:      19000,
	})
	out, err := env.engine.TransformRTP(pkt)
	require.ErrorIs(t, err, errNoCoveringInterval)
	require.Nil(t, out)

	// the surviving interval still resolves with its offset
	out = env.rewrite(t, 100, 1052, 166000)
	require.Equal(t, uint16(1009), out.SequenceNumber)
}

func TestSourceRetransmissionGapDropped(t *testing.T) {
	env := setupSmallArchiveGroup(t)

	for i := uint16(0); i < 6; i++ {
		env.rewrite(t, 100, 1000+i, 10000+3000*uint32(i))
	}
	env.rewrite(t, 200, 2000, 405000)
	for i := uint16(0); i < 6; i++ {
		env.rewrite(t, 100, 1050+i, 160000+3000*uint32(i))
	}
	env.rewrite(t, 200, 2100, 435000)

	// falls between the source's archived intervals, never mapped
	pkt := testutils.GetTestPacket(&testutils.TestPacketParams{
		SSRC:           100,
		SequenceNumber: 1020,
		Timestamp:      100000,
	})
	out, err := env.engine.TransformRTP(pkt)
	require.ErrorIs(t, err, errNoCoveringInterval)
	require.Nil(t, out)
}

func TestSourceTranslateSequence(t *testing.T) {
	env := setupTwoSourceGroup(t)

	for i := uint16(0); i < 6; i++ {
		env.rewrite(t, 100, 1000+i, 10000+3000*uint32(i))
	}
	env.rewrite(t, 200, 2000, 405000)
	env.rewrite(t, 100, 1050, 160000)

	src := env.engine.sourceRewriterFor(100)

	// open interval
	target, ok := src.translateSequence(1050)
	require.True(t, ok)
	require.Equal(t, uint64(1007), target)

	// archived interval
	target, ok = src.translateSequence(1002)
	require.True(t, ok)
	require.Equal(t, uint64(1002), target)

	// unmapped
	_, ok = src.translateSequence(1020)
	require.False(t, ok)
}
