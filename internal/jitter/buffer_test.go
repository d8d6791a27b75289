package jitter

import (
	"testing"

	"github.com/partyaudio/partyaudio/internal/audio"
	"github.com/stretchr/testify/require"
)

const frameSamples = 1920 // 48kHz stereo, 20ms

func pushFrame(t *testing.T, b *Buffer[int16], seq uint64) {
	t.Helper()
	buf := audio.NewAudioBuffer[int16](frameSamples, 2, 48000)
	for i := range buf.Data {
		buf.Data[i] = int16(seq)
	}
	b.Push(audio.NewAudioFrame(buf, seq, seq*20000))
}

func TestScenario1InOrderNoLoss(t *testing.T) {
	b := New[int16](frameSamples, 2, 48000)
	for seq := uint64(1); seq <= 10; seq++ {
		pushFrame(t, b, seq)
	}
	require.LessOrEqual(t, b.ReadSeq(), b.WriteSeq()+1)
	require.LessOrEqual(t, int64(b.WriteSeq()-b.ReadSeq()), b.Stats.TargetLatency())

	for i := 0; i < 10; i++ {
		out, ok := b.Pull(frameSamples)
		require.True(t, ok)
		require.Len(t, out, frameSamples)
	}
}

func TestScenario2OutOfOrderArrival(t *testing.T) {
	b := New[int16](frameSamples, 2, 48000)
	pushFrame(t, b, 1)
	pushFrame(t, b, 3)
	pushFrame(t, b, 2)

	for _, want := range []uint64{1, 2, 3} {
		out, ok := b.Pull(frameSamples)
		require.True(t, ok)
		require.Len(t, out, frameSamples)
		require.Equal(t, int16(want), out[0])
	}
}

func TestScenario3GapHoldsBack(t *testing.T) {
	b := New[int16](frameSamples, 2, 48000)
	pushFrame(t, b, 1)

	out, ok := b.Pull(frameSamples)
	require.True(t, ok)
	require.Equal(t, int16(1), out[0])

	readBefore := b.ReadSeq()
	out2, ok := b.Pull(frameSamples)
	require.True(t, ok)
	require.Len(t, out2, frameSamples)
	for _, v := range out2 {
		require.Equal(t, int16(0), v)
	}
	require.Equal(t, readBefore, b.ReadSeq())
}

func TestScenario4LargeSequenceJump(t *testing.T) {
	b := New[int16](frameSamples, 2, 48000)
	pushFrame(t, b, 1)
	pushFrame(t, b, 100)

	require.GreaterOrEqual(t, b.ReadSeq(), uint64(100)-uint64(b.Stats.TargetLatency()))
}

func TestScenario5HostRestartDetection(t *testing.T) {
	b := New[int16](frameSamples, 2, 48000)
	for seq := uint64(200); seq < 250; seq++ {
		pushFrame(t, b, seq)
	}
	require.Greater(t, b.ReadSeq(), uint64(10))

	for i := 0; i < ResetThresholdCount; i++ {
		seq := uint64(1 + i%10)
		pushFrame(t, b, seq)
	}

	require.LessOrEqual(t, b.ReadSeq(), uint64(10))
}

func TestPullWithoutAnyPacketReturnsFalse(t *testing.T) {
	b := New[int16](frameSamples, 2, 48000)
	_, ok := b.Pull(frameSamples)
	require.False(t, ok)
}

func TestLossRateAndTargetLatencyBounds(t *testing.T) {
	b := New[int16](frameSamples, 2, 48000)
	pushFrame(t, b, 1)
	for i := 0; i < 200; i++ {
		b.Pull(frameSamples)
	}
	require.GreaterOrEqual(t, b.Stats.LossRate(), 0.0)
	require.LessOrEqual(t, b.Stats.LossRate(), 1.0)
	require.GreaterOrEqual(t, b.Stats.TargetLatency(), int64(MinTargetLatency))
	require.LessOrEqual(t, b.Stats.TargetLatency(), int64(MaxTargetLatency))
}
