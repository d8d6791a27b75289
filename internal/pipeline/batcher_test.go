package pipeline

import (
	"testing"

	"github.com/partyaudio/partyaudio/internal/audio"
	"github.com/stretchr/testify/require"
)

func TestAudioBatcherHoldsBackUntilMinimum(t *testing.T) {
	b := NewAudioBatcher[int16](20, 2, 48000) // 1920 samples at 20ms stereo 48kHz
	small := audio.NewAudioBuffer[int16](960, 2, 48000)

	_, ok := b.Process(small)
	require.False(t, ok, "half the batch size must not emit yet")
}

func TestAudioBatcherEmitsOnceMinimumReached(t *testing.T) {
	b := NewAudioBatcher[int16](20, 2, 48000)
	chunk := audio.NewAudioBuffer[int16](960, 2, 48000)
	for i := range chunk.Data {
		chunk.Data[i] = int16(i)
	}

	_, ok := b.Process(chunk)
	require.False(t, ok)

	out, ok := b.Process(chunk)
	require.True(t, ok)
	require.Len(t, out.Data, 1920)
}

func TestAudioBatcherCarriesRemainderForward(t *testing.T) {
	b := NewAudioBatcher[int16](20, 2, 48000)
	big := audio.NewAudioBuffer[int16](2880, 2, 48000) // 1.5x the batch size
	for i := range big.Data {
		big.Data[i] = int16(i)
	}

	out, ok := b.Process(big)
	require.True(t, ok)
	require.Len(t, out.Data, 1920)
	require.Equal(t, int16(0), out.Data[0])

	// The remaining 960 samples are carried forward; one more small push
	// should complete a second batch.
	small := audio.NewAudioBuffer[int16](960, 2, 48000)
	out2, ok := b.Process(small)
	require.True(t, ok)
	require.Len(t, out2.Data, 1920)
}
