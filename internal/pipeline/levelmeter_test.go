package pipeline

import (
	"sync/atomic"
	"testing"

	"github.com/partyaudio/partyaudio/internal/audio"
	"github.com/stretchr/testify/require"
)

func TestCalculateRMSLevelSilenceIsZero(t *testing.T) {
	samples := make([]int16, 960)
	require.Equal(t, uint32(0), CalculateRMSLevel(samples))
}

func TestCalculateRMSLevelFullScaleIsCapped(t *testing.T) {
	samples := make([]int16, 960)
	for i := range samples {
		samples[i] = 32767
	}
	require.LessOrEqual(t, CalculateRMSLevel(samples), uint32(100))
	require.Greater(t, CalculateRMSLevel(samples), uint32(90))
}

func TestLevelMeterPassesThroughAndPublishes(t *testing.T) {
	var level atomic.Uint32
	m := NewLevelMeter[int16](&level)

	buf := audio.NewAudioBuffer[int16](960, 2, 48000)
	for i := range buf.Data {
		buf.Data[i] = 32767
	}

	out, ok := m.Process(buf)
	require.True(t, ok)
	require.Equal(t, buf.Data, out.Data)
	require.Greater(t, level.Load(), uint32(0))
}
