package pipeline

import (
	"testing"

	"github.com/partyaudio/partyaudio/internal/audio"
	"github.com/stretchr/testify/require"
)

func TestSwitchPassesThroughWhenEnabled(t *testing.T) {
	sw := NewSwitch[int16](true)
	in := audio.NewAudioBuffer[int16](4, 2, 48000)
	in.Data[0] = 42

	out, ok := sw.Process(in)
	require.True(t, ok)
	require.Equal(t, int16(42), out.Data[0])
}

func TestSwitchBlocksWhenDisabled(t *testing.T) {
	sw := NewSwitch[int16](false)
	in := audio.NewAudioBuffer[int16](4, 2, 48000)

	_, ok := sw.Process(in)
	require.False(t, ok)
}

func TestSwitchSetEnabledTakesEffectImmediately(t *testing.T) {
	sw := NewSwitch[int16](false)
	sw.SetEnabled(true)
	require.True(t, sw.Enabled())

	_, ok := sw.Process(audio.NewAudioBuffer[int16](4, 2, 48000))
	require.True(t, ok)
}
