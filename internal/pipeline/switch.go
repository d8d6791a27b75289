package pipeline

import (
	"sync/atomic"

	"github.com/partyaudio/partyaudio/internal/audio"
)

// Switch conditionally passes or blocks audio based on an atomic flag.
// When disabled, downstream gets no data at all, not even silence: Pull
// returns false and Push drops the input rather than forwarding it.
type Switch[S audio.Sample] struct {
	enabled atomic.Bool
}

// NewSwitch builds a Switch starting in the given state.
func NewSwitch[S audio.Sample](enabled bool) *Switch[S] {
	sw := &Switch[S]{}
	sw.SetEnabled(enabled)
	return sw
}

// SetEnabled flips the gate; safe to call concurrently with Process.
func (sw *Switch[S]) SetEnabled(enabled bool) {
	sw.enabled.Store(enabled)
}

// Enabled reports the current gate state.
func (sw *Switch[S]) Enabled() bool {
	return sw.enabled.Load()
}

func (sw *Switch[S]) Process(input audio.AudioBuffer[S]) (audio.AudioBuffer[S], bool) {
	if !sw.enabled.Load() {
		return audio.AudioBuffer[S]{}, false
	}
	return input, true
}
