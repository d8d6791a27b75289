package pipeline

import (
	"math"
	"sync/atomic"

	"github.com/partyaudio/partyaudio/internal/audio"
)

// Gain multiplies every sample by a runtime-adjustable factor, working in
// normalized float space so unsigned sample types are scaled around their
// true zero rather than their raw numeric center.
type Gain[S audio.Sample] struct {
	factor atomic.Uint64 // float64 bits
}

// NewGain creates a Gain node with the given initial multiplier.
func NewGain[S audio.Sample](factor float64) *Gain[S] {
	g := &Gain[S]{}
	g.Set(factor)
	return g
}

// Set updates the multiplier; safe to call concurrently with Process.
func (g *Gain[S]) Set(factor float64) {
	g.factor.Store(math.Float64bits(factor))
}

// Factor returns the current multiplier.
func (g *Gain[S]) Factor() float64 {
	return math.Float64frombits(g.factor.Load())
}

func (g *Gain[S]) Process(input audio.AudioBuffer[S]) (audio.AudioBuffer[S], bool) {
	factor := g.Factor()
	out := make([]S, len(input.Data))
	for i, s := range input.Data {
		out[i] = audio.FromNormalized[S](audio.ToNormalized(s) * factor)
	}
	return audio.AudioBuffer[S]{Data: out, Channels: input.Channels, SampleRate: input.SampleRate}, true
}
