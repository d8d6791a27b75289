package jitter

import (
	"math"

	"github.com/partyaudio/partyaudio/internal/audio"
	"gonum.org/v1/gonum/stat"
)

func float64Bits(f float64) uint64    { return math.Float64bits(f) }
func float64FromBits(b uint64) float64 { return math.Float64frombits(b) }

// rmsLevel computes a 0-100 RMS level for a chunk of normalized samples,
// using gonum/stat for the underlying statistics the way the teacher uses
// gonum for its own signal-level calculations (prometheus.go /
// noise-floor percentile math).
func rmsLevel[S audio.Sample](samples []S) int64 {
	if len(samples) == 0 {
		return 0
	}
	squares := make([]float64, len(samples))
	for i, s := range samples {
		n := audio.ToNormalized(s)
		squares[i] = n * n
	}
	meanSquare := stat.Mean(squares, nil)
	rms := math.Sqrt(meanSquare)
	level := int64(math.Round(rms * 100))
	if level > 100 {
		level = 100
	}
	if level < 0 {
		level = 0
	}
	return level
}
