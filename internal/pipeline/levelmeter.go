package pipeline

import (
	"math"
	"sync/atomic"

	"github.com/partyaudio/partyaudio/internal/audio"
)

// levelMeterUpdateInterval is how many Process calls pass between RMS recomputations;
// the level value itself is read far more often than it needs to change.
const levelMeterUpdateInterval = 32

// LevelMeter passes audio through unchanged while publishing an RMS-derived
// loudness reading (0-100) to an atomic cell every levelMeterUpdateInterval
// frames, the rate the spec's UI consumer polls at.
type LevelMeter[S audio.Sample] struct {
	level   *atomic.Uint32
	counter atomic.Uint32
}

// NewLevelMeter builds a LevelMeter that publishes into level.
func NewLevelMeter[S audio.Sample](level *atomic.Uint32) *LevelMeter[S] {
	return &LevelMeter[S]{level: level}
}

// CalculateRMSLevel returns the RMS loudness of samples as an integer
// percentage in [0, 100].
func CalculateRMSLevel[S audio.Sample](samples []S) uint32 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		v := audio.ToNormalized(s)
		sumSq += v * v
	}
	rms := math.Sqrt(sumSq / float64(len(samples)))
	level := rms * 100.0
	if level > 100.0 {
		level = 100.0
	}
	return uint32(level)
}

func (m *LevelMeter[S]) Process(input audio.AudioBuffer[S]) (audio.AudioBuffer[S], bool) {
	count := m.counter.Add(1) - 1
	if count%levelMeterUpdateInterval == 0 {
		m.level.Store(CalculateRMSLevel(input.Data))
	}
	return input, true
}
