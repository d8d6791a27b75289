package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRoundTripFloat(t *testing.T) {
	for _, v := range []float64{-1, -0.5, 0, 0.25, 1} {
		got := ToNormalized(FromNormalized[float64](v))
		assert.InDelta(t, v, got, 1e-9)
	}
}

func TestNormalizeRoundTripInt16(t *testing.T) {
	for _, v := range []int16{-32768, -100, 0, 100, 32767} {
		n := ToNormalized(v)
		back := FromNormalized[int16](n)
		assert.InDelta(t, int(v), int(back), 1)
	}
}

func TestSilenceIsZero(t *testing.T) {
	assert.Equal(t, int16(0), Silence[int16]())
	assert.Equal(t, float32(0), Silence[float32]())
}

func TestFromI64MixedNoSources(t *testing.T) {
	assert.Equal(t, int16(0), FromI64Mixed[int16](0, 0))
}

func TestFromI64MixedAverages(t *testing.T) {
	a := NormalizedMilli(int16(16384))
	b := NormalizedMilli(int16(-16384))
	mixed := FromI64Mixed[int16](a+b, 2)
	assert.InDelta(t, 0, int(mixed), 1)
}
