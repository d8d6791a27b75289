// Package audio defines the sample/buffer/frame data model shared by every
// real-time and synced-stream component.
package audio

import "math"

// Sample is the set of numeric types a PCM buffer can be made of. Unlike the
// original Rust trait, CHANNELS and SAMPLE_RATE are not part of this
// constraint: they live as runtime fields on AudioBuffer/AudioFrame instead
// of compile-time parameters, per spec's explicit allowance for a
// reimplementation that lacks const generics.
type Sample interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Silence returns the zero/silent value for S. Every Sample type's silence
// value is its numeric zero.
func Silence[S Sample]() S {
	return S(0)
}

// ToNormalized converts a sample to a float64 in [-1.0, 1.0].
func ToNormalized[S Sample](s S) float64 {
	switch v := any(s).(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	case int8:
		return float64(v) / 128.0
	case int16:
		return float64(v) / 32768.0
	case int32:
		return float64(v) / 2147483648.0
	case int64:
		return float64(v) / 9223372036854775808.0
	case uint8:
		return (float64(v) - 128.0) / 128.0
	case uint16:
		return (float64(v) - 32768.0) / 32768.0
	case uint32:
		return (float64(v) - 2147483648.0) / 2147483648.0
	case uint64:
		return (float64(v) - 9223372036854775808.0) / 9223372036854775808.0
	default:
		return 0
	}
}

// FromNormalized converts a float64 in [-1.0, 1.0] back to S, clamping and
// rounding for integer types.
func FromNormalized[S Sample](f float64) S {
	if f > 1.0 {
		f = 1.0
	} else if f < -1.0 {
		f = -1.0
	}
	var zero S
	switch any(zero).(type) {
	case float32:
		return any(float32(f)).(S)
	case float64:
		return any(f).(S)
	case int8:
		return any(int8(clampRound(f*128.0, -128, 127))).(S)
	case int16:
		return any(int16(clampRound(f*32768.0, -32768, 32767))).(S)
	case int32:
		return any(int32(clampRound(f*2147483648.0, -2147483648, 2147483647))).(S)
	case int64:
		return any(int64(clampRound(f*9223372036854775808.0, -9223372036854775808, 9223372036854775807))).(S)
	case uint8:
		return any(uint8(clampRound(f*128.0+128.0, 0, 255))).(S)
	case uint16:
		return any(uint16(clampRound(f*32768.0+32768.0, 0, 65535))).(S)
	case uint32:
		return any(uint32(clampRound(f*2147483648.0+2147483648.0, 0, 4294967295))).(S)
	case uint64:
		return any(uint64(clampRound(f*9223372036854775808.0+9223372036854775808.0, 0, math.MaxUint64))).(S)
	default:
		return zero
	}
}

func clampRound(v, lo, hi float64) float64 {
	r := math.Round(v)
	if r < lo {
		return lo
	}
	if r > hi {
		return hi
	}
	return r
}

// FromI64Mixed combines n contributions already summed into a wide signed
// accumulator back into a single sample. n must be the number of sources
// that contributed to sum (0 contributors returns silence).
//
// The accumulator is built in normalized-float space rather than raw
// integer space: normalizing each contribution before summing keeps signed
// and unsigned sample types, and types of differing width, comparable
// without overflow, at the cost of an extra float round-trip per mixed
// sample.
func FromI64Mixed[S Sample](sumNormalizedMilli int64, n int) S {
	if n == 0 {
		return Silence[S]()
	}
	avg := float64(sumNormalizedMilli) / 1_000_000.0 / float64(n)
	return FromNormalized[S](avg)
}

// NormalizedMilli converts a sample into the fixed-point units FromI64Mixed
// expects to sum (normalized value scaled by 1e6, so a wide int64
// accumulator can sum thousands of sources without floating point drift).
func NormalizedMilli[S Sample](s S) int64 {
	return int64(math.Round(ToNormalized(s) * 1_000_000.0))
}
