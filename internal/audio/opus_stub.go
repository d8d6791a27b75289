//go:build !opus
// +build !opus

package audio

import "fmt"

// Stub build (no libopus at compile time). Mirrors teacher's
// opus_stub.go: a rebuild-with-tag message instead of silently no-op'ing,
// and errors instead of a PCM fallback since every wire packet in this
// protocol declares its payload as Opus bytes — there is no PCM passthrough
// path on the wire (unlike the teacher's own PCM/Opus dual-format stream).
const (
	OpusBitrate         = 128000
	OpusExpectedLossPct = 60
)

var ValidFrameDurationsMs = []float64{2.5, 5, 10, 20, 40, 60}

type Encoder struct{}

func NewEncoder(sampleRate, channels int) (*Encoder, error) {
	return nil, fmt.Errorf("opus support not compiled in: rebuild with -tags opus (requires libopus-dev)")
}

func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	return nil, fmt.Errorf("opus support not compiled in")
}

type Decoder struct{}

func NewDecoder(sampleRate, channels int) (*Decoder, error) {
	return nil, fmt.Errorf("opus support not compiled in: rebuild with -tags opus (requires libopus-dev)")
}

func (d *Decoder) Decode(packet []byte, maxSamplesPerChannel int) ([]int16, error) {
	return nil, fmt.Errorf("opus support not compiled in")
}

func Enabled() bool { return false }
