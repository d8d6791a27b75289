//go:build opus
// +build opus

package audio

import (
	"fmt"
	"log"

	opus "gopkg.in/hraban/opus.v2"
)

// Opus parameters fixed by spec.md §6: 48kHz, stereo-or-mono, LowDelay
// application, 128kbps, in-band FEC on, 60% expected-loss hint.
const (
	OpusBitrate         = 128000
	OpusExpectedLossPct = 60
)

// ValidFrameDurationsMs are the only frame durations the batcher may round
// a captured chunk to, at 48kHz.
var ValidFrameDurationsMs = []float64{2.5, 5, 10, 20, 40, 60}

// Encoder wraps gopkg.in/hraban/opus.v2 for encoding PCM to Opus with the
// spec's fixed parameters. The codec itself is an out-of-scope external
// collaborator (spec.md §1); this wrapper only configures and drives it the
// way the jitter buffer and mix engine expect.
type Encoder struct {
	enc      *opus.Encoder
	channels int
}

// NewEncoder builds an Opus encoder at sampleRate/channels with the fixed
// LowDelay/128kbps/FEC-on/60%-loss configuration.
func NewEncoder(sampleRate, channels int) (*Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppRestrictedLowdelay)
	if err != nil {
		return nil, fmt.Errorf("opus encoder init: %w", err)
	}
	if err := enc.SetBitrate(OpusBitrate); err != nil {
		log.Printf("WARN: opus SetBitrate failed: %v", err)
	}
	if err := enc.SetInBandFEC(true); err != nil {
		log.Printf("WARN: opus SetInBandFEC failed: %v", err)
	}
	if err := enc.SetPacketLossPerc(OpusExpectedLossPct); err != nil {
		log.Printf("WARN: opus SetPacketLossPerc failed: %v", err)
	}
	return &Encoder{enc: enc, channels: channels}, nil
}

// Encode encodes one frame of interleaved int16 PCM to an Opus packet.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, 4000)
	n, err := e.enc.Encode(pcm, out)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return out[:n], nil
}

// Decoder wraps gopkg.in/hraban/opus.v2 for decoding. Decoders are
// per-(peer,stream) stateful and must never be shared (spec.md §9
// "Decoder statefulness").
type Decoder struct {
	dec      *opus.Decoder
	channels int
}

// NewDecoder builds a decoder matched to the encoder's sample rate/channels.
func NewDecoder(sampleRate, channels int) (*Decoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder init: %w", err)
	}
	return &Decoder{dec: dec, channels: channels}, nil
}

// Decode decodes an Opus packet into interleaved int16 PCM sized for
// maxSamplesPerChannel. A nil packet requests packet-loss concealment
// (PLC), synthesizing a plausible frame for a dropped packet.
func (d *Decoder) Decode(packet []byte, maxSamplesPerChannel int) ([]int16, error) {
	out := make([]int16, maxSamplesPerChannel*d.channels)
	n, err := d.dec.Decode(packet, out)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return out[:n*d.channels], nil
}

// Enabled reports whether this build was compiled with real Opus support.
func Enabled() bool { return true }
