package pipeline

import (
	"sync"

	"github.com/partyaudio/partyaudio/internal/audio"
)

// AudioBatcher concatenates small input buffers until minMs worth of audio
// has accumulated, then emits one larger buffer. Used to size network
// packets to valid Opus frame durations instead of the capture device's
// native callback size.
type AudioBatcher[S audio.Sample] struct {
	mu         sync.Mutex
	buf        []S
	minSamples int
	channels   int
	sampleRate int
}

// NewAudioBatcher builds a batcher that emits once minMs worth of audio
// (at channels/sampleRate) has accumulated.
func NewAudioBatcher[S audio.Sample](minMs, channels, sampleRate int) *AudioBatcher[S] {
	minSamples := sampleRate * channels * minMs / 1000
	return &AudioBatcher[S]{
		buf:        make([]S, 0, minSamples*2),
		minSamples: minSamples,
		channels:   channels,
		sampleRate: sampleRate,
	}
}

func (b *AudioBatcher[S]) Process(input audio.AudioBuffer[S]) (audio.AudioBuffer[S], bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, input.Data...)
	if len(b.buf) < b.minSamples {
		return audio.AudioBuffer[S]{}, false
	}

	out := make([]S, b.minSamples)
	copy(out, b.buf[:b.minSamples])
	remaining := len(b.buf) - b.minSamples
	copy(b.buf, b.buf[b.minSamples:])
	b.buf = b.buf[:remaining]

	return audio.AudioBuffer[S]{Data: out, Channels: b.channels, SampleRate: b.sampleRate}, true
}
