// Package mixer implements the realtime mix engine: fan-in of decoded PCM
// from every live (peer, stream) jitter buffer into one mixed output on
// pull.
package mixer

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/partyaudio/partyaudio/internal/audio"
	"github.com/partyaudio/partyaudio/internal/jitter"
	"github.com/partyaudio/partyaudio/internal/wire"
)

// ReapInterval is how stale (peer, stream) entries are considered dead.
const ReapInterval = 5 * time.Second

// BufferKey identifies one producer's stream: the full socket address (not
// just IP) distinguishes multiple senders on one host. StreamID is a
// uint64 so the same key type serves both realtime streams (Mic=0,
// System=1) and synced streams (process-unique u64 identifiers).
type BufferKey struct {
	SourceAddr string // net.Addr.String()
	StreamID   uint64
}

type entry[S audio.Sample] struct {
	mu      sync.Mutex
	decoder *audio.Decoder
	buffer  *jitter.Buffer[S]
}

// Engine owns one jitter buffer + Opus decoder per (peer, stream).
// Decoders are stateful and therefore never shared across keys (spec.md
// §9 "Decoder statefulness").
type Engine[S audio.Sample] struct {
	mu         sync.RWMutex
	entries    map[BufferKey]*entry[S]
	channels   int
	sampleRate int
	frameSize  int

	// OnDecodeFailure, if set, is called whenever an inbound Opus packet
	// fails to decode. Used by the caller to drive a metrics counter
	// without this package depending on Prometheus.
	OnDecodeFailure func()
}

// New creates an empty realtime mix engine. frameSize is the PCM sample
// count (channels * samples-per-channel) each decoded frame produces.
func New[S audio.Sample](channels, sampleRate, frameSize int) *Engine[S] {
	return &Engine[S]{
		entries:    make(map[BufferKey]*entry[S]),
		channels:   channels,
		sampleRate: sampleRate,
		frameSize:  frameSize,
	}
}

func (e *Engine[S]) getOrCreate(key BufferKey) (*entry[S], error) {
	e.mu.RLock()
	en, ok := e.entries[key]
	e.mu.RUnlock()
	if ok {
		return en, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if en, ok := e.entries[key]; ok {
		return en, nil
	}
	dec, err := audio.NewDecoder(e.sampleRate, e.channels)
	if err != nil {
		return nil, err
	}
	en = &entry[S]{
		decoder: dec,
		buffer:  jitter.New[S](e.frameSize, e.channels, e.sampleRate),
	}
	e.entries[key] = en
	return en, nil
}

// Receive decodes an inbound RealtimeFrame and pushes it into the owning
// peer's jitter buffer.
func (e *Engine[S]) Receive(src net.Addr, frame *wire.RealtimeFrame) {
	key := BufferKey{SourceAddr: src.String(), StreamID: uint64(frame.StreamID)}
	en, err := e.getOrCreate(key)
	if err != nil {
		log.Printf("ERROR: realtime engine: decoder init for %v: %v", key, err)
		return
	}

	en.mu.Lock()
	samplesPerChannel := int(frame.FrameSize) / e.channels
	pcm, err := en.decoder.Decode(frame.OpusBytes, samplesPerChannel)
	en.mu.Unlock()
	if err != nil {
		log.Printf("WARN: realtime engine: opus decode failed for %v seq %d: %v", key, frame.SequenceNumber, err)
		if e.OnDecodeFailure != nil {
			e.OnDecodeFailure()
		}
		return
	}

	buf := audio.AudioBuffer[S]{Data: int16ToSample[S](pcm), Channels: e.channels, SampleRate: e.sampleRate}
	en.buffer.Push(audio.NewAudioFrame(buf, frame.SequenceNumber, frame.TimestampUs))
}

func int16ToSample[S audio.Sample](pcm []int16) []S {
	out := make([]S, len(pcm))
	for i, v := range pcm {
		out[i] = audio.FromNormalized[S](audio.ToNormalized(v))
	}
	return out
}

// Pull mixes len samples from every live buffer. Returns (nil, false) if
// no buffer produced any contribution.
func (e *Engine[S]) Pull(length int) (audio.AudioBuffer[S], bool) {
	e.mu.RLock()
	entries := make([]*entry[S], 0, len(e.entries))
	for _, en := range e.entries {
		entries = append(entries, en)
	}
	e.mu.RUnlock()

	var contributions [][]S
	for _, en := range entries {
		en.mu.Lock()
		out, ok := en.buffer.Pull(length)
		en.mu.Unlock()
		if ok {
			contributions = append(contributions, out)
		}
	}

	if len(contributions) == 0 {
		return audio.AudioBuffer[S]{}, false
	}
	if len(contributions) == 1 {
		return audio.AudioBuffer[S]{Data: contributions[0], Channels: e.channels, SampleRate: e.sampleRate}, true
	}

	mixed := make([]S, length)
	for i := 0; i < length; i++ {
		var sum int64
		for _, c := range contributions {
			if i < len(c) {
				sum += audio.NormalizedMilli(c[i])
			}
		}
		mixed[i] = audio.FromI64Mixed[S](sum, len(contributions))
	}
	return audio.AudioBuffer[S]{Data: mixed, Channels: e.channels, SampleRate: e.sampleRate}, true
}

// Reap removes entries idle longer than ReapInterval.
func (e *Engine[S]) Reap() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, en := range e.entries {
		if en.buffer.Idle(ReapInterval) {
			delete(e.entries, key)
		}
	}
}

// ActiveCount reports how many (peer, stream) buffers are live.
func (e *Engine[S]) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}

// Stats returns the jitter-buffer statistics for every live (peer, stream),
// a supplemented accessor for the status websocket and Prometheus gauges
// (spec.md §4.2 "Statistics").
func (e *Engine[S]) Stats() map[BufferKey]*jitter.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[BufferKey]*jitter.Stats, len(e.entries))
	for key, en := range e.entries {
		out[key] = en.buffer.Stats
	}
	return out
}
