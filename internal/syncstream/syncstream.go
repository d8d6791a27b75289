// Package syncstream implements the synchronized stream scheduler: frames
// are held until the party clock reaches their play_at timestamp, then
// emitted sample-exact.
package syncstream

import (
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/partyaudio/partyaudio/internal/audio"
	"github.com/partyaudio/partyaudio/internal/mixer"
	"github.com/partyaudio/partyaudio/internal/wire"
)

// BufferCapacity bounds per-entry frame storage (spec.md §4.4).
const BufferCapacity = 512

// Timeout reaps an entry with no activity for this long.
const Timeout = 30 * time.Second

// PartyClock is the minimal capability the scheduler needs from
// internal/partyclock.
type PartyClock interface {
	PartyNow() uint64
}

type decodedFrame[S audio.Sample] struct {
	playAtUs   uint64
	durationUs uint64
	samples    []S
}

// Progress reports one stream's playback state, a feature supplemented
// from the original source's SyncedStreamProgress (see SPEC_FULL.md).
type Progress struct {
	StreamID      uint64
	FramesPlayed  uint64
	TotalFrames   uint64
	FramesHeld    int
	BufferAheadMs int64 // not computed by ActiveStreams; always zero
}

type streamEntry[S audio.Sample] struct {
	mu           sync.Mutex
	decoder      *audio.Decoder
	frames       *lru.Cache[uint64, decodedFrame[S]]
	readSeq      uint64
	lastSeen     time.Time
	meta         *wire.SyncedStreamMeta
	framesPlayed uint64
}

// Scheduler is a map of BufferKey → entry with hold-until-play_at
// semantics, distinct from the realtime mix engine's emit-on-receipt
// semantics.
type Scheduler[S audio.Sample] struct {
	mu         sync.RWMutex
	entries    map[mixer.BufferKey]*streamEntry[S]
	clock      PartyClock
	channels   int
	sampleRate int
}

// New creates an empty synced-stream scheduler.
func New[S audio.Sample](clock PartyClock, channels, sampleRate int) *Scheduler[S] {
	return &Scheduler[S]{
		entries:    make(map[mixer.BufferKey]*streamEntry[S]),
		clock:      clock,
		channels:   channels,
		sampleRate: sampleRate,
	}
}

func (s *Scheduler[S]) getOrCreate(key mixer.BufferKey) (*streamEntry[S], error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e, nil
	}
	dec, err := audio.NewDecoder(s.sampleRate, s.channels)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[uint64, decodedFrame[S]](BufferCapacity)
	if err != nil {
		return nil, err
	}
	e = &streamEntry[S]{decoder: dec, frames: cache, lastSeen: time.Now()}
	s.entries[key] = e
	return e, nil
}

// ReceiveMeta records a synced stream's metadata (file name, total
// frames/samples) before its audio frames arrive.
func (s *Scheduler[S]) ReceiveMeta(src net.Addr, streamID uint64, meta *wire.SyncedStreamMeta) {
	key := mixer.BufferKey{SourceAddr: src.String(), StreamID: streamID}
	e, err := s.getOrCreate(key)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.meta = meta
	e.lastSeen = time.Now()
	e.mu.Unlock()
}

// Receive decodes and holds a SyncedFrame until PullAndMix's play_at
// comparison releases it.
func (s *Scheduler[S]) Receive(src net.Addr, frame *wire.SyncedFrame) {
	key := mixer.BufferKey{SourceAddr: src.String(), StreamID: frame.StreamID}
	e, err := s.getOrCreate(key)
	if err != nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSeen = time.Now()

	if frame.SequenceNumber < e.readSeq {
		return
	}

	pcm, err := e.decoder.Decode(frame.OpusBytes, 5760) // 120ms @48kHz, the longest Opus packet
	if err != nil {
		return
	}
	samplesPerChannel := len(pcm) / s.channels
	durationUs := uint64(samplesPerChannel) * 1_000_000 / uint64(s.sampleRate)

	samples := make([]S, len(pcm))
	for i, v := range pcm {
		samples[i] = audio.FromNormalized[S](audio.ToNormalized(v))
	}

	e.frames.Add(frame.SequenceNumber, decodedFrame[S]{
		playAtUs:   frame.PlayAtPartyUs,
		durationUs: durationUs,
		samples:    samples,
	})
}

// HandleControl applies a Start/Pause control message (used for
// bookkeeping; the actual seek/pause logic lives in the music sender that
// owns the stream — the scheduler only needs to know playback resumed at
// a particular sequence/time after a seek so frames older than it are
// correctly treated as already-past).
func (s *Scheduler[S]) HandleControl(src net.Addr, c *wire.SyncedControl) {
	if c.Kind != wire.ControlStart {
		return
	}
	key := mixer.BufferKey{SourceAddr: src.String(), StreamID: c.StreamID}
	e, err := s.getOrCreate(key)
	if err != nil {
		return
	}
	e.mu.Lock()
	if c.Seq > e.readSeq {
		e.readSeq = c.Seq
	}
	e.lastSeen = time.Now()
	e.mu.Unlock()
}

// PullAndMix returns length mixed samples from every active stream whose
// held frames straddle or precede party_now.
func (s *Scheduler[S]) PullAndMix(length int) (audio.AudioBuffer[S], bool) {
	now := s.clock.PartyNow()
	usPerSample := 1_000_000.0 / float64(s.sampleRate)

	s.mu.RLock()
	entries := make([]*streamEntry[S], 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var contributions [][]S
	for _, e := range entries {
		e.mu.Lock()
		local := s.pullOneEntry(e, now, usPerSample, length)
		e.mu.Unlock()
		if local != nil {
			contributions = append(contributions, local)
		}
	}

	if len(contributions) == 0 {
		return audio.AudioBuffer[S]{}, false
	}
	mixed := make([]S, length)
	for i := 0; i < length; i++ {
		var sum int64
		n := 0
		for _, c := range contributions {
			if i < len(c) {
				sum += audio.NormalizedMilli(c[i])
				n++
			}
		}
		mixed[i] = audio.FromI64Mixed[S](sum, n)
	}
	return audio.AudioBuffer[S]{Data: mixed, Channels: s.channels, SampleRate: s.sampleRate}, true
}

func (s *Scheduler[S]) pullOneEntry(e *streamEntry[S], now uint64, usPerSample float64, length int) []S {
	out := make([]S, 0, length)

	for len(out) < length {
		frame, ok := e.frames.Get(e.readSeq)
		if !ok {
			break // frame not present: stop (spec.md §4.4)
		}

		frameEnd := frame.playAtUs + frame.durationUs
		switch {
		case frameEnd <= now:
			// Entirely in the past: discard.
			e.frames.Remove(e.readSeq)
			e.readSeq++
			e.framesPlayed++
			continue
		case frame.playAtUs > now:
			// Not yet time: stop.
			return padOrNil(out, length)
		default:
			offsetSamples := int(float64(now-frame.playAtUs) / usPerSample)
			if offsetSamples < 0 {
				offsetSamples = 0
			}
			if offsetSamples > len(frame.samples) {
				offsetSamples = len(frame.samples)
			}
			remaining := frame.samples[offsetSamples:]
			need := length - len(out)
			take := need
			if take > len(remaining) {
				take = len(remaining)
			}
			out = append(out, remaining[:take]...)
			if take == len(remaining) {
				e.frames.Remove(e.readSeq)
				e.readSeq++
				e.framesPlayed++
				continue
			}
			return padOrNil(out, length)
		}
	}
	return padOrNil(out, length)
}

func padOrNil[S audio.Sample](out []S, length int) []S {
	if len(out) == 0 {
		return nil
	}
	for len(out) < length {
		out = append(out, audio.Silence[S]())
	}
	return out
}

// CleanupStale removes entries that finished playback or went silent.
func (s *Scheduler[S]) CleanupStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		e.mu.Lock()
		done := e.meta != nil && e.framesPlayed >= e.meta.TotalFrames && e.frames.Len() == 0
		idle := time.Since(e.lastSeen) > Timeout
		e.mu.Unlock()
		if done || idle {
			delete(s.entries, key)
		}
	}
}

// AnotherStreamActive reports whether the scheduler has an entry (with or
// without held frames) for any stream other than ownStreamID, used by a
// music sender to detect a collision
// with a second sender and auto-stop (spec.md §4.5 step 5).
func (s *Scheduler[S]) AnotherStreamActive(ownStreamID uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key := range s.entries {
		if key.StreamID != ownStreamID {
			return true
		}
	}
	return false
}

// ActiveStreams reports progress for every held stream.
func (s *Scheduler[S]) ActiveStreams() []Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Progress, 0, len(s.entries))
	for key, e := range s.entries {
		e.mu.Lock()
		p := Progress{
			StreamID:     key.StreamID,
			FramesPlayed: e.framesPlayed,
			FramesHeld:   e.frames.Len(),
		}
		if e.meta != nil {
			p.TotalFrames = e.meta.TotalFrames
		}
		e.mu.Unlock()
		out = append(out, p)
	}
	return out
}
