// Package jitter implements the adaptive jitter buffer: one instance per
// (peer, stream), reordering and pacing Opus-decoded audio frames under
// loss and clock drift.
package jitter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/partyaudio/partyaudio/internal/audio"
)

// Tuning constants, carried over verbatim from the reference jitter
// buffer (original_source/src/audio/buffers/jitter_buffer.rs).
const (
	Capacity               = 64
	EMAAlpha               = 0.01
	ResetThresholdDiff     = 100
	ResetThresholdCount    = 50
	DefaultTargetLatency   = 3
	MinTargetLatency       = 1
	MaxTargetLatency       = 25
	LatencyWindowSize      = 50
	HighMinLatencyThresh   = 5
	HighLossThreshold      = 0.05
	LowLossThreshold       = 0.02
	SnapshotWindowSize     = 200
	IdleTimeout            = 5 * time.Second
)

type slot[S audio.Sample] struct {
	mu        sync.Mutex
	hasData   bool
	storedSeq uint64
	frame     audio.AudioFrame[S]
}

// PullSnapshot records the buffer's shape at one pull, for UI
// visualization (spec.md §4.2 "Statistics").
type PullSnapshot struct {
	WriteSeq   uint64
	ReadSeq    uint64
	SlotStatus []bool
}

// PartialFrameState holds leftover samples and the sequence they came
// from, carried across pulls since frames decode to a fixed count but
// callers request an arbitrary length.
type PartialFrameState[S audio.Sample] struct {
	mu      sync.Mutex
	samples []S
	offset  int
	seq     uint64
}

func (p *PartialFrameState[S]) remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.samples) - p.offset
}

// Stats exposes the buffer's live telemetry.
type Stats struct {
	lossRateBits  atomic.Uint64 // math.Float64bits(loss_rate_ema)
	targetLatency atomic.Int64
	audioLevel    atomic.Int64 // 0-100

	mu            sync.Mutex
	latencyWindow []int
	snapshots     []PullSnapshot
}

func newStats() *Stats {
	s := &Stats{}
	s.targetLatency.Store(DefaultTargetLatency)
	return s
}

// LossRate returns the current EMA loss rate in [0, 1].
func (s *Stats) LossRate() float64 {
	return float64FromBits(s.lossRateBits.Load())
}

// TargetLatency returns the current controller target, in [1, 25].
func (s *Stats) TargetLatency() int64 { return s.targetLatency.Load() }

// AudioLevel returns the most recent RMS level, 0-100.
func (s *Stats) AudioLevel() int64 { return s.audioLevel.Load() }

// Snapshots returns a copy of the recorded pull snapshots (oldest first).
func (s *Stats) Snapshots() []PullSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PullSnapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

func (s *Stats) recordHitMiss(miss bool) {
	old := s.LossRate()
	sample := 0.0
	if miss {
		sample = 1.0
	}
	next := old + EMAAlpha*(sample-old)
	s.lossRateBits.Store(float64Bits(next))

	loss := next
	target := s.targetLatency.Load()
	if loss > HighLossThreshold && target < MaxTargetLatency {
		s.targetLatency.Add(1)
	} else if loss < LowLossThreshold && target > MinTargetLatency && s.minLatencyInWindow() >= HighMinLatencyThresh {
		s.targetLatency.Add(-1)
	}
}

func (s *Stats) recordLatency(latency int) {
	s.mu.Lock()
	s.latencyWindow = append(s.latencyWindow, latency)
	if len(s.latencyWindow) > LatencyWindowSize {
		s.latencyWindow = s.latencyWindow[len(s.latencyWindow)-LatencyWindowSize:]
	}
	s.mu.Unlock()
}

func (s *Stats) minLatencyInWindow() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencyWindow) == 0 {
		return 0
	}
	min := s.latencyWindow[0]
	for _, v := range s.latencyWindow[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

func (s *Stats) recordSnapshot(snap PullSnapshot, level int64) {
	s.audioLevel.Store(level)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	if len(s.snapshots) > SnapshotWindowSize {
		s.snapshots = s.snapshots[len(s.snapshots)-SnapshotWindowSize:]
	}
}

// Buffer is the per-(peer, stream) adaptive jitter buffer.
type Buffer[S audio.Sample] struct {
	slots    [Capacity]slot[S]
	primed   atomic.Bool
	readSeq  atomic.Uint64
	writeSeq atomic.Uint64

	lateCount atomic.Uint64

	Stats   *Stats
	partial PartialFrameState[S]

	expectedFrameSize int
	channels          int
	sampleRate        int

	lastSeen atomic.Int64 // unix nanos
}

// New creates an empty jitter buffer. expectedFrameSize is the PCM sample
// count (channels * samples-per-channel) a hole-fill silence frame should
// produce.
func New[S audio.Sample](expectedFrameSize, channels, sampleRate int) *Buffer[S] {
	b := &Buffer[S]{
		Stats:             newStats(),
		expectedFrameSize: expectedFrameSize,
		channels:          channels,
		sampleRate:        sampleRate,
	}
	b.lastSeen.Store(time.Now().UnixNano())
	return b
}

// Touch updates the idle-reap timer; called on every push.
func (b *Buffer[S]) Touch() {
	b.lastSeen.Store(time.Now().UnixNano())
}

// Idle reports whether the buffer has not been touched within d.
func (b *Buffer[S]) Idle(d time.Duration) bool {
	return time.Since(time.Unix(0, b.lastSeen.Load())) > d
}

// Push inserts a decoded frame. Multi-producer safe.
func (b *Buffer[S]) Push(frame audio.AudioFrame[S]) {
	b.Touch()
	seq := frame.SequenceNumber

	// 1. First-ever packet primes read_seq.
	if b.primed.CompareAndSwap(false, true) {
		b.readSeq.Store(seq)
	}

	readSeq := b.readSeq.Load()

	// 2. Late/duplicate vs. host-restart detection.
	if seq < readSeq {
		if readSeq-seq > ResetThresholdDiff {
			n := b.lateCount.Add(1)
			if n >= ResetThresholdCount {
				b.resetForRestart(seq)
				b.lateCount.Store(0)
			} else {
				return
			}
		} else {
			return
		}
	} else {
		b.lateCount.Store(0)
	}

	// 3 & 4. Slot dedup + write.
	s := &b.slots[seq%Capacity]
	s.mu.Lock()
	if s.hasData && s.storedSeq >= seq {
		s.mu.Unlock()
		return
	}
	s.hasData = true
	s.storedSeq = seq
	s.frame = frame
	s.mu.Unlock()

	// 5. CAS-advance write_seq.
	for {
		cur := b.writeSeq.Load()
		if seq <= cur {
			break
		}
		if b.writeSeq.CompareAndSwap(cur, seq) {
			break
		}
	}

	// 6. Clamp read_seq forward if over target latency.
	b.clamp()
}

func (b *Buffer[S]) resetForRestart(seq uint64) {
	for i := range b.slots {
		b.slots[i].mu.Lock()
		b.slots[i].hasData = false
		b.slots[i].mu.Unlock()
	}
	b.readSeq.Store(seq)
	b.writeSeq.Store(seq)
}

func (b *Buffer[S]) clamp() {
	target := uint64(b.Stats.TargetLatency())
	for {
		w := b.writeSeq.Load()
		r := b.readSeq.Load()
		if w < r || w-r <= target {
			return
		}
		newRead := w - target
		if b.readSeq.CompareAndSwap(r, newRead) {
			return
		}
	}
}

// Pull returns exactly len samples, or (nil, false) if the buffer has
// never received a packet.
func (b *Buffer[S]) Pull(length int) ([]S, bool) {
	if !b.primed.Load() {
		return nil, false
	}

	out := make([]S, 0, length)

	b.partial.mu.Lock()
	if len(b.partial.samples) > b.partial.offset {
		avail := b.partial.samples[b.partial.offset:]
		take := length
		if take > len(avail) {
			take = len(avail)
		}
		out = append(out, avail[:take]...)
		b.partial.offset += take
		if b.partial.offset >= len(b.partial.samples) {
			b.partial.samples = nil
			b.partial.offset = 0
		}
	}
	b.partial.mu.Unlock()

	for len(out) < length {
		readSeq := b.readSeq.Load()
		writeSeq := b.writeSeq.Load()

		if readSeq > writeSeq {
			// Underrun: hold back, fill silence.
			out = append(out, silence[S](length-len(out))...)
			break
		}

		s := &b.slots[readSeq%Capacity]
		s.mu.Lock()
		hit := s.hasData && s.storedSeq == readSeq
		var frame audio.AudioFrame[S]
		if hit {
			frame = s.frame
			s.hasData = false
		}
		s.mu.Unlock()

		if hit {
			b.readSeq.CompareAndSwap(readSeq, readSeq+1)
			b.Stats.recordHitMiss(false)
			samples := frame.Buffer.Data
			need := length - len(out)
			if need >= len(samples) {
				out = append(out, samples...)
			} else {
				out = append(out, samples[:need]...)
				b.partial.mu.Lock()
				b.partial.samples = samples
				b.partial.offset = need
				b.partial.seq = readSeq
				b.partial.mu.Unlock()
			}
			continue
		}

		if readSeq >= writeSeq {
			out = append(out, silence[S](length-len(out))...)
			break
		}

		// Hole: packet presumed lost.
		b.readSeq.CompareAndSwap(readSeq, readSeq+1)
		b.Stats.recordHitMiss(true)
		fill := b.expectedFrameSize
		need := length - len(out)
		if need >= fill {
			out = append(out, silence[S](fill)...)
		} else {
			out = append(out, silence[S](need)...)
			b.partial.mu.Lock()
			b.partial.samples = silence[S](fill)
			b.partial.offset = need
			b.partial.seq = readSeq
			b.partial.mu.Unlock()
		}
	}

	latency := int64(b.writeSeq.Load()) - int64(b.readSeq.Load())
	if latency < 0 {
		latency = 0
	}
	b.Stats.recordLatency(int(latency))

	level := rmsLevel(out)
	snap := b.snapshot()
	b.Stats.recordSnapshot(snap, level)

	return out, true
}

func (b *Buffer[S]) snapshot() PullSnapshot {
	read := b.readSeq.Load()
	write := b.writeSeq.Load()
	status := make([]bool, Capacity)
	for i := 0; i < Capacity; i++ {
		seq := read + uint64(i)
		s := &b.slots[seq%Capacity]
		s.mu.Lock()
		status[i] = s.hasData && s.storedSeq == seq
		s.mu.Unlock()
	}
	return PullSnapshot{WriteSeq: write, ReadSeq: read, SlotStatus: status}
}

func silence[S audio.Sample](n int) []S {
	return make([]S, n)
}

// ReadSeq and WriteSeq expose the cursors for invariant testing and
// diagnostics.
func (b *Buffer[S]) ReadSeq() uint64  { return b.readSeq.Load() }
func (b *Buffer[S]) WriteSeq() uint64 { return b.writeSeq.Load() }
