// Package musicsender implements the synced producer: it reads packets
// from a decoded source, assigns play_at timestamps on the party clock,
// transmits with redundancy, and serves retransmit requests.
package musicsender

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/partyaudio/partyaudio/internal/wire"
)

// Fixed tuning constants (spec.md §4.5, §9 open question (ii): treated as
// spec, not configurable).
const (
	SendRateMultiplier = 2
	RedundancyCount    = 2
	TickInterval       = 10 * time.Millisecond
	StartLeadTime      = 500 * time.Millisecond
	SeekLeadTime       = 300 * time.Millisecond
	ResumeLeadTime     = 200 * time.Millisecond
	VaultReadPerTick   = 100
	RetransmitPerTick  = 10
)

// PartyClock is the capability this sender needs from internal/partyclock.
type PartyClock interface {
	PartyNow() uint64
}

// Sender is the outbound multicast capability.
type Sender interface {
	Send(p *wire.NetworkPacket)
}

// SelfIngest delivers a packet this process just sent straight into the
// local subsystems that would otherwise only see it via the network, so
// the sender hears itself through the same path peers use (spec.md §4.5
// step 2-3). This bypasses the dispatcher's own-IP suppression
// deliberately — it is not a network round-trip.
type SelfIngest interface {
	Ingest(p *wire.NetworkPacket)
}

// SchedulerStatus reports whether a different synced stream is already
// active, used for collision auto-stop (spec.md §4.5 step 5).
type SchedulerStatus interface {
	AnotherStreamActive(ownStreamID uint64) bool
}

// PacketSource yields compressed (Opus) packets plus codec metadata. This
// mirrors the out-of-scope file-decoding collaborator named in spec.md
// §1: file probing/seeking/decoding is not specified here.
type PacketSource interface {
	FileName() string
	SampleRate() int
	Channels() int
	// Next returns the next packet's raw bytes and its duration in
	// samples-per-channel, or ok=false at EOF.
	Next() (payload []byte, samplesPerChannel int, ok bool, err error)
	// SeekTo repositions the source to the sequence number that would
	// be produced by calling Next() that many times from the start.
	// Returns an error if the source cannot seek (spec.md §7: a
	// probe/seek failure must fail the request, no multicast sent).
	SeekTo(seq uint64) error
}

type vaultEntry struct {
	raw        []byte
	playAtUs   uint64
	durationUs uint64
}

type command int

const (
	cmdPause command = iota
	cmdResume
	cmdSeek
	cmdStop
	cmdRetransmit
)

type controlMsg struct {
	cmd           command
	seekSamples   uint64
	retransmitSeq []uint64
}

// State reports the sender's externally-observable lifecycle.
type State int32

const (
	StateRunning State = iota
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Musicsender drives one synced (music) stream end to end.
type Musicsender struct {
	streamID uint64
	source   PacketSource
	clock    PartyClock
	out      Sender
	self     SelfIngest
	status   SchedulerStatus

	mu                     sync.Mutex
	vault                  map[uint64]vaultEntry
	retransmit             []uint64
	nextSeq                uint64
	playAtByStart          uint64 // start_at recorded at the last Start control
	seqAtStart             uint64
	pauseSeq               uint64
	samplesPerChannelTotal uint64
	eofSeen                bool

	// Pacing state for the 2x-real-time emit loop (spec.md §4.5 step 4):
	// decoupled from readAhead, which only fills the vault.
	sendSeq               uint64
	sentDurationUs        uint64
	sendStartWall         time.Time
	cumDurationSinceStart uint64 // duration read into the vault since the last Start

	state atomic.Int32

	control chan controlMsg
	done    chan struct{}
	stopped chan struct{}
}

// New builds a sender for the caller-supplied process-unique streamID.
// It touches neither the source nor the network; the source probe happens
// in Start, so construction never fails on file issues by itself.
func New(streamID uint64, source PacketSource, clock PartyClock, out Sender, self SelfIngest, status SchedulerStatus) *Musicsender {
	return &Musicsender{
		streamID:   streamID,
		source:     source,
		clock:      clock,
		out:        out,
		self:       self,
		status:     status,
		vault:      make(map[uint64]vaultEntry),
		control:    make(chan controlMsg, 8),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start announces stream metadata and the first Start control, then
// spawns the 10ms tick worker. Per spec.md §7, if probing the source
// fails, no multicast is sent and an error is returned to the caller.
func (m *Musicsender) Start() error {
	// The probe is implicit: a working source must answer these without
	// error before any packet is sent.
	if m.source.SampleRate() <= 0 || m.source.Channels() <= 0 {
		return fmt.Errorf("musicsender: invalid source parameters for stream %d", m.streamID)
	}

	meta := &wire.NetworkPacket{
		Kind: wire.KindSyncedMeta,
		SyncedMeta: &wire.SyncedStreamMeta{
			StreamID:   m.streamID,
			FileName:   m.source.FileName(),
			SampleRate: uint32(m.source.SampleRate()),
			Channels:   uint8(m.source.Channels()),
		},
	}
	m.out.Send(meta)
	m.self.Ingest(meta)

	startAt := m.clock.PartyNow() + uint64(StartLeadTime.Microseconds())
	m.mu.Lock()
	m.playAtByStart = startAt
	m.seqAtStart = 0
	m.sendSeq = 0
	m.sentDurationUs = 0
	m.cumDurationSinceStart = 0
	m.sendStartWall = time.Now()
	m.mu.Unlock()

	m.sendStart(startAt, 0)
	m.state.Store(int32(StateRunning))

	go m.run()
	return nil
}

func (m *Musicsender) sendStart(startAt, seq uint64) {
	ctrl := &wire.NetworkPacket{
		Kind: wire.KindSyncedControl,
		SyncedControl: &wire.SyncedControl{
			Kind:           wire.ControlStart,
			StreamID:       m.streamID,
			PartyClockTime: startAt,
			Seq:            seq,
		},
	}
	m.out.Send(ctrl)
	m.self.Ingest(ctrl)
}

func (m *Musicsender) sendPause() {
	ctrl := &wire.NetworkPacket{
		Kind: wire.KindSyncedControl,
		SyncedControl: &wire.SyncedControl{
			Kind:     wire.ControlPause,
			StreamID: m.streamID,
		},
	}
	m.out.Send(ctrl)
	m.self.Ingest(ctrl)
}

// Pause, Resume, Seek and Stop queue control-plane requests processed by
// the tick loop (see SPEC_FULL.md "Pause/Resume/Seek").
func (m *Musicsender) Pause() { m.control <- controlMsg{cmd: cmdPause} }
func (m *Musicsender) Resume() { m.control <- controlMsg{cmd: cmdResume} }
func (m *Musicsender) Seek(samples uint64) { m.control <- controlMsg{cmd: cmdSeek, seekSamples: samples} }
func (m *Musicsender) Stop() { m.control <- controlMsg{cmd: cmdStop} }

// HandleRetransmission queues sequence numbers for retransmission from
// the vault, directed at this sender's own stream.
func (m *Musicsender) HandleRetransmission(req *wire.RequestFrames) {
	if req.StreamID != m.streamID {
		return
	}
	m.control <- controlMsg{cmd: cmdRetransmit, retransmitSeq: req.Seqs}
}

// StreamID returns this sender's process-unique stream id.
func (m *Musicsender) StreamID() uint64 { return m.streamID }

// State reports the current lifecycle state.
func (m *Musicsender) State() State { return State(m.state.Load()) }

func (m *Musicsender) run() {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	defer close(m.stopped)

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			if m.tick() {
				return
			}
		}
	}
}

func (m *Musicsender) tick() (stop bool) {
	if m.status != nil && m.status.AnotherStreamActive(m.streamID) {
		log.Printf("INFO: musicsender %d: another stream became active, stopping", m.streamID)
		m.state.Store(int32(StateStopped))
		return true
	}

	m.drainControl()

	if m.State() != StateRunning {
		return false
	}

	m.readAhead()
	m.flushRetransmits()
	m.emitPaced()
	return false
}

func (m *Musicsender) drainControl() {
	for {
		select {
		case msg := <-m.control:
			switch msg.cmd {
			case cmdRetransmit:
				m.mu.Lock()
				m.retransmit = append(m.retransmit, msg.retransmitSeq...)
				m.mu.Unlock()
			case cmdPause:
				m.mu.Lock()
				now := m.clock.PartyNow()
				m.pauseSeq = m.seqAtStart
				for seq, entry := range m.vault {
					if entry.playAtUs <= now && seq >= m.pauseSeq {
						m.pauseSeq = seq
					}
				}
				m.mu.Unlock()
				m.state.Store(int32(StatePaused))
				m.sendPause()
			case cmdResume:
				startAt := m.clock.PartyNow() + uint64(ResumeLeadTime.Microseconds())
				m.mu.Lock()
				seq := m.pauseSeq
				m.playAtByStart = startAt
				m.seqAtStart = seq
				m.sendSeq = seq
				m.sentDurationUs = 0
				m.sendStartWall = time.Now()
				// Frames already read into the vault at or beyond the
				// pause point were stamped with play_at relative to the
				// old Start; re-stamp them relative to the new one so
				// emitPaced and receivers see a consistent timeline.
				cum := uint64(0)
				for s := seq; s < m.nextSeq; s++ {
					entry, ok := m.vault[s]
					if !ok {
						break
					}
					entry.playAtUs = startAt + cum
					cum += entry.durationUs
					m.vault[s] = entry
				}
				m.cumDurationSinceStart = cum
				m.mu.Unlock()
				m.sendStart(startAt, seq)
				m.state.Store(int32(StateRunning))
			case cmdSeek:
				if err := m.source.SeekTo(msg.seekSamples); err != nil {
					log.Printf("WARN: musicsender %d: seek failed: %v", m.streamID, err)
					continue
				}
				startAt := m.clock.PartyNow() + uint64(SeekLeadTime.Microseconds())
				m.mu.Lock()
				m.playAtByStart = startAt
				m.seqAtStart = msg.seekSamples
				m.nextSeq = msg.seekSamples
				m.sendSeq = msg.seekSamples
				m.sentDurationUs = 0
				m.cumDurationSinceStart = 0
				m.sendStartWall = time.Now()
				m.vault = make(map[uint64]vaultEntry)
				m.eofSeen = false
				m.mu.Unlock()
				m.sendStart(startAt, msg.seekSamples)
			case cmdStop:
				m.state.Store(int32(StateStopped))
				close(m.done)
			}
		default:
			return
		}
	}
}

// readAhead fills the vault with up to VaultReadPerTick newly-decoded
// source packets, computing each one's play_at from the cumulative
// duration since the last Start (spec.md §4.5 step 4). It does not send
// anything — pacing the wire is emitPaced's job, kept separate so a vault
// that is far ahead of playback doesn't translate into a burst on the
// network.
func (m *Musicsender) readAhead() {
	if m.eofSeen {
		return
	}
	for i := 0; i < VaultReadPerTick; i++ {
		payload, samplesPerChannel, ok, err := m.source.Next()
		if err != nil {
			log.Printf("WARN: musicsender %d: source read error: %v", m.streamID, err)
			return
		}
		if !ok {
			m.onEOF()
			return
		}

		m.mu.Lock()
		seq := m.nextSeq
		m.nextSeq++
		durationUs := uint64(samplesPerChannel) * 1_000_000 / uint64(m.source.SampleRate())
		playAt := m.playAtByStart + m.cumDurationSinceStart
		m.cumDurationSinceStart += durationUs
		m.vault[seq] = vaultEntry{raw: payload, playAtUs: playAt, durationUs: durationUs}
		m.samplesPerChannelTotal += uint64(samplesPerChannel)
		m.mu.Unlock()
	}
}

// onEOF corrects the announced total_frames/total_samples and
// re-broadcasts stream metadata once the source is exhausted (spec.md
// §4.5 step 4 "On EOF, correct total_frames and total_samples,
// re-broadcast metadata").
func (m *Musicsender) onEOF() {
	m.eofSeen = true
	m.mu.Lock()
	totalFrames := m.nextSeq
	totalSamples := m.samplesPerChannelTotal
	m.mu.Unlock()

	meta := &wire.NetworkPacket{
		Kind: wire.KindSyncedMeta,
		SyncedMeta: &wire.SyncedStreamMeta{
			StreamID:     m.streamID,
			FileName:     m.source.FileName(),
			TotalFrames:  totalFrames,
			TotalSamples: totalSamples,
			SampleRate:   uint32(m.source.SampleRate()),
			Channels:     uint8(m.source.Channels()),
		},
	}
	m.out.Send(meta)
	m.self.Ingest(meta)
}

// emitPaced sends frames from the vault at SendRateMultiplier times
// real-time, each with RedundancyCount copies, so receivers build a
// buffer ahead of play_at (spec.md §4.5 step 4). Decoupled from
// readAhead: how far the vault has been filled is independent of how
// fast it is allowed onto the wire.
func (m *Musicsender) emitPaced() {
	m.mu.Lock()
	budgetUs := uint64(time.Since(m.sendStartWall).Microseconds()) * SendRateMultiplier
	m.mu.Unlock()

	for {
		m.mu.Lock()
		if m.sentDurationUs > budgetUs {
			m.mu.Unlock()
			return
		}
		entry, ok := m.vault[m.sendSeq]
		if !ok {
			m.mu.Unlock()
			return
		}
		seq := m.sendSeq
		m.sendSeq++
		m.sentDurationUs += entry.durationUs
		m.mu.Unlock()

		frame := &wire.NetworkPacket{
			Kind: wire.KindSynced,
			Synced: &wire.SyncedFrame{
				StreamID:       m.streamID,
				SequenceNumber: seq,
				PlayAtPartyUs:  entry.playAtUs,
				OpusBytes:      entry.raw,
			},
		}
		for r := 0; r < RedundancyCount; r++ {
			m.out.Send(frame)
			m.self.Ingest(frame)
		}
	}
}

func (m *Musicsender) flushRetransmits() {
	m.mu.Lock()
	n := len(m.retransmit)
	if n > RetransmitPerTick {
		n = RetransmitPerTick
	}
	batch := append([]uint64(nil), m.retransmit[:n]...)
	m.retransmit = m.retransmit[n:]
	m.mu.Unlock()

	for _, seq := range batch {
		m.mu.Lock()
		entry, ok := m.vault[seq]
		m.mu.Unlock()
		if !ok {
			continue
		}
		frame := &wire.NetworkPacket{
			Kind: wire.KindSynced,
			Synced: &wire.SyncedFrame{
				StreamID:       m.streamID,
				SequenceNumber: seq,
				PlayAtPartyUs:  entry.playAtUs,
				OpusBytes:      entry.raw,
			},
		}
		m.out.Send(frame)
	}
}
