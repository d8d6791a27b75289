package main

import (
	"log"
	"net"
	"time"

	"github.com/partyaudio/partyaudio/internal/dispatch"
	"github.com/partyaudio/partyaudio/internal/mixer"
	"github.com/partyaudio/partyaudio/internal/musicsender"
	"github.com/partyaudio/partyaudio/internal/partyclock"
	"github.com/partyaudio/partyaudio/internal/syncstream"
	"github.com/partyaudio/partyaudio/internal/transport"
	"github.com/partyaudio/partyaudio/internal/wire"
)

// packetSender adapts a transport.Socket to the Send(*wire.NetworkPacket)
// capability the party clock and music sender expect, keeping wire
// encoding out of the transport package (spec.md §6 "a single process
// MUST use one encoder version").
type packetSender struct {
	socket *transport.Socket
}

func (p *packetSender) Send(pkt *wire.NetworkPacket) {
	data, err := wire.Encode(pkt)
	if err != nil {
		log.Printf("ERROR: app: encode packet kind %d: %v", pkt.Kind, err)
		return
	}
	p.socket.Send(data)
}

// loopbackAddr is the synthetic source address used when a sender
// self-ingests its own packet (spec.md §4.5 step 2-3): it never traverses
// the socket, so it has no real peer address, but downstream state is
// keyed by (addr, stream) and needs something stable and distinct per
// process.
var loopbackAddr net.Addr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: transport.MulticastPort}

// selfIngest feeds a music sender's own synced-stream traffic directly
// into the scheduler, bypassing the dispatcher's own-IP suppression on
// purpose — this is not a network round trip.
type selfIngest struct {
	scheduler *syncstream.Scheduler[int16]
}

func (si *selfIngest) Ingest(pkt *wire.NetworkPacket) {
	switch pkt.Kind {
	case wire.KindSynced:
		si.scheduler.Receive(loopbackAddr, pkt.Synced)
	case wire.KindSyncedMeta:
		si.scheduler.ReceiveMeta(loopbackAddr, pkt.SyncedMeta.StreamID, pkt.SyncedMeta)
	case wire.KindSyncedControl:
		si.scheduler.HandleControl(loopbackAddr, pkt.SyncedControl)
	default:
		log.Printf("WARN: app: self-ingest of unexpected packet kind %d", pkt.Kind)
	}
}

// App owns every live component for one process: the multicast transport,
// party clock, realtime mix engine, synced-stream scheduler and
// dispatcher, and any music sender currently broadcasting. The sample type
// is fixed to int16 at this wiring layer because the Opus codec this
// module's Encoder/Decoder wraps produces/consumes 16-bit PCM (spec.md §1
// names the codec as an out-of-scope external collaborator).
type App struct {
	Config *Config

	Socket     *transport.Socket
	Clock      *partyclock.Clock
	Mixer      *mixer.Engine[int16]
	Scheduler  *syncstream.Scheduler[int16]
	Dispatcher *dispatch.Dispatcher

	sender *packetSender
	ingest *selfIngest

	activeSender   *musicsender.Musicsender
	activeSenderID uint64
}

// NewApp wires every component together from a loaded config. It does not
// start any goroutines; call Run for that.
func NewApp(cfg *Config, metrics *Metrics) (*App, error) {
	socket, err := transport.Open(cfg.Network.UseIPv6, nil)
	if err != nil {
		return nil, err
	}
	if metrics != nil {
		socket.OnPartialSend = func() { metrics.sendPartial.Inc() }
	}

	app := &App{Config: cfg, Socket: socket}
	app.sender = &packetSender{socket: socket}
	app.Clock = partyclock.New(app.sender)

	frameSize := cfg.Audio.Channels * cfg.Audio.SampleRate * cfg.Audio.FrameSizeMs / 1000
	app.Mixer = mixer.New[int16](cfg.Audio.Channels, cfg.Audio.SampleRate, frameSize)
	if metrics != nil {
		app.Mixer.OnDecodeFailure = func() { metrics.packetsDecodeFail.Inc() }
	}
	app.Scheduler = syncstream.New[int16](app.Clock, cfg.Audio.Channels, cfg.Audio.SampleRate)
	app.ingest = &selfIngest{scheduler: app.Scheduler}

	app.Dispatcher = dispatch.New(socket, app.Mixer, app.Scheduler, app.Clock)
	if metrics != nil {
		app.Dispatcher.OnMalformed = func() { metrics.packetsMalformed.Inc() }
	}
	return app, nil
}

// StartMusicSender begins broadcasting a synced stream from source,
// registering it with the dispatcher for retransmit requests. Only one
// sender may be active per process at a time.
func (a *App) StartMusicSender(streamID uint64, source musicsender.PacketSource) (*musicsender.Musicsender, error) {
	sender := musicsender.New(streamID, source, a.Clock, a.sender, a.ingest, a.Scheduler)
	if err := sender.Start(); err != nil {
		return nil, err
	}
	a.Dispatcher.RegisterSender(streamID, sender)
	a.activeSender = sender
	a.activeSenderID = streamID
	return sender, nil
}

// StopMusicSender stops and unregisters the currently active sender, if
// any.
func (a *App) StopMusicSender() {
	if a.activeSender == nil {
		return
	}
	a.activeSender.Stop()
	a.Dispatcher.UnregisterSender(a.activeSenderID)
	a.activeSender = nil
}

// Snapshot builds a StatusSnapshot for the status websocket / MQTT
// publisher from current component state.
func (a *App) Snapshot() StatusSnapshot {
	info := a.Clock.DebugInfo()
	peers := make([]PeerStatus, 0)
	for key, stats := range a.Mixer.Stats() {
		peers = append(peers, PeerStatus{
			Peer:          key.SourceAddr,
			Stream:        key.StreamID,
			LossRate:      stats.LossRate(),
			TargetLatency: stats.TargetLatency(),
			AudioLevel:    stats.AudioLevel(),
		})
	}
	return StatusSnapshot{
		Timestamp:    time.Now().Unix(),
		ClockSynced:  info.Synced,
		ClockOffset:  info.OffsetUs,
		MixerActive:  a.Mixer.ActiveCount(),
		SyncedActive: len(a.Scheduler.ActiveStreams()),
		Peers:        peers,
	}
}

// Close releases the multicast socket.
func (a *App) Close() error {
	return a.Socket.Close()
}
