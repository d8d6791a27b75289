// Package dispatch implements the packet dispatcher: it owns the single
// socket reader, filters a process's own packets, decodes the wire format,
// and routes each packet kind to its handler.
package dispatch

import (
	"log"
	"net"
	"sync"

	"github.com/partyaudio/partyaudio/internal/wire"
)

// RealtimeReceiver accepts realtime (mic/system) frames, implemented by
// internal/mixer.Engine.
type RealtimeReceiver interface {
	Receive(src net.Addr, frame *wire.RealtimeFrame)
}

// SyncedReceiver accepts synced-stream traffic, implemented by
// internal/syncstream.Scheduler.
type SyncedReceiver interface {
	Receive(src net.Addr, frame *wire.SyncedFrame)
	ReceiveMeta(src net.Addr, streamID uint64, meta *wire.SyncedStreamMeta)
	HandleControl(src net.Addr, c *wire.SyncedControl)
}

// PartyClockHandler accepts NTP-style party clock packets, implemented by
// internal/partyclock.Clock.
type PartyClockHandler interface {
	HandlePacket(p *wire.NtpPacket)
}

// RetransmitHandler serves retransmission requests for one music sender's
// stream, implemented by internal/musicsender.Musicsender.
type RetransmitHandler interface {
	HandleRetransmission(req *wire.RequestFrames)
}

// LocalFilter reports whether a source address belongs to this host,
// implemented by internal/transport.Socket.
type LocalFilter interface {
	IsLocal(ip net.IP) bool
}

// Receiver runs the single-reader recv loop, implemented by
// internal/transport.Socket.
type Receiver interface {
	ReceiveLoop(handle func(src net.Addr, data []byte)) error
}

// Dispatcher wires a multicast socket to the subsystems that own each
// packet kind.
type Dispatcher struct {
	filter   LocalFilter
	realtime RealtimeReceiver
	synced   SyncedReceiver
	clock    PartyClockHandler

	mu      sync.RWMutex
	senders map[uint64]RetransmitHandler

	// OnMalformed, if set, is called whenever an inbound datagram fails to
	// deserialize. Used by the caller to drive a metrics counter without
	// this package depending on Prometheus.
	OnMalformed func()
}

// New creates a dispatcher. senders may be mutated concurrently via
// RegisterSender/UnregisterSender as music senders start and stop.
func New(filter LocalFilter, realtime RealtimeReceiver, synced SyncedReceiver, clock PartyClockHandler) *Dispatcher {
	return &Dispatcher{
		filter:   filter,
		realtime: realtime,
		synced:   synced,
		clock:    clock,
		senders:  make(map[uint64]RetransmitHandler),
	}
}

// RegisterSender makes a music sender reachable for retransmission
// requests carrying its stream id.
func (d *Dispatcher) RegisterSender(streamID uint64, h RetransmitHandler) {
	d.mu.Lock()
	d.senders[streamID] = h
	d.mu.Unlock()
}

// UnregisterSender removes a finished music sender.
func (d *Dispatcher) UnregisterSender(streamID uint64) {
	d.mu.Lock()
	delete(d.senders, streamID)
	d.mu.Unlock()
}

// Run blocks, reading and dispatching packets until the receiver errors
// (typically socket close during shutdown).
func (d *Dispatcher) Run(recv Receiver) error {
	return recv.ReceiveLoop(d.handlePacket)
}

func (d *Dispatcher) handlePacket(src net.Addr, data []byte) {
	if udpAddr, ok := src.(*net.UDPAddr); ok && d.filter.IsLocal(udpAddr.IP) {
		return
	}

	packet, err := wire.Decode(data)
	if err != nil {
		log.Printf("WARN: dispatch: decode error from %s: %v", src, err)
		if d.OnMalformed != nil {
			d.OnMalformed()
		}
		return
	}

	switch packet.Kind {
	case wire.KindRealtime:
		d.realtime.Receive(src, packet.Realtime)
	case wire.KindSynced:
		d.synced.Receive(src, packet.Synced)
	case wire.KindSyncedMeta:
		d.synced.ReceiveMeta(src, packet.SyncedMeta.StreamID, packet.SyncedMeta)
	case wire.KindSyncedControl:
		d.synced.HandleControl(src, packet.SyncedControl)
	case wire.KindRequestFrames:
		d.mu.RLock()
		h, ok := d.senders[packet.RequestFrames.StreamID]
		d.mu.RUnlock()
		if ok {
			h.HandleRetransmission(packet.RequestFrames)
		}
	case wire.KindNtp:
		d.clock.HandlePacket(packet.Ntp)
	default:
		log.Printf("WARN: dispatch: unknown packet kind %d from %s", packet.Kind, src)
	}
}
