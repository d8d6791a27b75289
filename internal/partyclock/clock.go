// Package partyclock implements the decentralized party clock: an
// NTP-like offset estimation and responder-election protocol that lets
// every peer agree on a shared microsecond timeline with no central
// coordinator.
package partyclock

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/partyaudio/partyaudio/internal/wire"
)

// Tuning constants, carried over verbatim from the reference
// implementation (original_source/src/party/ntp.rs).
const (
	ResponseDelayMinMs  = 10
	ResponseDelayMaxMs  = 50
	SeenResponseTTL     = 200 * time.Millisecond
	SyncInterval        = 5 * time.Second
	RequestTimeout      = 500 * time.Millisecond
	FirstHostTimeout    = 1500 * time.Millisecond
)

type pendingRequest struct {
	id      uint64
	t1      uint64
	sentAt  time.Time
}

type pendingResponse struct {
	id       uint64
	t1       uint64
	t2       uint64
	fireAt   time.Time
	cancel   bool
}

type seenResponse struct {
	id  uint64
	at  time.Time
}

// Sender is the minimal outbound capability the clock needs; satisfied by
// the packetSender adapter in the main package (app.go).
type Sender interface {
	Send(p *wire.NetworkPacket)
}

// Clock is the decentralized party clock for one process.
type Clock struct {
	mu sync.Mutex

	offsetUs int64
	synced   bool

	firstRequestSentAt time.Time
	hasSentRequest     bool

	pendingRequests  map[uint64]pendingRequest
	pendingResponses map[uint64]pendingResponse
	seenResponses    map[uint64]seenResponse

	nextID       uint64
	rng          *rand.Rand
	lastSyncSent time.Time

	sender Sender
}

// New creates an unsynced clock. Call Tick periodically (≤1Hz suggested by
// spec.md §5, but finer-grained is safe) to drive the protocol.
func New(sender Sender) *Clock {
	return &Clock{
		pendingRequests:  make(map[uint64]pendingRequest),
		pendingResponses: make(map[uint64]pendingResponse),
		seenResponses:    make(map[uint64]seenResponse),
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
		sender:           sender,
	}
}

func localNowUs() uint64 {
	return uint64(time.Now().UnixMicro())
}

// PartyNow returns the current time on the shared timeline, in
// microseconds. Not monotonic: offset can jump at re-sync (spec.md §9
// "Clock monotonicity").
func (c *Clock) PartyNow() uint64 {
	c.mu.Lock()
	offset := c.offsetUs
	c.mu.Unlock()
	return addOffset(localNowUs(), offset)
}

func addOffset(now uint64, offset int64) uint64 {
	if offset >= 0 {
		return now + uint64(offset)
	}
	neg := uint64(-offset)
	if neg > now {
		return 0
	}
	return now - neg
}

// IsSynced reports whether offset is meaningful yet.
func (c *Clock) IsSynced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synced
}

// DebugInfo returns the clock's internal state for the status websocket.
type DebugInfo struct {
	OffsetUs         int64
	Synced           bool
	PendingRequests  int
	PendingResponses int
}

func (c *Clock) DebugInfo() DebugInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return DebugInfo{
		OffsetUs:         c.offsetUs,
		Synced:           c.synced,
		PendingRequests:  len(c.pendingRequests),
		PendingResponses: len(c.pendingResponses),
	}
}

// becomeFirstHost declares this peer the origin: offset = 0.
func (c *Clock) becomeFirstHost() {
	c.mu.Lock()
	c.offsetUs = 0
	c.synced = true
	c.mu.Unlock()
	log.Printf("INFO: party clock: no response within %s, becoming origin (offset=0)", FirstHostTimeout)
}

// createSyncRequest multicasts a new Request and tracks it as pending.
func (c *Clock) createSyncRequest() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	t1 := localNowUs()
	c.pendingRequests[id] = pendingRequest{id: id, t1: t1, sentAt: time.Now()}
	if !c.hasSentRequest {
		c.hasSentRequest = true
		c.firstRequestSentAt = time.Now()
	}
	c.mu.Unlock()

	c.sender.Send(&wire.NetworkPacket{
		Kind: wire.KindNtp,
		Ntp:  &wire.NtpPacket{Kind: wire.NtpRequest, ID: id, T1: t1},
	})
}

// shouldSendPeriodicSync reports whether SyncInterval has elapsed since
// the last periodic request.
func (c *Clock) shouldSendPeriodicSync() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSyncSent.IsZero() || time.Since(c.lastSyncSent) >= SyncInterval {
		c.lastSyncSent = time.Now()
		return true
	}
	return false
}

// OnRequestReceived schedules a randomized-delay Response to an inbound
// Request.
func (c *Clock) OnRequestReceived(req *wire.NtpPacket) {
	c.mu.Lock()
	if !c.synced {
		c.mu.Unlock()
		return
	}
	t2 := addOffset(localNowUs(), c.offsetUs)
	delayMs := ResponseDelayMinMs + c.rng.Intn(ResponseDelayMaxMs-ResponseDelayMinMs+1)
	c.pendingResponses[req.ID] = pendingResponse{
		id:     req.ID,
		t1:     req.T1,
		t2:     t2,
		fireAt: time.Now().Add(time.Duration(delayMs) * time.Millisecond),
	}
	c.mu.Unlock()
}

// OnResponseReceived completes an offset estimate if it matches a
// pending request. Every peer watching the group records the response id
// as seen regardless of whether it was the requester, so any of its own
// pending responses to the same id are cancelled (spec.md §4.1 step 2,
// the "approximately one responder per request" guarantee) — not just the
// requester that can match it against a pending request.
func (c *Clock) OnResponseReceived(resp *wire.NtpPacket) {
	t4 := localNowUs()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seenResponses[resp.ID] = seenResponse{id: resp.ID, at: time.Now()}

	pr, ok := c.pendingRequests[resp.ID]
	if !ok {
		return
	}
	if pr.t1 != resp.T1 {
		// t1 mismatch: discard silently, per spec.md §4.1/§7.
		return
	}

	offset := computeOffset(resp.T1, resp.T2, resp.T3, t4)
	c.offsetUs = offset
	c.synced = true
	delete(c.pendingRequests, resp.ID)
}

// computeOffset applies the four-timestamp NTP estimate with signed
// offset over unsigned local clocks.
func computeOffset(t1, t2, t3, t4 uint64) int64 {
	d1 := int64(t2) - int64(t1)
	d2 := int64(t3) - int64(t4)
	return (d1 + d2) / 2
}

// pollPendingResponses fires any scheduled responses whose delay elapsed,
// cancelling ones whose request id was already answered by another peer.
func (c *Clock) pollPendingResponses() {
	now := time.Now()
	var toSend []pendingResponse

	c.mu.Lock()
	for id, pr := range c.pendingResponses {
		if _, seen := c.seenResponses[id]; seen {
			delete(c.pendingResponses, id)
			continue
		}
		if now.After(pr.fireAt) || now.Equal(pr.fireAt) {
			toSend = append(toSend, pr)
			delete(c.pendingResponses, id)
		}
	}
	c.mu.Unlock()

	for _, pr := range toSend {
		t3 := addOffset(localNowUs(), c.currentOffset())
		c.sender.Send(&wire.NetworkPacket{
			Kind: wire.KindNtp,
			Ntp: &wire.NtpPacket{
				Kind: wire.NtpResponse,
				ID:   pr.id,
				T1:   pr.t1,
				T2:   pr.t2,
				T3:   t3,
			},
		})
	}
}

func (c *Clock) currentOffset() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offsetUs
}

// cleanupStaleRequests drops pending requests older than RequestTimeout
// and seen-response markers older than SeenResponseTTL.
func (c *Clock) cleanupStaleRequests() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, pr := range c.pendingRequests {
		if now.Sub(pr.sentAt) > RequestTimeout {
			delete(c.pendingRequests, id)
		}
	}
	for id, sr := range c.seenResponses {
		if now.Sub(sr.at) > SeenResponseTTL {
			delete(c.seenResponses, id)
		}
	}
}

// checkFirstHostTimeout declares origin status if the first request has
// gone unanswered for FirstHostTimeout.
func (c *Clock) checkFirstHostTimeout() {
	c.mu.Lock()
	if c.synced || !c.hasSentRequest {
		c.mu.Unlock()
		return
	}
	elapsed := time.Since(c.firstRequestSentAt)
	c.mu.Unlock()
	if elapsed >= FirstHostTimeout {
		c.becomeFirstHost()
	}
}

// Tick drives the whole protocol: periodic resync, scheduled response
// flushing, stale cleanup, and first-host election. Intended to run from
// the low-rate (≤1Hz) maintenance task.
func (c *Clock) Tick() {
	if !c.IsSynced() || c.shouldSendPeriodicSync() {
		c.createSyncRequest()
	}
	c.pollPendingResponses()
	c.cleanupStaleRequests()
	c.checkFirstHostTimeout()
}

// HandlePacket dispatches an inbound Ntp packet to the right handler.
func (c *Clock) HandlePacket(p *wire.NtpPacket) {
	switch p.Kind {
	case wire.NtpRequest:
		c.OnRequestReceived(p)
	case wire.NtpResponse:
		c.OnResponseReceived(p)
	}
}
