package partyclock

import (
	"testing"
	"time"

	"github.com/partyaudio/partyaudio/internal/wire"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []*wire.NetworkPacket
}

func (f *fakeSender) Send(p *wire.NetworkPacket) { f.sent = append(f.sent, p) }

func TestScenario6OriginElectionAfterTimeout(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender)
	c.createSyncRequest()
	c.firstRequestSentAt = time.Now().Add(-FirstHostTimeout - time.Millisecond)

	c.checkFirstHostTimeout()

	require.True(t, c.IsSynced())
	require.Equal(t, int64(0), c.currentOffset())
	diff := int64(c.PartyNow()) - int64(localNowUs())
	if diff < 0 {
		diff = -diff
	}
	require.Less(t, diff, int64(1000))
}

func TestScenario7OffsetRecovery(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender)
	c.createSyncRequest()

	var reqID uint64
	for id := range c.pendingRequests {
		reqID = id
	}
	pr := c.pendingRequests[reqID]

	const deltaUs = int64(25000)
	t2 := uint64(int64(pr.t1) + deltaUs)
	t3 := t2 + 100

	c.OnResponseReceived(&wire.NtpPacket{
		Kind: wire.NtpResponse,
		ID:   reqID,
		T1:   pr.t1,
		T2:   t2,
		T3:   t3,
	})

	require.True(t, c.IsSynced())
	require.InDelta(t, deltaUs, c.currentOffset(), 200)
}

func TestResponseWithMismatchedT1IsDiscarded(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender)
	c.createSyncRequest()

	var reqID uint64
	for id := range c.pendingRequests {
		reqID = id
	}

	c.OnResponseReceived(&wire.NtpPacket{
		Kind: wire.NtpResponse,
		ID:   reqID,
		T1:   999999999,
		T2:   1,
		T3:   2,
	})

	require.False(t, c.IsSynced())
}

func TestSeenResponseCancelsPendingResponse(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender)
	c.synced = true

	c.OnRequestReceived(&wire.NtpPacket{Kind: wire.NtpRequest, ID: 1, T1: 100})
	require.Len(t, c.pendingResponses, 1)

	// This clock never sent Request id 1 itself (it is not in
	// pendingRequests) — it only scheduled a response to someone else's
	// Request. Observing another peer's Response for the same id on the
	// group must still cancel the scheduled response.
	c.OnResponseReceived(&wire.NtpPacket{Kind: wire.NtpResponse, ID: 1, T1: 100, T2: 150, T3: 160})
	require.NotContains(t, c.pendingRequests, uint64(1))

	c.pollPendingResponses()
	require.Empty(t, c.pendingResponses)
	require.Empty(t, sender.sent)
}
