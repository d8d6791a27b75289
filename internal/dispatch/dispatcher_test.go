package dispatch

import (
	"net"
	"testing"

	"github.com/partyaudio/partyaudio/internal/wire"
	"github.com/stretchr/testify/require"
)

type fakeFilter struct{ local map[string]bool }

func (f fakeFilter) IsLocal(ip net.IP) bool { return f.local[ip.String()] }

type fakeRealtime struct{ got []*wire.RealtimeFrame }

func (f *fakeRealtime) Receive(src net.Addr, frame *wire.RealtimeFrame) {
	f.got = append(f.got, frame)
}

type fakeSynced struct {
	frames   []*wire.SyncedFrame
	metas    []*wire.SyncedStreamMeta
	controls []*wire.SyncedControl
}

func (f *fakeSynced) Receive(src net.Addr, frame *wire.SyncedFrame) { f.frames = append(f.frames, frame) }
func (f *fakeSynced) ReceiveMeta(src net.Addr, streamID uint64, meta *wire.SyncedStreamMeta) {
	f.metas = append(f.metas, meta)
}
func (f *fakeSynced) HandleControl(src net.Addr, c *wire.SyncedControl) {
	f.controls = append(f.controls, c)
}

type fakeClock struct{ got []*wire.NtpPacket }

func (f *fakeClock) HandlePacket(p *wire.NtpPacket) { f.got = append(f.got, p) }

type fakeRetransmit struct{ got []*wire.RequestFrames }

func (f *fakeRetransmit) HandleRetransmission(req *wire.RequestFrames) {
	f.got = append(f.got, req)
}

func encode(t *testing.T, p *wire.NetworkPacket) []byte {
	t.Helper()
	data, err := wire.Encode(p)
	require.NoError(t, err)
	return data
}

func TestDispatchRoutesByKind(t *testing.T) {
	realtime := &fakeRealtime{}
	synced := &fakeSynced{}
	clock := &fakeClock{}
	filter := fakeFilter{local: map[string]bool{}}
	d := New(filter, realtime, synced, clock)

	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 7667}

	d.handlePacket(src, encode(t, &wire.NetworkPacket{
		Kind:     wire.KindRealtime,
		Realtime: &wire.RealtimeFrame{StreamID: wire.StreamMic, SequenceNumber: 1},
	}))
	require.Len(t, realtime.got, 1)

	d.handlePacket(src, encode(t, &wire.NetworkPacket{
		Kind:   wire.KindSynced,
		Synced: &wire.SyncedFrame{StreamID: 5, SequenceNumber: 1},
	}))
	require.Len(t, synced.frames, 1)

	d.handlePacket(src, encode(t, &wire.NetworkPacket{
		Kind: wire.KindSyncedMeta,
		SyncedMeta: &wire.SyncedStreamMeta{StreamID: 5, FileName: "a.mp3"},
	}))
	require.Len(t, synced.metas, 1)

	d.handlePacket(src, encode(t, &wire.NetworkPacket{
		Kind: wire.KindSyncedControl,
		SyncedControl: &wire.SyncedControl{Kind: wire.ControlStart, StreamID: 5},
	}))
	require.Len(t, synced.controls, 1)

	d.handlePacket(src, encode(t, &wire.NetworkPacket{
		Kind: wire.KindNtp,
		Ntp:  &wire.NtpPacket{Kind: wire.NtpRequest, ID: 1, T1: 100},
	}))
	require.Len(t, clock.got, 1)
}

func TestDispatchFiltersOwnIP(t *testing.T) {
	realtime := &fakeRealtime{}
	synced := &fakeSynced{}
	clock := &fakeClock{}
	filter := fakeFilter{local: map[string]bool{"10.0.0.5": true}}
	d := New(filter, realtime, synced, clock)

	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 7667}
	d.handlePacket(src, encode(t, &wire.NetworkPacket{
		Kind:     wire.KindRealtime,
		Realtime: &wire.RealtimeFrame{StreamID: wire.StreamMic, SequenceNumber: 1},
	}))
	require.Empty(t, realtime.got)
}

func TestDispatchRoutesRetransmissionToRegisteredSender(t *testing.T) {
	d := New(fakeFilter{local: map[string]bool{}}, &fakeRealtime{}, &fakeSynced{}, &fakeClock{})
	rt := &fakeRetransmit{}
	d.RegisterSender(7, rt)

	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 7667}
	d.handlePacket(src, encode(t, &wire.NetworkPacket{
		Kind:          wire.KindRequestFrames,
		RequestFrames: &wire.RequestFrames{StreamID: 7, Seqs: []uint64{1, 2, 3}},
	}))
	require.Len(t, rt.got, 1)

	d.UnregisterSender(7)
	d.handlePacket(src, encode(t, &wire.NetworkPacket{
		Kind:          wire.KindRequestFrames,
		RequestFrames: &wire.RequestFrames{StreamID: 7, Seqs: []uint64{4}},
	}))
	require.Len(t, rt.got, 1, "unregistered sender must not receive further requests")
}

func TestDispatchCallsOnMalformed(t *testing.T) {
	d := New(fakeFilter{local: map[string]bool{}}, &fakeRealtime{}, &fakeSynced{}, &fakeClock{})
	var calls int
	d.OnMalformed = func() { calls++ }

	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 7667}
	d.handlePacket(src, []byte{0xff, 0xff, 0xff})
	require.Equal(t, 1, calls)
}
