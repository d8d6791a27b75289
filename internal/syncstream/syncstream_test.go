package syncstream

import (
	"net"
	"testing"

	"github.com/partyaudio/partyaudio/internal/audio"
	"github.com/partyaudio/partyaudio/internal/wire"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now uint64 }

func (f *fakeClock) PartyNow() uint64 { return f.now }

type fakeAddr string

func (a fakeAddr) Network() string { return "udp" }
func (a fakeAddr) String() string  { return string(a) }

func mustEntry[S audio.Sample](t *testing.T, s *Scheduler[S], addr net.Addr, streamID uint64) *streamEntry[S] {
	t.Helper()
	s.ReceiveMeta(addr, streamID, &wire.SyncedStreamMeta{StreamID: streamID, TotalFrames: 1})
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, e := range s.entries {
		if key.SourceAddr == addr.String() && key.StreamID == streamID {
			return e
		}
	}
	t.Fatal("entry not created")
	return nil
}

func TestScenario8SyncedSchedulerTiming(t *testing.T) {
	clock := &fakeClock{now: 0}
	sched := New[int16](clock, 2, 48000)
	addr := fakeAddr("10.0.0.5:7667")

	entry := mustEntry(t, sched, addr, 1)
	entry.mu.Lock()
	entry.frames.Add(0, decodedFrame[int16]{
		playAtUs:   100_000,
		durationUs: 20_000,
		samples:    make([]int16, 1920),
	})
	entry.mu.Unlock()

	clock.now = 50_000
	_, ok := sched.PullAndMix(960)
	require.False(t, ok, "pull before play_at should contribute nothing")

	clock.now = 110_000
	out, ok := sched.PullAndMix(960)
	require.True(t, ok)
	require.Len(t, out.Data, 960)

	clock.now = 200_000
	sched.PullAndMix(960)
	entry.mu.Lock()
	_, stillPresent := entry.frames.Get(uint64(0))
	entry.mu.Unlock()
	require.False(t, stillPresent, "frame entirely in the past must be discarded")
}
