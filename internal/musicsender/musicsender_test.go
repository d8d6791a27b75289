package musicsender

import (
	"sync"
	"testing"
	"time"

	"github.com/partyaudio/partyaudio/internal/wire"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now uint64
}

func (c *fakeClock) PartyNow() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(us uint64) {
	c.mu.Lock()
	c.now += us
	c.mu.Unlock()
}

type fakeSender struct {
	mu   sync.Mutex
	sent []*wire.NetworkPacket
}

func (s *fakeSender) Send(p *wire.NetworkPacket) {
	s.mu.Lock()
	s.sent = append(s.sent, p)
	s.mu.Unlock()
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeSelfIngest struct {
	mu       sync.Mutex
	ingested []*wire.NetworkPacket
}

func (f *fakeSelfIngest) Ingest(p *wire.NetworkPacket) {
	f.mu.Lock()
	f.ingested = append(f.ingested, p)
	f.mu.Unlock()
}

type fakeSource struct {
	mu     sync.Mutex
	idx    int
	frames int
}

func (f *fakeSource) FileName() string { return "test.mp3" }
func (f *fakeSource) SampleRate() int  { return 48000 }
func (f *fakeSource) Channels() int    { return 2 }

func (f *fakeSource) Next() ([]byte, int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= f.frames {
		return nil, 0, false, nil
	}
	f.idx++
	return []byte{byte(f.idx)}, 960, true, nil
}

func (f *fakeSource) SeekTo(seq uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idx = int(seq)
	return nil
}

func TestStartSendsMetaAndControlBeforeFrames(t *testing.T) {
	clock := &fakeClock{}
	sender := &fakeSender{}
	self := &fakeSelfIngest{}
	src := &fakeSource{frames: 5}

	m := New(1, src, clock, sender, self, nil)
	require.NoError(t, m.Start())
	defer m.Stop()

	time.Sleep(30 * time.Millisecond)

	self.mu.Lock()
	defer self.mu.Unlock()
	require.GreaterOrEqual(t, len(self.ingested), 2)
	require.Equal(t, wire.KindSyncedMeta, self.ingested[0].Kind)
	require.Equal(t, wire.KindSyncedControl, self.ingested[1].Kind)
	require.Equal(t, wire.ControlStart, self.ingested[1].SyncedControl.Kind)
}

func TestFramesSentWithRedundancy(t *testing.T) {
	clock := &fakeClock{}
	sender := &fakeSender{}
	self := &fakeSelfIngest{}
	src := &fakeSource{frames: 3}

	m := New(2, src, clock, sender, self, nil)
	require.NoError(t, m.Start())
	defer m.Stop()

	// 3 frames of 960 samples @ 48kHz = 20ms each; at SendRateMultiplier=2x
	// real-time that's ~30ms of wall-clock to clear the vault. Give it a
	// generous margin over that for scheduling jitter.
	require.Eventually(t, func() bool {
		return sender.count() >= 1+1+3*RedundancyCount
	}, 500*time.Millisecond, 5*time.Millisecond)
}

func TestInvalidSourceFailsStartWithNoSend(t *testing.T) {
	clock := &fakeClock{}
	sender := &fakeSender{}
	self := &fakeSelfIngest{}
	src := &invalidSource{}

	m := New(3, src, clock, sender, self, nil)
	require.Error(t, m.Start())
	require.Equal(t, 0, sender.count())
}

type invalidSource struct{ fakeSource }

func (i *invalidSource) SampleRate() int { return 0 }
