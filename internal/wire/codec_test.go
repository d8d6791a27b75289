package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, p *NetworkPacket) *NetworkPacket {
	t.Helper()
	raw, err := Encode(p)
	require.NoError(t, err)
	got, err := Decode(raw)
	require.NoError(t, err)
	return got
}

func TestRoundTripRealtime(t *testing.T) {
	p := &NetworkPacket{
		Kind: KindRealtime,
		Realtime: &RealtimeFrame{
			StreamID:       StreamMic,
			SequenceNumber: 42,
			TimestampUs:    1000,
			OpusBytes:      []byte{1, 2, 3, 4},
			FrameSize:      1920,
		},
	}
	got := roundTrip(t, p)
	require.Equal(t, p.Realtime, got.Realtime)
}

func TestRoundTripSynced(t *testing.T) {
	p := &NetworkPacket{
		Kind: KindSynced,
		Synced: &SyncedFrame{
			StreamID:       7,
			SequenceNumber: 99,
			PlayAtPartyUs:  123456,
			OpusBytes:      []byte{9, 9, 9},
		},
	}
	got := roundTrip(t, p)
	require.Equal(t, p.Synced, got.Synced)
}

func TestRoundTripSyncedMetaLargeFileNameCompresses(t *testing.T) {
	longName := make([]byte, 1024)
	for i := range longName {
		longName[i] = 'a'
	}
	p := &NetworkPacket{
		Kind: KindSyncedMeta,
		SyncedMeta: &SyncedStreamMeta{
			StreamID:     3,
			FileName:     string(longName),
			TotalFrames:  500,
			TotalSamples: 960000,
			SampleRate:   48000,
			Channels:     2,
		},
	}
	raw, err := Encode(p)
	require.NoError(t, err)
	require.Equal(t, uint8(flagCompressed), raw[3])
	got := roundTrip(t, p)
	require.Equal(t, p.SyncedMeta, got.SyncedMeta)
}

func TestRoundTripSyncedControlStart(t *testing.T) {
	p := &NetworkPacket{
		Kind: KindSyncedControl,
		SyncedControl: &SyncedControl{
			Kind:           ControlStart,
			StreamID:       5,
			PartyClockTime: 700,
			Seq:            1,
		},
	}
	got := roundTrip(t, p)
	require.Equal(t, p.SyncedControl, got.SyncedControl)
}

func TestRoundTripRequestFrames(t *testing.T) {
	p := &NetworkPacket{
		Kind: KindRequestFrames,
		RequestFrames: &RequestFrames{
			StreamID: 9,
			Seqs:     []uint64{1, 2, 3, 100},
		},
	}
	got := roundTrip(t, p)
	require.Equal(t, p.RequestFrames, got.RequestFrames)
}

func TestRoundTripNtpResponse(t *testing.T) {
	p := &NetworkPacket{
		Kind: KindNtp,
		Ntp: &NtpPacket{
			Kind: NtpResponse,
			ID:   1,
			T1:   100,
			T2:   150,
			T3:   160,
		},
	}
	got := roundTrip(t, p)
	require.Equal(t, p.Ntp, got.Ntp)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte{0, 0, 0, 0, 0})
	require.Error(t, err)
}

func TestDecodeRejectsShortPacket(t *testing.T) {
	_, err := Decode([]byte{1, 2})
	require.Error(t, err)
}
