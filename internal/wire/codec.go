package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Packet format
// ==============
//
// Every NetworkPacket is encoded as:
//
//	Offset | Size | Description
//	-------|------|-------------------------------------------
//	0      | 2    | Magic: uint16 0x5741, little-endian (bytes 0x41 0x57)
//	2      | 1    | Version (1)
//	3      | 1    | Flags: bit 0 = zstd-compressed body
//	4      | 1    | Kind discriminator
//	5      | N    | Body (kind-specific, optionally zstd-compressed)
//
// The body is compressed when its uncompressed length crosses
// compressThreshold — large SyncedStreamMeta file names and batched
// RequestFrames are the only payloads expected to benefit.
const (
	magic              uint16 = 0x5741
	version            uint8  = 1
	flagCompressed     uint8  = 1 << 0
	headerSize                = 5
	compressThreshold         = 256
)

var (
	zstdEncoderOnce *zstd.Encoder
	zstdDecoderOnce *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	if zstdEncoderOnce == nil {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			panic(fmt.Sprintf("wire: zstd encoder init: %v", err))
		}
		zstdEncoderOnce = enc
	}
	return zstdEncoderOnce
}

func zstdDecoder() *zstd.Decoder {
	if zstdDecoderOnce == nil {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			panic(fmt.Sprintf("wire: zstd decoder init: %v", err))
		}
		zstdDecoderOnce = dec
	}
	return zstdDecoderOnce
}

// Encode serializes a NetworkPacket to its wire form. A single process
// MUST use one encoder version across all packet kinds (spec.md §6).
func Encode(p *NetworkPacket) ([]byte, error) {
	body, err := encodeBody(p)
	if err != nil {
		return nil, err
	}

	flags := uint8(0)
	if len(body) > compressThreshold {
		compressed := zstdEncoder().EncodeAll(body, nil)
		if len(compressed) < len(body) {
			body = compressed
			flags |= flagCompressed
		}
	}

	out := make([]byte, 0, headerSize+len(body))
	buf := bytes.NewBuffer(out)
	binary.Write(buf, binary.LittleEndian, magic)
	buf.WriteByte(version)
	buf.WriteByte(flags)
	buf.WriteByte(byte(p.Kind))
	buf.Write(body)
	return buf.Bytes(), nil
}

// Decode parses a wire-format packet. Malformed input returns an error; the
// caller (packet dispatcher) logs and drops per spec.md §7.
func Decode(data []byte) (*NetworkPacket, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("wire: short packet (%d bytes)", len(data))
	}
	r := bytes.NewReader(data)
	var m uint16
	binary.Read(r, binary.LittleEndian, &m)
	if m != magic {
		return nil, fmt.Errorf("wire: bad magic %#x", m)
	}
	verByte, _ := r.ReadByte()
	_ = verByte
	flags, _ := r.ReadByte()
	kindByte, _ := r.ReadByte()

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("wire: read body: %w", err)
	}
	if flags&flagCompressed != 0 {
		decompressed, err := zstdDecoder().DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("wire: zstd decompress: %w", err)
		}
		body = decompressed
	}

	p := &NetworkPacket{Kind: Kind(kindByte)}
	if err := decodeBody(p, body); err != nil {
		return nil, err
	}
	return p, nil
}

func encodeBody(p *NetworkPacket) ([]byte, error) {
	buf := new(bytes.Buffer)
	switch p.Kind {
	case KindRealtime:
		f := p.Realtime
		if f == nil {
			return nil, fmt.Errorf("wire: KindRealtime with nil payload")
		}
		binary.Write(buf, binary.LittleEndian, uint8(f.StreamID))
		binary.Write(buf, binary.LittleEndian, f.SequenceNumber)
		binary.Write(buf, binary.LittleEndian, f.TimestampUs)
		binary.Write(buf, binary.LittleEndian, f.FrameSize)
		binary.Write(buf, binary.LittleEndian, uint32(len(f.OpusBytes)))
		buf.Write(f.OpusBytes)
	case KindSynced:
		f := p.Synced
		if f == nil {
			return nil, fmt.Errorf("wire: KindSynced with nil payload")
		}
		binary.Write(buf, binary.LittleEndian, f.StreamID)
		binary.Write(buf, binary.LittleEndian, f.SequenceNumber)
		binary.Write(buf, binary.LittleEndian, f.PlayAtPartyUs)
		binary.Write(buf, binary.LittleEndian, uint32(len(f.OpusBytes)))
		buf.Write(f.OpusBytes)
	case KindSyncedMeta:
		m := p.SyncedMeta
		if m == nil {
			return nil, fmt.Errorf("wire: KindSyncedMeta with nil payload")
		}
		binary.Write(buf, binary.LittleEndian, m.StreamID)
		writeString(buf, m.FileName)
		binary.Write(buf, binary.LittleEndian, m.TotalFrames)
		binary.Write(buf, binary.LittleEndian, m.TotalSamples)
		binary.Write(buf, binary.LittleEndian, m.SampleRate)
		binary.Write(buf, binary.LittleEndian, m.Channels)
	case KindSyncedControl:
		c := p.SyncedControl
		if c == nil {
			return nil, fmt.Errorf("wire: KindSyncedControl with nil payload")
		}
		binary.Write(buf, binary.LittleEndian, uint8(c.Kind))
		binary.Write(buf, binary.LittleEndian, c.StreamID)
		binary.Write(buf, binary.LittleEndian, c.PartyClockTime)
		binary.Write(buf, binary.LittleEndian, c.Seq)
	case KindRequestFrames:
		rf := p.RequestFrames
		if rf == nil {
			return nil, fmt.Errorf("wire: KindRequestFrames with nil payload")
		}
		binary.Write(buf, binary.LittleEndian, rf.StreamID)
		binary.Write(buf, binary.LittleEndian, uint32(len(rf.Seqs)))
		for _, s := range rf.Seqs {
			binary.Write(buf, binary.LittleEndian, s)
		}
	case KindNtp:
		n := p.Ntp
		if n == nil {
			return nil, fmt.Errorf("wire: KindNtp with nil payload")
		}
		binary.Write(buf, binary.LittleEndian, uint8(n.Kind))
		binary.Write(buf, binary.LittleEndian, n.ID)
		binary.Write(buf, binary.LittleEndian, n.T1)
		binary.Write(buf, binary.LittleEndian, n.T2)
		binary.Write(buf, binary.LittleEndian, n.T3)
	default:
		return nil, fmt.Errorf("wire: unknown packet kind %d", p.Kind)
	}
	return buf.Bytes(), nil
}

func decodeBody(p *NetworkPacket, body []byte) error {
	r := bytes.NewReader(body)
	switch p.Kind {
	case KindRealtime:
		f := &RealtimeFrame{}
		var sid uint8
		binary.Read(r, binary.LittleEndian, &sid)
		f.StreamID = StreamID(sid)
		binary.Read(r, binary.LittleEndian, &f.SequenceNumber)
		binary.Read(r, binary.LittleEndian, &f.TimestampUs)
		binary.Read(r, binary.LittleEndian, &f.FrameSize)
		var n uint32
		binary.Read(r, binary.LittleEndian, &n)
		f.OpusBytes = make([]byte, n)
		if _, err := io.ReadFull(r, f.OpusBytes); err != nil {
			return fmt.Errorf("wire: read realtime opus bytes: %w", err)
		}
		p.Realtime = f
	case KindSynced:
		f := &SyncedFrame{}
		binary.Read(r, binary.LittleEndian, &f.StreamID)
		binary.Read(r, binary.LittleEndian, &f.SequenceNumber)
		binary.Read(r, binary.LittleEndian, &f.PlayAtPartyUs)
		var n uint32
		binary.Read(r, binary.LittleEndian, &n)
		f.OpusBytes = make([]byte, n)
		if _, err := io.ReadFull(r, f.OpusBytes); err != nil {
			return fmt.Errorf("wire: read synced opus bytes: %w", err)
		}
		p.Synced = f
	case KindSyncedMeta:
		m := &SyncedStreamMeta{}
		binary.Read(r, binary.LittleEndian, &m.StreamID)
		name, err := readString(r)
		if err != nil {
			return fmt.Errorf("wire: read file name: %w", err)
		}
		m.FileName = name
		binary.Read(r, binary.LittleEndian, &m.TotalFrames)
		binary.Read(r, binary.LittleEndian, &m.TotalSamples)
		binary.Read(r, binary.LittleEndian, &m.SampleRate)
		binary.Read(r, binary.LittleEndian, &m.Channels)
		p.SyncedMeta = m
	case KindSyncedControl:
		c := &SyncedControl{}
		var k uint8
		binary.Read(r, binary.LittleEndian, &k)
		c.Kind = ControlKind(k)
		binary.Read(r, binary.LittleEndian, &c.StreamID)
		binary.Read(r, binary.LittleEndian, &c.PartyClockTime)
		binary.Read(r, binary.LittleEndian, &c.Seq)
		p.SyncedControl = c
	case KindRequestFrames:
		rf := &RequestFrames{}
		binary.Read(r, binary.LittleEndian, &rf.StreamID)
		var n uint32
		binary.Read(r, binary.LittleEndian, &n)
		rf.Seqs = make([]uint64, n)
		for i := range rf.Seqs {
			binary.Read(r, binary.LittleEndian, &rf.Seqs[i])
		}
		p.RequestFrames = rf
	case KindNtp:
		n := &NtpPacket{}
		var k uint8
		binary.Read(r, binary.LittleEndian, &k)
		n.Kind = NtpKind(k)
		binary.Read(r, binary.LittleEndian, &n.ID)
		binary.Read(r, binary.LittleEndian, &n.T1)
		binary.Read(r, binary.LittleEndian, &n.T2)
		binary.Read(r, binary.LittleEndian, &n.T3)
		p.Ntp = n
	default:
		return fmt.Errorf("wire: unknown packet kind %d", p.Kind)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
