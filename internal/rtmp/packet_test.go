package rtmp

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
)

func TestCreateChunksAndReadMessageRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 300)

	p := Blank()
	p.Header.Fmt = ChunkType0
	p.Header.CSID = ChannelVideo
	p.Header.PacketType = TypeVideo
	p.Header.StreamID = 1
	p.Header.Timestamp = 1000
	p.Header.Length = uint32(len(payload))
	p.Payload = payload

	chunks := p.CreateChunks(128)

	r := NewReader(bytes.NewReader(chunks))
	r.SetChunkSize(128)

	got, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	if got.Header.PacketType != TypeVideo {
		t.Fatalf("packet type = %d, want %d", got.Header.PacketType, TypeVideo)
	}
	if got.Header.StreamID != 1 {
		t.Fatalf("stream id = %d, want 1", got.Header.StreamID)
	}
	if got.Header.Timestamp != 1000 {
		t.Fatalf("timestamp = %d, want 1000", got.Header.Timestamp)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload mismatch: got %d bytes, want %d", len(got.Payload), len(payload))
	}
}

func TestCreateChunksSmallPayloadSingleChunk(t *testing.T) {
	payload := []byte{1, 2, 3, 4}

	p := Blank()
	p.Header.Fmt = ChunkType0
	p.Header.CSID = ChannelAudio
	p.Header.PacketType = TypeAudio
	p.Header.StreamID = 1
	p.Header.Length = uint32(len(payload))
	p.Payload = payload

	chunks := p.CreateChunks(128)

	r := NewReader(bytes.NewReader(chunks))

	got, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload mismatch: got %v, want %v", got.Payload, payload)
	}
}

func TestReadMessageRejectsLargeCsid(t *testing.T) {
	// Basic header byte: fmt=0, csid field=0 (escape to one extra byte).
	stream := []byte{0x00, 0x05}
	r := NewReader(bytes.NewReader(stream))

	_, err := r.ReadMessage()
	if !errors.Is(err, ErrLargeCsid) {
		t.Fatalf("err = %v, want ErrLargeCsid", err)
	}
}

func TestReadMessageFirstChunkMustBeFmt0(t *testing.T) {
	// fmt=2 (10), csid=6: invalid as the very first chunk ever seen.
	stream := []byte{0b10_000110, 0, 0, 0}
	r := NewReader(bytes.NewReader(stream))

	_, err := r.ReadMessage()
	if !errors.Is(err, ErrInvalidFmtRule1) {
		t.Fatalf("err = %v, want ErrInvalidFmtRule1", err)
	}
}

func TestReadMessageTolerateFmt1FirstChunk(t *testing.T) {
	payload := []byte{1, 2, 3}

	p := Blank()
	p.Header.Fmt = ChunkType1
	p.Header.CSID = ChannelAudio
	p.Header.PacketType = TypeAudio
	p.Header.Length = uint32(len(payload))
	p.Payload = payload

	chunks := p.CreateChunks(128)
	r := NewReader(bytes.NewReader(chunks))

	got, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload mismatch: got %v, want %v", got.Payload, payload)
	}
}

func TestReadMessageRejectsFmt0MidMessage(t *testing.T) {
	payload := bytes.Repeat([]byte{0x01}, 300)

	p := Blank()
	p.Header.Fmt = ChunkType0
	p.Header.CSID = ChannelVideo
	p.Header.PacketType = TypeVideo
	p.Header.Length = uint32(len(payload))
	p.Payload = payload

	chunks := p.CreateChunks(128)
	// Corrupt the continuation chunk's basic header from fmt 3 back to
	// fmt 0 (same csid), simulating a peer violating InvalidFmtRule2.
	corrupted := bytes.Clone(chunks)
	corrupted[12+128] = byte(ChannelVideo) // fmt bits 00, csid unchanged

	r := NewReader(bytes.NewReader(corrupted))
	_, err := r.ReadMessage()
	if !errors.Is(err, ErrInvalidFmtRule2) {
		t.Fatalf("err = %v, want ErrInvalidFmtRule2", err)
	}
}

func TestReadMessageExtendedTimestampMaskedTo31Bits(t *testing.T) {
	payload := []byte{1, 2, 3}

	p := Blank()
	p.Header.Fmt = ChunkType0
	p.Header.CSID = ChannelVideo
	p.Header.PacketType = TypeVideo
	p.Header.Timestamp = 0xFFFFFFFF // forces the extended-timestamp path
	p.Header.Length = uint32(len(payload))
	p.Payload = payload

	chunks := p.CreateChunks(128)
	r := NewReader(bytes.NewReader(chunks))

	got, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.Header.Timestamp != int64(0xFFFFFFFF)&0x7fffffff {
		t.Fatalf("timestamp = %#x, want masked to 31 bits", got.Header.Timestamp)
	}
}

func TestHandshakeSimple(t *testing.T) {
	client, server := net.Pipe()

	done := make(chan error, 1)
	go func() {
		done <- Handshake(server)
	}()

	c0c1 := append([]byte{Version}, make([]byte, HandshakeSize)...)
	if _, err := client.Write(c0c1); err != nil {
		t.Fatalf("write c0c1: %v", err)
	}

	s0s1s2 := make([]byte, 1+HandshakeSize+HandshakeSize)
	if _, err := io.ReadFull(client, s0s1s2); err != nil {
		t.Fatalf("read s0s1s2: %v", err)
	}
	if s0s1s2[0] != Version {
		t.Fatalf("server version = %d, want %d", s0s1s2[0], Version)
	}

	c2 := make([]byte, HandshakeSize)
	if _, err := client.Write(c2); err != nil {
		t.Fatalf("write c2: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
}
