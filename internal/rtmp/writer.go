package rtmp

import (
	"encoding/binary"
	"io"
	"sync"
)

// Writer serializes RTMP messages as chunks onto dst, guarding against
// concurrent writers interleaving chunks of two different messages.
type Writer struct {
	mu  sync.Mutex
	dst io.Writer

	chunkSize int
}

// NewWriter creates a Writer that writes chunks to dst at the protocol
// default chunk size.
func NewWriter(dst io.Writer) *Writer {
	return &Writer{dst: dst, chunkSize: DefaultChunkSize}
}

// SetChunkSize updates the outbound chunk size used for subsequent writes.
// Callers are responsible for also sending a TypeSetChunkSize message to
// inform the peer.
func (w *Writer) SetChunkSize(n int) {
	if n > 0 {
		w.chunkSize = n
	}
}

// WritePacket chunks and writes a fully-populated Packet.
func (w *Writer) WritePacket(p *Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	chunks := p.CreateChunks(w.chunkSize)
	_, err := w.dst.Write(chunks)
	return err
}

// controlPacket builds a type-0 packet on the protocol control channel
// carrying a fixed-size payload, used for the handful of non-AMF protocol
// messages (set chunk size, ack, window ack size, peer bandwidth, user
// control events).
func controlPacket(packetType uint32, payload []byte) Packet {
	p := Blank()
	p.Header.Fmt = ChunkType0
	p.Header.CSID = ChannelProtocol
	p.Header.PacketType = packetType
	p.Header.Length = uint32(len(payload))
	p.Payload = payload
	return p
}

// WriteSetChunkSize sends a protocol-control message announcing a new
// chunk size, then applies it to subsequent writes from this Writer.
func (w *Writer) WriteSetChunkSize(n int) error {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(n))
	p := controlPacket(TypeSetChunkSize, payload)
	if err := w.WritePacket(&p); err != nil {
		return err
	}
	w.SetChunkSize(n)
	return nil
}

// WriteAck sends a protocol-control acknowledgement of sequence bytes
// received.
func (w *Writer) WriteAck(sequence uint32) error {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, sequence)
	p := controlPacket(TypeAck, payload)
	return w.WritePacket(&p)
}

// WriteWindowAckSize sends the window ack size the peer should honor.
func (w *Writer) WriteWindowAckSize(size uint32) error {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, size)
	p := controlPacket(TypeWindowAckSize, payload)
	return w.WritePacket(&p)
}

// WriteSetPeerBandwidth sends the peer-bandwidth message (window size plus
// a limit-type byte: 0 hard, 1 soft, 2 dynamic).
func (w *Writer) WriteSetPeerBandwidth(size uint32, limitType byte) error {
	payload := make([]byte, 5)
	binary.BigEndian.PutUint32(payload, size)
	payload[4] = limitType
	p := controlPacket(TypeSetPeerBW, payload)
	return w.WritePacket(&p)
}

// WriteUserControl sends a type-4 user control event (StreamBegin,
// StreamEOF, StreamDry, ...) carrying a 4-byte stream id argument.
func (w *Writer) WriteUserControl(event uint16, streamID uint32) error {
	payload := make([]byte, 6)
	binary.BigEndian.PutUint16(payload[0:2], event)
	binary.BigEndian.PutUint32(payload[2:6], streamID)
	p := controlPacket(TypeEvent, payload)
	return w.WritePacket(&p)
}

// WriteSetBufferLength sends the SetBufferLength user control event
// (type 3), which carries an extra 4-byte millisecond argument beyond the
// stream id.
func (w *Writer) WriteSetBufferLength(streamID uint32, bufferMillis uint32) error {
	payload := make([]byte, 10)
	binary.BigEndian.PutUint16(payload[0:2], 3)
	binary.BigEndian.PutUint32(payload[2:6], streamID)
	binary.BigEndian.PutUint32(payload[6:10], bufferMillis)
	p := controlPacket(TypeEvent, payload)
	return w.WritePacket(&p)
}
