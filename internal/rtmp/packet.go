package rtmp

import "encoding/binary"

// Header carries the metadata of a single RTMP message as reconstructed
// from (or about to be split into) chunks.
type Header struct {
	Timestamp  int64
	Fmt        uint32
	CSID       uint32
	PacketType uint32
	StreamID   uint32
	Length     uint32
}

// Packet is one RTMP message: a header plus its payload, along with the
// bookkeeping used while chunks are still being reassembled.
type Packet struct {
	Header Header

	Clock int64 // running timestamp, set on the first chunk of the message

	Capacity uint32
	Bytes    uint32 // bytes of payload received so far
	Handled  bool   // never set by Reader

	Started bool // true once the first message header on this chunk stream id has been read

	ExtTimestamp      bool   // true while the in-progress message uses a 32-bit extended timestamp
	ExtTimestampValue uint32 // the extended timestamp read for the first chunk, re-validated on fmt-3 continuations

	Payload []byte
}

// Blank returns a zeroed Packet ready to accumulate chunks.
func Blank() Packet {
	return Packet{Payload: []byte{}}
}

// basicHeader serializes the 1-, 2- or 3-byte chunk basic header for the
// given format and chunk stream id.
func basicHeader(fmtID uint32, csid uint32) []byte {
	var out []byte

	switch {
	case csid >= 64+255:
		out = make([]byte, 3)
		out[0] = byte(fmtID<<6) | 1
		out[1] = byte(csid-64) & 0xff
		out[2] = byte((csid-64)>>8) & 0xff
	case csid >= 64:
		out = make([]byte, 2)
		out[0] = byte(fmtID << 6)
		out[1] = byte(csid-64) & 0xff
	default:
		out = make([]byte, 1)
		out[0] = byte(fmtID<<6) | byte(csid)
	}

	return out
}

// messageHeader serializes the format-dependent fixed message header that
// follows the basic header (timestamp/delta, length+type, stream id).
func messageHeader(p *Packet) []byte {
	out := make([]byte, 0, 11)

	if p.Header.Fmt <= ChunkType2 {
		b := make([]byte, 4)
		if p.Header.Timestamp >= 0xffffff {
			binary.BigEndian.PutUint32(b, 0xffffff)
		} else {
			binary.BigEndian.PutUint32(b, uint32(p.Header.Timestamp))
		}
		out = append(out, b[1:]...)
	}

	if p.Header.Fmt <= ChunkType1 {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, p.Header.Length)
		out = append(out, b[1:]...)
		out = append(out, byte(p.Header.PacketType))
	}

	if p.Header.Fmt == ChunkType0 {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, p.Header.StreamID)
		out = append(out, b...)
	}

	return out
}

// CreateChunks splits the packet's payload into outChunkSize-sized chunks,
// emitting a type-3 continuation basic header (and extended timestamp, if
// needed) between each. The first chunk carries the full basic+message
// header described by p.Header.Fmt.
func (p *Packet) CreateChunks(outChunkSize int) []byte {
	bh := basicHeader(p.Header.Fmt, p.Header.CSID)
	bh3 := basicHeader(ChunkType3, p.Header.CSID)
	mh := messageHeader(p)

	useExtTimestamp := p.Header.Timestamp >= 0xffffff

	headerSize := len(bh) + len(mh)
	payloadSize := int(p.Header.Length)
	if useExtTimestamp {
		headerSize += 4
	}

	n := headerSize + payloadSize + (payloadSize / outChunkSize)
	if useExtTimestamp {
		n += (payloadSize / outChunkSize) * 4
	}
	if payloadSize%outChunkSize == 0 {
		n--
		if useExtTimestamp {
			n -= 4
		}
	}

	chunks := make([]byte, n)
	offset := 0

	copy(chunks[offset:], bh)
	offset += len(bh)

	copy(chunks[offset:], mh)
	offset += len(mh)

	if useExtTimestamp {
		binary.BigEndian.PutUint32(chunks[offset:offset+4], uint32(p.Header.Timestamp))
		offset += 4
	}

	payloadOffset := 0
	for payloadSize > 0 {
		if payloadSize > outChunkSize {
			copy(chunks[offset:], p.Payload[payloadOffset:payloadOffset+outChunkSize])
			payloadSize -= outChunkSize
			offset += outChunkSize
			payloadOffset += outChunkSize

			copy(chunks[offset:], bh3)
			offset += len(bh3)

			if useExtTimestamp {
				binary.BigEndian.PutUint32(chunks[offset:offset+4], uint32(p.Header.Timestamp))
				offset += 4
			}
		} else {
			copy(chunks[offset:], p.Payload[payloadOffset:payloadOffset+payloadSize])
			offset += payloadSize
			payloadOffset += payloadSize
			payloadSize = 0
		}
	}

	return chunks
}
