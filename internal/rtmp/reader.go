package rtmp

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrChunkStreamLimit bounds how many distinct chunk stream ids a single
// connection may multiplex, guarding against a hostile peer exhausting
// memory with one-byte-per-csid packets.
var ErrChunkStreamLimit = errors.New("rtmp: too many chunk streams")

const maxChunkStreams = 64

// Reader reassembles RTMP messages out of a chunked byte stream. It is not
// safe for concurrent use; one Reader serves one connection.
type Reader struct {
	src io.Reader

	chunkSize int // negotiated max chunk payload size, set via TypeSetChunkSize

	packets map[uint32]*Packet

	ackWindow uint32
	ackSeq    uint32 // bytes read since last ack was owed

	bytesRead uint64
}

// NewReader creates a Reader that reads chunks from src, starting at the
// protocol default chunk size.
func NewReader(src io.Reader) *Reader {
	return &Reader{
		src:       src,
		chunkSize: DefaultChunkSize,
		packets:   make(map[uint32]*Packet),
	}
}

// SetChunkSize updates the max chunk payload size used when parsing
// subsequent chunks, as instructed by a peer TypeSetChunkSize message.
func (r *Reader) SetChunkSize(n int) {
	if n > 0 {
		r.chunkSize = n
	}
}

// SetAckWindow arms ack-due tracking against the given window size (0
// disables it), as instructed by a peer TypeWindowAckSize message.
func (r *Reader) SetAckWindow(n uint32) {
	r.ackWindow = n
}

// AckDue reports whether enough bytes have been read since the last
// acknowledgement to owe the peer a TypeAck, per the negotiated window
// (§4.4.1). When ok is true the accumulator resets and sequence is the
// cumulative byte count the caller should acknowledge.
func (r *Reader) AckDue() (sequence uint32, ok bool) {
	if r.ackWindow == 0 || r.ackSeq < r.ackWindow {
		return 0, false
	}
	r.ackSeq = 0
	return uint32(r.bytesRead), true
}

// BytesRead returns the total payload+header bytes consumed so far.
func (r *Reader) BytesRead() uint64 { return r.bytesRead }

func (r *Reader) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.src, buf); err != nil {
		return nil, err
	}
	r.bytesRead += uint64(n)
	r.ackSeq += uint32(n)
	return buf, nil
}

// ReadMessage blocks until a full RTMP message has been reassembled from
// one or more chunks and returns it. The returned Packet is owned by the
// caller; the Reader allocates a fresh one for the next message on the
// same chunk stream.
func (r *Reader) ReadMessage() (*Packet, error) {
	for {
		basic, err := r.readN(1)
		if err != nil {
			return nil, err
		}

		fmtID := uint32(basic[0]>>6) & 0x03
		csid := uint32(basic[0]) & 0x3f

		switch csid {
		case 0:
			if _, err := r.readN(1); err != nil {
				return nil, err
			}
			return nil, ErrLargeCsid
		case 1:
			if _, err := r.readN(2); err != nil {
				return nil, err
			}
			return nil, ErrLargeCsid
		}

		p, ok := r.packets[csid]
		if !ok {
			if len(r.packets) >= maxChunkStreams {
				return nil, ErrChunkStreamLimit
			}
			blank := Blank()
			p = &blank
			p.Header.CSID = csid
			r.packets[csid] = p
		}

		if p.Bytes == 0 {
			// Validation rule: the first chunk ever on a cid must be fmt
			// 0; fmt 1 is accepted silently (no warning is logged),
			// anything else is a protocol violation (InvalidFmtRule1).
			if !p.Started && fmtID != ChunkType0 && fmtID != ChunkType1 {
				return nil, ErrInvalidFmtRule1
			}

			p.Header.Fmt = fmtID
			if err := r.readMessageHeader(p); err != nil {
				return nil, err
			}

			p.Started = true
			p.Capacity = p.Header.Length
			p.Payload = make([]byte, p.Capacity)
		} else {
			// A chunk stream id with a partially-assembled message must
			// not see another fmt-0 chunk (InvalidFmtRule2). fmt-1/2
			// chunks mid-message re-declare the timestamp delta and, for
			// fmt<=1, the payload length, which must match what was
			// already recorded for this message (Rule1). fmt-3 chunks
			// re-send the extended timestamp when one is in effect, and
			// it must match the value read for the message's first chunk.
			switch fmtID {
			case ChunkType0:
				return nil, ErrInvalidFmtRule2

			case ChunkType1:
				declaredLength := p.Header.Length
				p.Header.Fmt = fmtID
				if err := r.readMessageHeader(p); err != nil {
					return nil, err
				}
				if p.Header.Length != declaredLength {
					return nil, ErrInvalidMsgLengthRule1
				}

			case ChunkType2:
				p.Header.Fmt = fmtID
				if err := r.readMessageHeader(p); err != nil {
					return nil, err
				}

			case ChunkType3:
				if p.ExtTimestamp {
					ext, err := r.readN(4)
					if err != nil {
						return nil, err
					}
					if binary.BigEndian.Uint32(ext) != p.ExtTimestampValue {
						return nil, ErrInvalidExTimestamp
					}
				}
			}
		}

		toRead := int(p.Capacity - p.Bytes)
		if toRead > r.chunkSize {
			toRead = r.chunkSize
		}

		if toRead > 0 {
			chunk, err := r.readN(toRead)
			if err != nil {
				return nil, err
			}
			copy(p.Payload[p.Bytes:], chunk)
			p.Bytes += uint32(toRead)
		}

		if p.Bytes >= p.Capacity {
			done := *p
			done.Payload = p.Payload[:p.Capacity]
			done.Header.Timestamp &= 0x7fffffff
			p.Bytes = 0
			return &done, nil
		}
	}
}

func (r *Reader) readMessageHeader(p *Packet) error {
	switch p.Header.Fmt {
	case ChunkType0:
		b, err := r.readN(11)
		if err != nil {
			return err
		}
		ts := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
		p.Header.Length = uint32(b[3])<<16 | uint32(b[4])<<8 | uint32(b[5])
		p.Header.PacketType = uint32(b[6])
		p.Header.StreamID = binary.LittleEndian.Uint32(b[7:11])

		p.ExtTimestamp = ts == 0xffffff
		if p.ExtTimestamp {
			ext, err := r.readN(4)
			if err != nil {
				return err
			}
			ts = binary.BigEndian.Uint32(ext)
			p.ExtTimestampValue = ts
		}
		p.Header.Timestamp = int64(ts)
		p.Clock = int64(ts)

	case ChunkType1:
		b, err := r.readN(7)
		if err != nil {
			return err
		}
		delta := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
		p.Header.Length = uint32(b[3])<<16 | uint32(b[4])<<8 | uint32(b[5])
		p.Header.PacketType = uint32(b[6])

		p.ExtTimestamp = delta == 0xffffff
		if p.ExtTimestamp {
			ext, err := r.readN(4)
			if err != nil {
				return err
			}
			delta = binary.BigEndian.Uint32(ext)
			p.ExtTimestampValue = delta
		}
		p.Clock += int64(delta)
		p.Header.Timestamp = p.Clock

	case ChunkType2:
		b, err := r.readN(3)
		if err != nil {
			return err
		}
		delta := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])

		p.ExtTimestamp = delta == 0xffffff
		if p.ExtTimestamp {
			ext, err := r.readN(4)
			if err != nil {
				return err
			}
			delta = binary.BigEndian.Uint32(ext)
			p.ExtTimestampValue = delta
		}
		p.Clock += int64(delta)
		p.Header.Timestamp = p.Clock

	case ChunkType3:
		// Inherits everything from the previous chunk on this csid;
		// length/type/stream id and the timestamp stay put (no delta is
		// added).
	}

	return nil
}
