package rtmp

import "github.com/nova-stream/rtmprelay/internal/amf0"

// WriteCommand sends an AMF0 invoke message on the given stream id.
func (w *Writer) WriteCommand(streamID uint32, cmd amf0.Command) error {
	payload := cmd.Encode()
	p := Blank()
	p.Header.Fmt = ChunkType0
	p.Header.CSID = ChannelInvoke
	p.Header.PacketType = TypeInvoke
	p.Header.StreamID = streamID
	p.Header.Length = uint32(len(payload))
	p.Payload = payload
	return w.WritePacket(&p)
}

// WriteData sends an AMF0 notify (data) message on the given stream id,
// used for onStatus-adjacent metadata echoes such as onMetaData.
func (w *Writer) WriteData(streamID uint32, data amf0.Data) error {
	payload := data.Encode()
	p := Blank()
	p.Header.Fmt = ChunkType0
	p.Header.CSID = ChannelData
	p.Header.PacketType = TypeData
	p.Header.StreamID = streamID
	p.Header.Length = uint32(len(payload))
	p.Payload = payload
	return w.WritePacket(&p)
}

// WriteMedia sends a raw audio or video payload (packetType TypeAudio or
// TypeVideo) at the given timestamp, preserving the byte-for-byte payload
// received from the publisher.
func (w *Writer) WriteMedia(packetType uint32, streamID uint32, timestamp int64, payload []byte) error {
	p := Blank()
	p.Header.Fmt = ChunkType0
	if packetType == TypeAudio {
		p.Header.CSID = ChannelAudio
	} else {
		p.Header.CSID = ChannelVideo
	}
	p.Header.PacketType = packetType
	p.Header.StreamID = streamID
	p.Header.Timestamp = timestamp
	p.Header.Length = uint32(len(payload))
	p.Payload = payload
	return w.WritePacket(&p)
}

// WriteRawPayload sends a pre-encoded audio, video, or data payload
// byte-for-byte, picking the conventional channel id for its packet type.
// Used by the subscriber fan-out path, where frames arrive from the hub
// already framed and must not be re-decoded.
func (w *Writer) WriteRawPayload(packetType uint32, streamID uint32, timestamp int64, payload []byte) error {
	p := Blank()
	p.Header.Fmt = ChunkType0
	switch packetType {
	case TypeAudio:
		p.Header.CSID = ChannelAudio
	case TypeVideo:
		p.Header.CSID = ChannelVideo
	default:
		p.Header.CSID = ChannelData
	}
	p.Header.PacketType = packetType
	p.Header.StreamID = streamID
	p.Header.Timestamp = timestamp
	p.Header.Length = uint32(len(payload))
	p.Payload = payload
	return w.WritePacket(&p)
}

// StatusCommand builds an onStatus/result-shaped command, the common
// response envelope for connect/createStream/publish/play acknowledgements.
func StatusCommand(name string, transID float64, info map[string]*amf0.Value) amf0.Command {
	cmd := amf0.NewCommand(name)

	tid := amf0.New(amf0.TypeNumber)
	tid.SetFloat(transID)
	cmd.Set("transId", &tid)

	null := amf0.New(amf0.TypeNull)
	cmd.Set("cmdObj", &null)

	obj := amf0.New(amf0.TypeObject)
	obj.Object = info
	cmd.Set("info", &obj)

	return cmd
}

// InfoObject builds the {level, code, description} object used by onStatus
// replies.
func InfoObject(level, code, description string) map[string]*amf0.Value {
	lv := amf0.New(amf0.TypeString)
	lv.Str = level
	cv := amf0.New(amf0.TypeString)
	cv.Str = code
	dv := amf0.New(amf0.TypeString)
	dv.Str = description

	return map[string]*amf0.Value{
		"level":       &lv,
		"code":        &cv,
		"description": &dv,
	}
}
