package conn

import (
	"errors"
	"io"

	"github.com/nova-stream/rtmprelay/internal/amf0"
	"github.com/nova-stream/rtmprelay/internal/callback"
	"github.com/nova-stream/rtmprelay/internal/hub"
	"github.com/nova-stream/rtmprelay/internal/rtmp"
)

// servePublish runs the steady-state loop for a registered publisher
// (§4.4.4): media messages are forwarded into the stream's hub; control
// commands are handled per role; FCUnpublish/any-FlashPublish-command
// triggers a republish, which restarts identification on the same
// connection.
func (c *Conn) servePublish() error {
	key := c.req.StreamKey()

	if c.deps.Coordinator != nil {
		res := c.deps.Coordinator.RequestPublish(c.req.App, c.req.StreamName, c.ip)
		if !res.Accepted {
			return errPublishDenied
		}
		c.streamID = res.StreamID
	}

	if c.deps.Callback != nil && c.deps.Callback.Enabled() {
		streamID, ok := c.deps.Callback.Start(callback.StartParams{
			SessionID: c.sessionID,
			IP:        c.ip,
			Channel:   c.req.App,
			Key:       c.req.StreamName,
			RTMPHost:  c.deps.RTMPHost,
			RTMPPort:  c.deps.RTMPPort,
		})
		if !ok {
			return errPublishDenied
		}
		if streamID != "" {
			c.streamID = streamID
		}
	}

	pub, err := c.deps.Broker.RegisterPublisher(key)
	if err != nil {
		return err
	}
	c.publisher = pub

	if c.deps.Registry != nil {
		c.deps.Registry.Register(c.req.App, c.streamID, func() { c.raw.Close() })
	}

	if c.deps.Log != nil {
		c.deps.Log.Request(c.sessionID, c.ip, "PUBLISH '"+key+"'")
	}

	for {
		p, cmd, err := c.readCommand()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if cmd != nil {
			republish, err := c.handlePublishCommand(*cmd)
			if err != nil {
				return err
			}
			if republish {
				c.deps.Broker.UnregisterPublisher(c.publisher.Key)
				c.publisher = nil
				if err := c.identify(); err != nil {
					return err
				}
				return c.servePublish()
			}
			continue
		}

		c.forwardMedia(p)
	}
}

var errPublishDenied = errors.New("conn: publish request denied")

func (c *Conn) forwardMedia(p *rtmp.Packet) {
	if p == nil || c.publisher == nil {
		return
	}

	var frameType uint32
	switch p.Header.PacketType {
	case rtmp.TypeAudio:
		frameType = rtmp.TypeAudio
		if c.stats != nil {
			c.stats.IncAudio()
		}
	case rtmp.TypeVideo:
		frameType = rtmp.TypeVideo
		if c.stats != nil {
			c.stats.IncVideo()
		}
	case rtmp.TypeData:
		frameType = rtmp.TypeData
	default:
		return
	}

	if c.stats != nil {
		c.stats.AddRecvBytes(uint64(len(p.Payload)))
	}

	c.publisher.Hub.Send(hub.Frame{
		Type:      frameType,
		Timestamp: p.Header.Timestamp,
		Payload:   p.Payload,
	})
}

// handlePublishCommand handles a command arriving during steady-state
// publish, returning true if it signals a republish.
func (c *Conn) handlePublishCommand(cmd amf0.Command) (bool, error) {
	switch c.role {
	case RoleFmlePublish, RoleHaivisionPublish:
		if cmd.Name == "FCUnpublish" {
			transID := cmd.GetArg("transId").GetDouble()

			onFCUnpublish := rtmp.StatusCommand("onFCUnpublish", 0,
				rtmp.InfoObject("status", "NetStream.Unpublish.Success", "Stream unpublished."))
			if err := c.writer.WriteCommand(1, onFCUnpublish); err != nil {
				return false, err
			}
			if err := c.sendNullResult(transID); err != nil {
				return false, err
			}
			onStatus := rtmp.StatusCommand("onStatus", 0,
				rtmp.InfoObject("status", "NetStream.Unpublish.Success", "Stream unpublished."))
			if err := c.writer.WriteCommand(1, onStatus); err != nil {
				return false, err
			}
			return true, nil
		}
		if tid := cmd.GetArg("transId").GetDouble(); tid != 0 {
			return false, c.sendNullResult(tid)
		}
		return false, nil

	case RoleFlashPublish:
		return true, nil
	}

	return false, nil
}
