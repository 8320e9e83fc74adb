// Package conn implements the per-connection RTMP state machine: handshake,
// identification (connect / createStream / publish / play), role-specific
// setup, and the steady-state command and media dispatch loop that follows.
package conn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/nova-stream/rtmprelay/internal/access"
	"github.com/nova-stream/rtmprelay/internal/amf0"
	"github.com/nova-stream/rtmprelay/internal/broker"
	"github.com/nova-stream/rtmprelay/internal/callback"
	"github.com/nova-stream/rtmprelay/internal/connset"
	"github.com/nova-stream/rtmprelay/internal/coordinator"
	"github.com/nova-stream/rtmprelay/internal/hub"
	"github.com/nova-stream/rtmprelay/internal/logging"
	"github.com/nova-stream/rtmprelay/internal/registry"
	"github.com/nova-stream/rtmprelay/internal/rtmp"
	"github.com/nova-stream/rtmprelay/internal/stats"
)

// Role is the connection's negotiated purpose, set once identification
// completes.
type Role int

const (
	RoleNone Role = iota
	RolePlay
	RoleFmlePublish
	RoleHaivisionPublish
	RoleFlashPublish
)

const (
	windowAckSizeDefault = 2500000
	outChunkSizeDefault  = 60000
	createStreamMaxDepth = 3
)

// Deps are the external collaborators a Conn is constructed with. None of
// them are process-wide singletons: every connection gets its own
// reference, passed in at construction, per the explicit-dependencies
// design note.
type Deps struct {
	Broker        *broker.Broker
	Callback      *callback.Client
	Coordinator   *coordinator.Coordinator
	Registry      *registry.Registry
	Conns         *connset.Set
	PlayWhitelist *access.PlayWhitelist
	Stats         stats.Sink
	Log           *logging.Logger

	StreamIDMaxLength int
	RTMPHost          string
	RTMPPort          int
}

// Conn runs the state machine for one accepted RTMP connection.
type Conn struct {
	id        string // stable key used for hub subscriptions and stats
	sessionID uint64 // numeric id used in log lines, matching the teacher's session numbering
	ip        string
	raw       net.Conn

	reader *rtmp.Reader
	writer *rtmp.Writer

	deps Deps

	req  Request
	role Role

	publisher *broker.Publisher
	sub       *hub.Subscription

	streamID string // external stream id, assigned by callback/coordinator
	paused   bool

	stats *stats.Conn
}

// New wraps an accepted connection, ready for Serve. sessionID should be
// unique for the process's lifetime; it is used both as the hub/stats key
// and in log lines.
func New(sessionID uint64, raw net.Conn, deps Deps) *Conn {
	host, _, _ := net.SplitHostPort(raw.RemoteAddr().String())
	if host == "" {
		host = raw.RemoteAddr().String()
	}
	return &Conn{
		id:        strconv.FormatUint(sessionID, 10),
		sessionID: sessionID,
		ip:        host,
		raw:       raw,
		reader:    rtmp.NewReader(raw),
		writer:    rtmp.NewWriter(raw),
		deps:      deps,
	}
}

// Serve runs the connection to completion: handshake, identification, the
// role-specific steady-state loop, then cleanup. It always returns once the
// connection ends, having unregistered from the broker if it ever
// registered.
func (c *Conn) Serve() (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.deps.Log.Error(fmt.Errorf("conn: recovered panic: %v", r))
		}
	}()
	defer c.cleanup()

	if c.deps.Conns != nil {
		c.deps.Conns.Add(c.sessionID, c)
		defer c.deps.Conns.Remove(c.sessionID)
	}

	if err := rtmp.Handshake(c.raw); err != nil {
		return err
	}

	if err := c.identify(); err != nil {
		c.deps.Log.DebugSession(c.sessionID, c.ip, "identification failed: "+err.Error())
		return err
	}

	c.stats = stats.NewConn(c.id, c.req.StreamKey(), c.connTypeLabel(), c.deps.Stats)

	switch c.role {
	case RolePlay:
		return c.servePlay()
	case RoleFmlePublish, RoleHaivisionPublish, RoleFlashPublish:
		return c.servePublish()
	default:
		return ErrUnexpectedMessage
	}
}

// Ping sends a PingRequest user control event, satisfying connset.Pingable.
// The client is expected to answer with PingResponse, which
// handleUserControl simply discards; the point is keeping NAT/load-balancer
// idle timeouts from closing the socket.
func (c *Conn) Ping() error {
	return c.writer.WriteUserControl(6, uint32(time.Now().UnixMilli()))
}

func (c *Conn) connTypeLabel() string {
	switch c.req.ConnType {
	case ConnPlay:
		return "play"
	case ConnFlvPlay:
		return "flv-play"
	case ConnFmlePublish:
		return "fmle-publish"
	case ConnHaivisionPublish:
		return "haivision-publish"
	case ConnFlashPublish:
		return "flash-publish"
	case ConnPull:
		return "pull"
	default:
		return "unknown"
	}
}

func (c *Conn) cleanup() {
	if c.sub != nil {
		c.sub.Leave()
		c.sub = nil
	}
	if c.publisher != nil {
		c.deps.Broker.UnregisterPublisher(c.publisher.Key)
		if c.deps.Registry != nil {
			c.deps.Registry.Unregister(c.req.App)
		}
		if c.deps.Coordinator != nil && c.deps.Coordinator.Enabled() {
			c.deps.Coordinator.PublishEnd(c.req.App, c.streamID)
		}
		if c.deps.Callback != nil {
			c.deps.Callback.Stop(callback.StopParams{
				SessionID: c.sessionID,
				IP:        c.ip,
				Channel:   c.req.App,
				Key:       c.req.StreamName,
				StreamID:  c.streamID,
			})
		}
		c.publisher = nil
	}
	if c.stats != nil {
		c.stats.Close()
	}
	c.raw.Close()
}

// readCommand reads the next message, decoding it into an AMF0 command if
// it is one (AMF0 invoke, or AMF3 invoke after the one-byte AMF3 prefix is
// skipped per spec §4.3). Non-command messages are returned with cmd=nil
// so callers can still observe and handle media/control traffic.
func (c *Conn) readCommand() (*rtmp.Packet, *amf0.Command, error) {
	for {
		p, err := c.reader.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil, io.EOF
			}
			return nil, nil, err
		}

		if seq, due := c.reader.AckDue(); due {
			if err := c.writer.WriteAck(seq); err != nil {
				return nil, nil, err
			}
		}

		if handled, err := c.handleCommonControl(p); handled {
			if err != nil {
				return nil, nil, err
			}
			continue
		}

		switch p.Header.PacketType {
		case rtmp.TypeInvoke:
			cmd := amf0.DecodeCommand(p.Payload)
			return p, &cmd, nil
		case rtmp.TypeFlexMessage:
			if len(p.Payload) < 1 {
				continue
			}
			cmd := amf0.DecodeCommand(p.Payload[1:])
			return p, &cmd, nil
		default:
			return p, nil, nil
		}
	}
}

// handleCommonControl applies §4.4.1's always-on control handling,
// reporting whether it fully consumed the message.
func (c *Conn) handleCommonControl(p *rtmp.Packet) (bool, error) {
	switch p.Header.PacketType {
	case rtmp.TypeSetChunkSize:
		n := int(beUint32(p.Payload))
		if n < 128 || n > 65536 {
			return true, ErrInvalidChunkSize
		}
		c.reader.SetChunkSize(n)
		return true, nil

	case rtmp.TypeWindowAckSize:
		c.reader.SetAckWindow(beUint32(p.Payload))
		return true, nil

	case rtmp.TypeEvent:
		return true, c.handleUserControl(p)

	case rtmp.TypeAbort, rtmp.TypeAck:
		return true, nil
	}

	return false, nil
}

func (c *Conn) handleUserControl(p *rtmp.Packet) error {
	if len(p.Payload) < 2 {
		return nil
	}
	event := beUint16(p.Payload)
	switch event {
	case 3: // SetBufferLength
		// Buffer length is informational; nothing to act on.
		return nil
	case 6: // PingRequest
		if len(p.Payload) < 6 {
			return nil
		}
		data := p.Payload[2:6]
		return c.writer.WriteUserControl(7, beUint32(data)) // PingResponse
	}
	return nil
}

func beUint16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func (c *Conn) sendNullResult(transID float64) error {
	cmd := amf0.NewCommand("_result")
	tid := amf0.New(amf0.TypeNumber)
	tid.SetFloat(transID)
	cmd.Set("transId", &tid)
	null := amf0.New(amf0.TypeNull)
	cmd.Set("cmdObj", &null)
	return c.writer.WriteCommand(0, cmd)
}
