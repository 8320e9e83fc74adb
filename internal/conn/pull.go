package conn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nova-stream/rtmprelay/internal/amf0"
	"github.com/nova-stream/rtmprelay/internal/broker"
	"github.com/nova-stream/rtmprelay/internal/hub"
	"github.com/nova-stream/rtmprelay/internal/logging"
	"github.com/nova-stream/rtmprelay/internal/rtmp"
	"github.com/nova-stream/rtmprelay/internal/stats"
)

const (
	pullDialTimeout    = 10 * time.Second
	pullBufferLengthMs = 1000
)

// Puller originates an upstream RTMP client connection on a subscribe
// miss, feeding the result into the broker exactly like a local publisher
// connection would (§4.4.5). Its Pull method satisfies broker.PullFunc.
type Puller struct {
	BaseURL string
	Broker  *broker.Broker
	Stats   stats.Sink
	Log     *logging.Logger
}

// Pull dials the upstream resolved from BaseURL+key, runs the client
// identification handshake, registers as the publisher for key, and pumps
// inbound media into the hub until the upstream connection ends.
func (u *Puller) Pull(key string) {
	if u.BaseURL == "" {
		u.Broker.PullFailed(key)
		return
	}

	app, streamName := splitStreamKey(key)

	addr, tcURL, err := resolveUpstream(u.BaseURL, app)
	if err != nil {
		u.Log.Error(fmt.Errorf("origin-pull %s: %w", key, err))
		u.Broker.PullFailed(key)
		return
	}

	raw, err := net.DialTimeout("tcp", addr, pullDialTimeout)
	if err != nil {
		u.Log.Error(fmt.Errorf("origin-pull %s: dial %s: %w", key, addr, err))
		u.Broker.PullFailed(key)
		return
	}
	defer raw.Close()

	if err := u.run(raw, key, app, streamName, tcURL); err != nil {
		u.Log.Error(fmt.Errorf("origin-pull %s: %w", key, err))
		u.Broker.PullFailed(key)
	}
}

func (u *Puller) run(raw net.Conn, key, app, streamName, tcURL string) error {
	if err := rtmp.ClientHandshake(raw); err != nil {
		return err
	}

	reader := rtmp.NewReader(raw)
	writer := rtmp.NewWriter(raw)

	_, err := identifyAsClient(reader, writer, app, streamName, tcURL)
	if err != nil {
		return err
	}

	pub, err := u.Broker.RegisterPublisher(key)
	if err != nil {
		return err
	}
	defer u.Broker.UnregisterPublisher(key)

	st := stats.NewConn(key, key, "origin-pull", u.Stats)
	defer st.Close()

	for {
		p, err := reader.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch p.Header.PacketType {
		case rtmp.TypeSetChunkSize:
			if len(p.Payload) >= 4 {
				n := int(beUint32(p.Payload))
				if n >= 128 && n <= 65536 {
					reader.SetChunkSize(n)
				}
			}
			continue
		case rtmp.TypeEvent, rtmp.TypeWindowAckSize, rtmp.TypeAbort, rtmp.TypeAck:
			continue
		}

		var frameType uint32
		switch p.Header.PacketType {
		case rtmp.TypeAudio:
			frameType = rtmp.TypeAudio
			st.IncAudio()
		case rtmp.TypeVideo:
			frameType = rtmp.TypeVideo
			st.IncVideo()
		case rtmp.TypeData:
			frameType = rtmp.TypeData
		case rtmp.TypeInvoke, rtmp.TypeFlexMessage:
			continue
		default:
			continue
		}

		st.AddRecvBytes(uint64(len(p.Payload)))
		pub.Hub.Send(hub.Frame{
			Type:      frameType,
			Timestamp: p.Header.Timestamp,
			Payload:   p.Payload,
		})
	}
}

// identifyAsClient runs §4.4.5's client flow: connect, createStream, play.
// It returns the numeric stream id the origin assigned to the play call.
func identifyAsClient(reader *rtmp.Reader, writer *rtmp.Writer, app, streamName, tcURL string) (float64, error) {
	connectCmd := amf0.NewCommand("connect")

	tid := amf0.New(amf0.TypeNumber)
	tid.SetFloat(1)
	connectCmd.Set("transId", &tid)

	cmdObj := amf0.New(amf0.TypeObject)
	cmdObj.Object = map[string]*amf0.Value{}
	setStringProp(cmdObj.Object, "app", app)
	setStringProp(cmdObj.Object, "flashVer", "FMLE/3.0 (compatible; rtmprelay)")
	setStringProp(cmdObj.Object, "tcUrl", tcURL)
	fpad := amf0.New(amf0.TypeBool)
	fpad.Bool = false
	cmdObj.Object["fpad"] = &fpad
	setNumberProp(cmdObj.Object, "audioCodecs", 3575)
	setNumberProp(cmdObj.Object, "videoCodecs", 252)
	setNumberProp(cmdObj.Object, "videoFunction", 1)
	setNumberProp(cmdObj.Object, "objectEncoding", 0)
	connectCmd.Set("cmdObj", &cmdObj)

	if err := writer.WriteCommand(0, connectCmd); err != nil {
		return 0, err
	}
	if err := awaitInvokeNamed(reader, writer, "_result"); err != nil {
		return 0, err
	}

	if err := writer.WriteWindowAckSize(windowAckSizeDefault); err != nil {
		return 0, err
	}

	createCmd := amf0.NewCommand("createStream")
	ctid := amf0.New(amf0.TypeNumber)
	ctid.SetFloat(2)
	createCmd.Set("transId", &ctid)
	null := amf0.New(amf0.TypeNull)
	createCmd.Set("cmdObj", &null)
	if err := writer.WriteCommand(0, createCmd); err != nil {
		return 0, err
	}

	result, err := awaitInvokeNamedReturning(reader, writer, "_result")
	if err != nil {
		return 0, err
	}
	sid := 1.0
	if v := result.GetArg("arg2"); !v.IsUndefined() {
		sid = v.GetDouble()
	}

	playCmd := amf0.NewCommand("play")
	ptid := amf0.New(amf0.TypeNumber)
	ptid.SetFloat(0)
	playCmd.Set("transId", &ptid)
	playCmd.Set("cmdObj", &null)
	nameVal := amf0.New(amf0.TypeString)
	nameVal.Str = streamName
	playCmd.Set("streamName", &nameVal)
	if err := writer.WriteCommand(uint32(sid), playCmd); err != nil {
		return 0, err
	}

	if err := writer.WriteSetBufferLength(uint32(sid), pullBufferLengthMs); err != nil {
		return 0, err
	}
	if err := writer.WriteSetChunkSize(outChunkSizeDefault); err != nil {
		return 0, err
	}

	return sid, nil
}

// awaitInvokeNamed consumes messages until an invoke named `name` arrives,
// discarding anything else (chunk-control messages were already applied
// by the reader; everything else is simply ignored at this stage).
func awaitInvokeNamed(reader *rtmp.Reader, writer *rtmp.Writer, name string) error {
	_, err := awaitInvokeNamedReturning(reader, writer, name)
	return err
}

func awaitInvokeNamedReturning(reader *rtmp.Reader, writer *rtmp.Writer, name string) (*amf0.Command, error) {
	for {
		p, err := reader.ReadMessage()
		if err != nil {
			return nil, err
		}
		if p.Header.PacketType == rtmp.TypeSetChunkSize && len(p.Payload) >= 4 {
			n := int(beUint32(p.Payload))
			if n >= 128 && n <= 65536 {
				reader.SetChunkSize(n)
			}
			continue
		}
		if p.Header.PacketType != rtmp.TypeInvoke {
			continue
		}
		cmd := amf0.DecodeCommand(p.Payload)
		if cmd.Name == name {
			return &cmd, nil
		}
		if cmd.Name == "_error" {
			return nil, fmt.Errorf("origin-pull: upstream returned _error for %s", name)
		}
	}
}

// splitStreamKey reverses Request.StreamKey's "/app/stream" form.
func splitStreamKey(key string) (app, streamName string) {
	trimmed := strings.TrimPrefix(key, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// resolveUpstream builds the dial address and tcUrl for an origin-pull
// against base (e.g. "rtmp://origin.example.com:1935").
func resolveUpstream(base, app string) (addr, tcURL string, err error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", "", err
	}
	host := u.Hostname()
	if host == "" {
		return "", "", fmt.Errorf("origin-pull base URL %q has no host", base)
	}
	port := u.Port()
	if port == "" {
		port = "1935"
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", "", fmt.Errorf("origin-pull base URL %q has invalid port", base)
	}

	addr = net.JoinHostPort(host, port)
	tcURL = fmt.Sprintf("rtmp://%s/%s", addr, app)
	return addr, tcURL, nil
}
