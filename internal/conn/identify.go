package conn

import (
	"github.com/nova-stream/rtmprelay/internal/amf0"
	"github.com/nova-stream/rtmprelay/internal/rtmp"
)

// identify runs the server identification flow (§4.4.2): AwaitConnect,
// then AwaitRole, ending with the role-start sequence for whatever role
// was negotiated.
func (c *Conn) identify() error {
	if err := c.awaitConnect(); err != nil {
		return err
	}
	if err := c.awaitRole(0); err != nil {
		return err
	}
	return c.roleStart()
}

func (c *Conn) awaitConnect() error {
	_, cmd, err := c.readCommand()
	if err != nil {
		return err
	}
	if cmd == nil || cmd.Name != "connect" {
		return ErrUnexpectedMessage
	}

	cmdObj := cmd.GetArg("cmdObj")
	tcURL := cmdObj.GetProperty("tcUrl").GetString()
	if tcURL == "" {
		return ErrInvalidConnectApp
	}

	app, err := parseApp(tcURL)
	if err != nil {
		return err
	}

	objectEncoding := cmdObj.GetProperty("objectEncoding")

	c.req = Request{TCUrl: tcURL, App: app}

	if err := c.writer.WriteWindowAckSize(windowAckSizeDefault); err != nil {
		return err
	}
	if err := c.writer.WriteSetPeerBandwidth(windowAckSizeDefault, 2); err != nil {
		return err
	}
	if err := c.writer.WriteSetChunkSize(outChunkSizeDefault); err != nil {
		return err
	}

	props := amf0.New(amf0.TypeObject)
	props.Object = map[string]*amf0.Value{}
	setStringProp(props.Object, "fmsVer", "FMS/3,0,1,123")
	setNumberProp(props.Object, "capabilities", 31)

	status := amf0.New(amf0.TypeObject)
	status.Object = map[string]*amf0.Value{}
	setStringProp(status.Object, "level", "status")
	setStringProp(status.Object, "code", "NetConnection.Connect.Success")
	setStringProp(status.Object, "description", "Connection succeeded.")
	if !objectEncoding.IsUndefined() {
		oe := amf0.New(amf0.TypeNumber)
		oe.SetFloat(objectEncoding.GetDouble())
		status.Object["objectEncoding"] = &oe
	}

	result := amf0.NewCommand("_result")
	tid := amf0.New(amf0.TypeNumber)
	tid.SetFloat(1)
	result.Set("transId", &tid)
	result.Set("cmdObj", &props)
	result.Set("info", &status)
	if err := c.writer.WriteCommand(0, result); err != nil {
		return err
	}

	bwDone := amf0.NewCommand("onBWDone")
	zero := amf0.New(amf0.TypeNumber)
	zero.SetFloat(0)
	bwDone.Set("transId", &zero)
	null := amf0.New(amf0.TypeNull)
	bwDone.Set("cmdObj", &null)
	return c.writer.WriteCommand(0, bwDone)
}

func setStringProp(m map[string]*amf0.Value, key, val string) {
	v := amf0.New(amf0.TypeString)
	v.Str = val
	m[key] = &v
}

func setNumberProp(m map[string]*amf0.Value, key string, val float64) {
	v := amf0.New(amf0.TypeNumber)
	v.SetFloat(val)
	m[key] = &v
}

// awaitRole loops consuming commands until a role is settled, per §4.4.2
// state AwaitRole. depth tracks createStream recursion (§9: bounded to 3).
func (c *Conn) awaitRole(depth int) error {
	if depth > createStreamMaxDepth {
		return ErrCreateStreamDepth
	}

	_, cmd, err := c.readCommand()
	if err != nil {
		return err
	}
	if cmd == nil {
		return c.awaitRole(depth)
	}

	switch cmd.Name {
	case "play":
		name := cmd.GetArg("streamName").GetString()
		if name == "" {
			return ErrInvalidPlay
		}
		c.req.StreamName = name
		c.req.ConnType = ConnPlay
		if d := cmd.GetArg("duration"); !d.IsUndefined() {
			c.req.Duration = d.GetDouble()
		}
		c.role = RolePlay
		return nil

	case "createStream":
		transID := cmd.GetArg("transId").GetDouble()
		if err := c.replyResultNumber(transID, 1); err != nil {
			return err
		}
		return c.awaitCreateStreamFollowup(depth + 1)

	case "releaseStream":
		name := cmd.GetArg("streamName").GetString()
		if name == "" {
			return ErrReleaseStreamWithoutStream
		}
		c.req.StreamName = name
		c.req.ConnType = ConnFmlePublish
		c.role = RoleFmlePublish
		transID := cmd.GetArg("transId").GetDouble()
		undef := amf0.Undefined()
		result := amf0.NewCommand("_result")
		tid := amf0.New(amf0.TypeNumber)
		tid.SetFloat(transID)
		result.Set("transId", &tid)
		result.Set("cmdObj", undef)
		if err := c.writer.WriteCommand(0, result); err != nil {
			return err
		}
		return nil

	default:
		transID := cmd.GetArg("transId").GetDouble()
		if transID != 0 {
			if err := c.sendNullResult(transID); err != nil {
				return err
			}
		}
		return c.awaitRole(depth)
	}
}

// awaitCreateStreamFollowup handles the commands allowed after a
// createStream reply, per §4.4.2 item 2.
func (c *Conn) awaitCreateStreamFollowup(depth int) error {
	if depth > createStreamMaxDepth {
		return ErrCreateStreamDepth
	}

	_, cmd, err := c.readCommand()
	if err != nil {
		return err
	}
	if cmd == nil {
		return c.awaitCreateStreamFollowup(depth)
	}

	switch cmd.Name {
	case "play":
		name := cmd.GetArg("streamName").GetString()
		if name == "" {
			return ErrInvalidPlay
		}
		c.req.StreamName = name
		c.req.ConnType = ConnPlay
		c.role = RolePlay
		return nil

	case "publish":
		name := cmd.GetArg("streamName").GetString()
		if name == "" {
			return ErrInvalidPublish
		}
		c.req.StreamName = name
		c.req.ConnType = ConnFlashPublish
		c.role = RoleFlashPublish
		return nil

	case "FCPublish":
		name := cmd.GetArg("streamName").GetString()
		if name != "" {
			c.req.StreamName = name
		}
		c.req.ConnType = ConnHaivisionPublish
		c.role = RoleHaivisionPublish
		transID := cmd.GetArg("transId").GetDouble()
		return c.sendNullResult(transID)

	case "createStream":
		transID := cmd.GetArg("transId").GetDouble()
		if err := c.replyResultNumber(transID, 1); err != nil {
			return err
		}
		return c.awaitCreateStreamFollowup(depth + 1)

	default:
		return ErrUnexpectedMessage
	}
}

func (c *Conn) replyResultNumber(transID, value float64) error {
	cmd := amf0.NewCommand("_result")
	tid := amf0.New(amf0.TypeNumber)
	tid.SetFloat(transID)
	cmd.Set("transId", &tid)
	null := amf0.New(amf0.TypeNull)
	cmd.Set("cmdObj", &null)
	v := amf0.New(amf0.TypeNumber)
	v.SetFloat(value)
	cmd.Set("streamId", &v)
	return c.writer.WriteCommand(0, cmd)
}

// roleStart runs the role-specific startup sequence, §4.4.3.
func (c *Conn) roleStart() error {
	switch c.role {
	case RolePlay:
		return c.startPlay()
	case RoleFmlePublish:
		return c.startFmlePublish()
	case RoleHaivisionPublish:
		return c.startHaivisionPublish()
	case RoleFlashPublish:
		return c.writer.WriteCommand(1, rtmp.StatusCommand("onStatus", 0,
			rtmp.InfoObject("status", "NetStream.Publish.Start", "Publish started.")))
	}
	return ErrUnexpectedMessage
}

func (c *Conn) startPlay() error {
	if err := c.writer.WriteUserControl(rtmp.StreamBegin, 1); err != nil {
		return err
	}
	if err := c.writer.WriteCommand(1, rtmp.StatusCommand("onStatus", 0,
		rtmp.InfoObject("status", "NetStream.Play.Reset", "Playback reset."))); err != nil {
		return err
	}
	if err := c.writer.WriteCommand(1, rtmp.StatusCommand("onStatus", 0,
		rtmp.InfoObject("status", "NetStream.Play.Start", "Playback started."))); err != nil {
		return err
	}

	sampleAccess := amf0.NewData("|RtmpSampleAccess")
	t1 := amf0.New(amf0.TypeBool)
	t1.Bool = true
	t2 := amf0.New(amf0.TypeBool)
	t2.Bool = true
	sampleAccess.Set("bool1", &t1)
	sampleAccess.Set("bool2", &t2)
	if err := c.writer.WriteData(1, sampleAccess); err != nil {
		return err
	}

	return c.writer.WriteCommand(1, rtmp.StatusCommand("onStatus", 0,
		rtmp.InfoObject("status", "NetStream.Data.Start", "")))
}

// startFmlePublish implements §4.4.3's FmlePublish sequence: expect
// FCPublish, then createStream, then publish.
func (c *Conn) startFmlePublish() error {
	_, cmd, err := c.readCommand()
	if err != nil {
		return err
	}
	if cmd == nil || cmd.Name != "FCPublish" {
		return ErrUnexpectedMessage
	}
	if err := c.sendNullResult(cmd.GetArg("transId").GetDouble()); err != nil {
		return err
	}

	_, cmd, err = c.readCommand()
	if err != nil {
		return err
	}
	if cmd == nil || cmd.Name != "createStream" {
		return ErrUnexpectedMessage
	}
	if err := c.replyResultNumber(cmd.GetArg("transId").GetDouble(), 1); err != nil {
		return err
	}

	return c.awaitPublishCommand()
}

// startHaivisionPublish implements §4.4.3's HaivisionPublish sequence:
// FCPublish was already answered during identification, so only the
// publish command remains.
func (c *Conn) startHaivisionPublish() error {
	return c.awaitPublishCommand()
}

func (c *Conn) awaitPublishCommand() error {
	_, cmd, err := c.readCommand()
	if err != nil {
		return err
	}
	if cmd == nil || cmd.Name != "publish" {
		return ErrInvalidPublish
	}

	name := cmd.GetArg("streamName").GetString()
	if name != "" {
		c.req.StreamName = name
	}

	onFCPublish := rtmp.StatusCommand("onFCPublish", 0,
		rtmp.InfoObject("status", "NetStream.Publish.Start", "Publish started."))
	if err := c.writer.WriteCommand(1, onFCPublish); err != nil {
		return err
	}

	return c.writer.WriteCommand(1, rtmp.StatusCommand("onStatus", 0,
		rtmp.InfoObject("status", "NetStream.Publish.Start", "Publish started.")))
}
