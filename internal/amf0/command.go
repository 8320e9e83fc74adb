package amf0

import "strconv"

// Command is a decoded/encoded RTMP AMF0 "invoke" message: a command name
// followed by a transaction id and a positional list of further arguments.
// Both encode (building a response) and decode (parsing a request) go
// through the same ordered Args/names pair so wire order is preserved.
type Command struct {
	Name  string
	Args  []*Value
	names []string
}

// NewCommand starts a new outgoing command with the given name.
func NewCommand(name string) Command {
	return Command{Name: name}
}

// Set appends a named argument, preserving call order for Encode.
func (c *Command) Set(name string, v *Value) {
	c.Args = append(c.Args, v)
	c.names = append(c.names, name)
}

// GetArg looks a named argument up, returning Undefined (never nil) if the
// command carries no argument under that name.
func (c *Command) GetArg(name string) *Value {
	for i, n := range c.names {
		if n == name {
			return c.Args[i]
		}
	}
	return Undefined()
}

// String renders the command for debug logging.
func (c *Command) String() string {
	s := c.Name + "("
	for i, v := range c.Args {
		if i > 0 {
			s += ", "
		}
		s += c.names[i] + "=" + v.String()
	}
	return s + ")"
}

// Encode serializes the command as a sequence of AMF0 values: name first,
// then every argument in the order it was Set.
func (c *Command) Encode() []byte {
	nameVal := New(TypeString)
	nameVal.Str = c.Name

	out := Encode(nameVal)
	for _, v := range c.Args {
		out = append(out, Encode(*v)...)
	}
	return out
}

// commandArgNames gives the canonical field name for each positional
// argument of a known incoming RTMP command, in wire order (after the
// command name itself, which is read separately).
var commandArgNames = map[string][]string{
	"connect":       {"transId", "cmdObj"},
	"createStream":  {"transId", "cmdObj"},
	"publish":       {"transId", "cmdObj", "streamName", "publishType"},
	"play":          {"transId", "cmdObj", "streamName", "start", "duration", "reset"},
	"play2":         {"transId", "cmdObj", "params"},
	"pause":         {"transId", "cmdObj", "pause", "ms"},
	"deleteStream":  {"transId", "cmdObj", "streamId"},
	"closeStream":   {"transId", "cmdObj"},
	"receiveAudio":  {"transId", "cmdObj", "bool"},
	"receiveVideo":  {"transId", "cmdObj", "bool"},
	"releaseStream": {"transId", "cmdObj", "streamName"},
	"FCPublish":     {"transId", "cmdObj", "streamName"},
	"FCUnpublish":   {"transId", "cmdObj", "streamName"},
}

// DecodeCommand decodes an AMF0 invoke payload into a Command, assigning
// canonical argument names for the command types the relay understands.
// Unknown commands still decode positionally as arg0, arg1, ...
func DecodeCommand(payload []byte) Command {
	s := NewDecodingStream(payload)

	nameVal := s.ReadOne()
	cmd := Command{Name: nameVal.GetString()}

	names, known := commandArgNames[cmd.Name]

	i := 0
	for !s.IsEnded() {
		v := s.ReadOne()
		var name string
		if known && i < len(names) {
			name = names[i]
		} else {
			name = "arg" + strconv.Itoa(i)
		}
		cmd.Set(name, &v)
		i++
	}

	return cmd
}

// Data is a decoded/encoded RTMP AMF0 data message ("notify"): a tag string
// followed by a positional list of further values.
type Data struct {
	Tag   string
	Args  []*Value
	names []string
}

// NewData starts a new outgoing data message with the given tag.
func NewData(tag string) Data {
	return Data{Tag: tag}
}

// Set appends a named argument, preserving call order for Encode.
func (d *Data) Set(name string, v *Value) {
	d.Args = append(d.Args, v)
	d.names = append(d.names, name)
}

// GetArg looks a named argument up, returning Undefined (never nil) if the
// message carries no argument under that name.
func (d *Data) GetArg(name string) *Value {
	for i, n := range d.names {
		if n == name {
			return d.Args[i]
		}
	}
	return Undefined()
}

// String renders the data message for debug logging.
func (d *Data) String() string {
	s := d.Tag + "("
	for i, v := range d.Args {
		if i > 0 {
			s += ", "
		}
		s += d.names[i] + "=" + v.String()
	}
	return s + ")"
}

// Encode serializes the data message as a sequence of AMF0 values: tag
// first, then every argument in the order it was Set.
func (d *Data) Encode() []byte {
	tagVal := New(TypeString)
	tagVal.Str = d.Tag

	out := Encode(tagVal)
	for _, v := range d.Args {
		out = append(out, Encode(*v)...)
	}
	return out
}

// dataArgNames mirrors commandArgNames for data messages.
var dataArgNames = map[string][]string{
	"@setDataFrame":     {"frameTag", "dataObj"},
	"|RtmpSampleAccess": {"bool1", "bool2"},
}

// DecodeData decodes an AMF0 notify payload into a Data message.
func DecodeData(payload []byte) Data {
	s := NewDecodingStream(payload)

	tagVal := s.ReadOne()
	data := Data{Tag: tagVal.GetString()}

	names, known := dataArgNames[data.Tag]

	i := 0
	for !s.IsEnded() {
		v := s.ReadOne()
		var name string
		if known && i < len(names) {
			name = names[i]
		} else {
			name = "arg" + strconv.Itoa(i)
		}
		data.Set(name, &v)
		i++
	}

	return data
}
