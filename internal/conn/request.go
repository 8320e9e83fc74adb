package conn

import (
	"net/url"
	"strings"
)

// ConnType tags the kind of client a connection turned out to be, mirroring
// the publish dialect flavors the various encoders use.
type ConnType int

const (
	ConnUnknown ConnType = iota
	ConnPlay
	ConnFlvPlay
	ConnFmlePublish
	ConnFlashPublish
	ConnHaivisionPublish
	ConnPull
)

// Request is the parsed publisher/subscriber intent extracted from the
// connect/publish/play command sequence.
type Request struct {
	TCUrl      string
	App        string
	StreamName string
	ConnType   ConnType
	Duration   float64
}

// StreamKey derives the canonical "/app/stream" identity the broker keys
// hubs by.
func (r Request) StreamKey() string {
	app := strings.Trim(r.App, "/")
	name := strings.Trim(r.StreamName, "/")
	return "/" + app + "/" + name
}

// parseApp extracts the application name from a tcUrl of the form
// rtmp://host[:port]/app.
func parseApp(tcURL string) (string, error) {
	u, err := url.Parse(tcURL)
	if err != nil {
		return "", ErrInvalidTcURL
	}
	app := strings.Trim(u.Path, "/")
	if app == "" {
		return "", ErrInvalidTcURL
	}
	return app, nil
}

// StreamKeyFromFLVPath derives a stream key from an HTTP-FLV progressive
// playback path of the form /app/stream.flv (spec §3), for the HTTP
// layer's own subscriber-join call against the broker; the core doesn't
// host an HTTP server itself (spec §1 Non-goals) but owns this derivation
// since it defines the stream-key identity space.
func StreamKeyFromFLVPath(path string) string {
	trimmed := strings.TrimSuffix(strings.Trim(path, "/"), ".flv")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return "/" + trimmed
	}
	return "/" + parts[0] + "/" + parts[1]
}
