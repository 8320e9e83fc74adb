// Package ioutil wraps a raw network connection with the byte-counting and
// deadline plumbing the rest of the relay needs: inbound/outbound totals
// for ack and bitrate bookkeeping, and a single place to apply read/write
// timeouts.
package ioutil

import (
	"io"
	"net"
	"sync/atomic"
	"time"
)

// Conn wraps a net.Conn, tracking total bytes read and written so callers
// can derive ack thresholds and bitrate samples without instrumenting
// every call site.
type Conn struct {
	net.Conn

	bytesIn  uint64
	bytesOut uint64

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// New wraps c, applying readTimeout/writeTimeout (zero disables) to every
// Read/Write call.
func New(c net.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{Conn: c, readTimeout: readTimeout, writeTimeout: writeTimeout}
}

func (c *Conn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	n, err := c.Conn.Read(b)
	atomic.AddUint64(&c.bytesIn, uint64(n))
	return n, err
}

func (c *Conn) Write(b []byte) (int, error) {
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	n, err := c.Conn.Write(b)
	atomic.AddUint64(&c.bytesOut, uint64(n))
	return n, err
}

// BytesIn returns the total bytes read so far.
func (c *Conn) BytesIn() uint64 { return atomic.LoadUint64(&c.bytesIn) }

// BytesOut returns the total bytes written so far.
func (c *Conn) BytesOut() uint64 { return atomic.LoadUint64(&c.bytesOut) }

var _ io.ReadWriter = (*Conn)(nil)
