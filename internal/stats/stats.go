// Package stats tracks per-connection byte and message counters and emits
// lifecycle events to an external statistics sink, per the core's
// CreateConn/UpdateConn/DeleteConn contract. The sink itself is out of
// scope; this package only defines the events and the sampling cadence.
package stats

import (
	"sync/atomic"
	"time"
)

// Sink receives lifecycle and periodic sampling events. Implementations
// are expected to forward these to whatever metrics system is deployed;
// nil fields are valid and simply skip that event type.
type Sink struct {
	OnCreate func(connID, streamKey, connType string)
	OnUpdate func(connID string, recvBytes, sendBytes uint64, audioCount, videoCount uint64)
	OnDelete func(connID string)
}

// SampleInterval is the cadence at which UpdateConn events are emitted for
// an active connection.
const SampleInterval = 5 * time.Second

// Conn accumulates counters for one connection and periodically reports
// them to a Sink until Close stops the sampling loop.
type Conn struct {
	id   string
	sink Sink

	recvBytes  uint64
	sendBytes  uint64
	audioCount uint64
	videoCount uint64

	stop chan struct{}
	done chan struct{}
}

// NewConn registers a connection with the sink (emitting OnCreate) and
// starts its periodic sampling loop.
func NewConn(id, streamKey, connType string, sink Sink) *Conn {
	c := &Conn{
		id:   id,
		sink: sink,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	if sink.OnCreate != nil {
		sink.OnCreate(id, streamKey, connType)
	}

	go c.runSampler()

	return c
}

func (c *Conn) runSampler() {
	defer close(c.done)

	ticker := time.NewTicker(SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.report()
		}
	}
}

func (c *Conn) report() {
	if c.sink.OnUpdate == nil {
		return
	}
	c.sink.OnUpdate(
		c.id,
		atomic.LoadUint64(&c.recvBytes),
		atomic.LoadUint64(&c.sendBytes),
		atomic.LoadUint64(&c.audioCount),
		atomic.LoadUint64(&c.videoCount),
	)
}

// AddRecvBytes accumulates n bytes read from the connection.
func (c *Conn) AddRecvBytes(n uint64) { atomic.AddUint64(&c.recvBytes, n) }

// AddSendBytes accumulates n bytes written to the connection.
func (c *Conn) AddSendBytes(n uint64) { atomic.AddUint64(&c.sendBytes, n) }

// IncAudio counts one inbound/outbound audio message.
func (c *Conn) IncAudio() { atomic.AddUint64(&c.audioCount, 1) }

// IncVideo counts one inbound/outbound video message.
func (c *Conn) IncVideo() { atomic.AddUint64(&c.videoCount, 1) }

// Close stops the sampling loop and emits a final OnDelete event.
func (c *Conn) Close() {
	close(c.stop)
	<-c.done
	if c.sink.OnDelete != nil {
		c.sink.OnDelete(c.id)
	}
}
