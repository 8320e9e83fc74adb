package conn

import (
	"errors"
	"io"
	"net"

	"github.com/nova-stream/rtmprelay/internal/hub"
	"github.com/nova-stream/rtmprelay/internal/rtmp"
)

// subscriberMergeFlushSpanMillis is the secondary, subscriber-side merge
// window (§4.5.5): batches the hub already flushed at its own 170ms
// window are coalesced again before hitting the socket, so a slow
// reader/writer syscall pattern doesn't fragment every hub flush into its
// own TCP write.
const subscriberMergeFlushSpanMillis = 350

// servePlay runs the steady-state loop for a subscriber connection
// (§4.4.4 Play role). The client's command stream (pause/closeStream/
// deleteStream) is read on this goroutine while a second goroutine pumps
// the hub's batches out to the socket, so a paused or slow player never
// blocks command processing.
func (c *Conn) servePlay() error {
	if c.deps.PlayWhitelist != nil {
		if ip := net.ParseIP(c.ip); ip != nil && !c.deps.PlayWhitelist.Allowed(ip) {
			return ErrPlayNotWhitelisted
		}
	}

	key := c.req.StreamKey()

	sub, err := c.deps.Broker.Subscribe(key, c.id)
	if err != nil {
		return err
	}
	c.sub = sub

	if c.deps.Log != nil {
		c.deps.Log.Request(c.sessionID, c.ip, "PLAY '"+key+"'")
	}

	pauseCh := make(chan bool)
	stopCh := make(chan struct{})
	writerDone := make(chan struct{})

	go c.pumpSubscription(sub, pauseCh, stopCh, writerDone)

	defer func() {
		close(stopCh)
		<-writerDone
	}()

	for {
		_, cmd, err := c.readCommand()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if cmd == nil {
			continue
		}

		switch cmd.Name {
		case "pause":
			paused := cmd.GetArg("pause").GetBool()
			select {
			case pauseCh <- paused:
			case <-writerDone:
			}
			if err := c.ackPause(paused); err != nil {
				return err
			}

		case "closeStream", "deleteStream":
			return nil

		default:
			if tid := cmd.GetArg("transId").GetDouble(); tid != 0 {
				if err := c.sendNullResult(tid); err != nil {
					return err
				}
			}
		}
	}
}

func (c *Conn) ackPause(paused bool) error {
	if paused {
		if err := c.writer.WriteCommand(1, rtmp.StatusCommand("onStatus", 0,
			rtmp.InfoObject("status", "NetStream.Pause.Notify", "Paused live"))); err != nil {
			return err
		}
		return c.writer.WriteUserControl(rtmp.StreamEOF, 1)
	}

	if err := c.writer.WriteCommand(1, rtmp.StatusCommand("onStatus", 0,
		rtmp.InfoObject("status", "NetStream.Unpause.Notify", "Unpaused live"))); err != nil {
		return err
	}
	return c.writer.WriteUserControl(rtmp.StreamBegin, 1)
}

// pumpSubscription drains sub.Batches, applying the secondary merge
// window before each write and dropping frames entirely while paused.
func (c *Conn) pumpSubscription(sub *hub.Subscription, pauseCh <-chan bool, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	paused := false
	var buf []hub.Frame
	var mergeStart int64
	hasStart := false

	flush := func() bool {
		if len(buf) == 0 {
			return true
		}
		frames := buf
		buf = nil
		hasStart = false

		if paused {
			return true
		}

		for _, f := range frames {
			if c.stats != nil {
				c.stats.AddSendBytes(uint64(len(f.Payload)))
			}
			if err := c.writer.WriteRawPayload(f.Type, 1, f.Timestamp, f.Payload); err != nil {
				return false
			}
		}
		return true
	}

	for {
		select {
		case <-stopCh:
			return

		case p := <-pauseCh:
			paused = p

		case batch, ok := <-sub.Batches:
			if !ok {
				return
			}

			for _, f := range batch {
				shouldFlush := false
				if !hasStart {
					mergeStart = f.Timestamp
					hasStart = true
				}
				switch {
				case f.Timestamp == 0:
					shouldFlush = true
				case f.Timestamp < mergeStart:
					shouldFlush = true
				case f.Timestamp-mergeStart >= subscriberMergeFlushSpanMillis:
					shouldFlush = true
				case f.Type == rtmp.TypeVideo && len(f.Payload) >= 2 && f.Payload[0] == 0x17 && f.Payload[1] != 0x00:
					shouldFlush = true
				}

				buf = append(buf, f)

				if shouldFlush {
					if !flush() {
						return
					}
				}
			}
		}
	}
}
