// Package hub implements the per-stream fan-out engine: a single goroutine
// owns one stream's metadata, sequence headers, GOP cache, and subscriber
// set, reachable only through its channels. There are no locks; every
// mutation happens on the hub's own goroutine.
package hub

import (
	"github.com/nova-stream/rtmprelay/internal/rtmp"
)

const (
	// subscriberQueueCapacity bounds each subscriber's batch queue. A
	// subscriber that can't keep up is evicted rather than allowed to grow
	// the queue without bound.
	subscriberQueueCapacity = 1024

	gopMaxMessages       = 2048
	gopMaxAudioNoVideo   = 100
	mergeFlushSpanMillis = 170
)

// Frame is one audio, video, or data (metadata) message as received from a
// publisher, stripped of chunk-stream framing.
type Frame struct {
	Type      uint32 // rtmp.TypeAudio, rtmp.TypeVideo, or rtmp.TypeData
	Timestamp int64
	Payload   []byte
}

// Batch is a group of frames delivered to a subscriber as one unit, so a
// keyframe and the sequence headers that must precede it never get split
// across separate sends.
type Batch []Frame

func isVideoSeqHeader(f Frame) bool {
	return f.Type == rtmp.TypeVideo && len(f.Payload) >= 2 && f.Payload[0] == 0x17 && f.Payload[1] == 0x00
}

func isAudioSeqHeader(f Frame) bool {
	return f.Type == rtmp.TypeAudio && len(f.Payload) >= 2 && f.Payload[0] == 0xAF && f.Payload[1] == 0x00
}

func isVideoKeyframe(f Frame) bool {
	return f.Type == rtmp.TypeVideo && len(f.Payload) >= 2 && f.Payload[0] == 0x17 && f.Payload[1] != 0x00
}

type joinRequest struct {
	id    string
	reply chan *Subscription
}

// Hub is the fan-out engine for one stream key. Construct with New and
// drive it with Run in its own goroutine.
type Hub struct {
	Key string

	frameCh chan Frame
	joinCh  chan joinRequest
	leaveCh chan string
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New allocates a Hub for key. Call Run to start serving it.
func New(key string) *Hub {
	return &Hub{
		Key:     key,
		frameCh: make(chan Frame, 64),
		joinCh:  make(chan joinRequest),
		leaveCh: make(chan string),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Subscription is a subscriber's handle onto a hub: a read-only batch
// stream plus a way to announce departure.
type Subscription struct {
	ID      string
	Batches <-chan Batch

	hub *Hub
}

// Leave announces the subscriber is done. Safe to call more than once and
// safe to call after the hub has already stopped.
func (s *Subscription) Leave() {
	select {
	case s.hub.leaveCh <- s.ID:
	case <-s.hub.doneCh:
	}
}

// Send delivers a frame from the publisher into the hub. It blocks only
// until the hub's loop picks it up; it returns false if the hub has
// already stopped.
func (h *Hub) Send(f Frame) bool {
	select {
	case h.frameCh <- f:
		return true
	case <-h.doneCh:
		return false
	}
}

// Join registers a new subscriber and returns its Subscription, primed
// with the hub's current metadata/sequence-headers/GOP per §4.5.2. Returns
// nil if the hub has already stopped.
func (h *Hub) Join(id string) *Subscription {
	reply := make(chan *Subscription, 1)
	select {
	case h.joinCh <- joinRequest{id: id, reply: reply}:
	case <-h.doneCh:
		return nil
	}

	select {
	case sub := <-reply:
		return sub
	case <-h.doneCh:
		return nil
	}
}

// Stop tears the hub down: every subscriber's channel closes, and further
// Send/Join calls fail.
func (h *Hub) Stop() {
	select {
	case h.stopCh <- struct{}{}:
	case <-h.doneCh:
	}
}

// Done reports the hub's shutdown signal; closed once Run returns.
func (h *Hub) Done() <-chan struct{} { return h.doneCh }

// state is the hub's owned, single-goroutine state. Kept separate from Hub
// itself so the channel plumbing above stays easy to read.
type state struct {
	metadata              *Frame
	audioSeq              *Frame
	videoSeq              *Frame
	gop                   []Frame
	gopStart              int64
	gopEnd                int64
	gopHasVideo           bool
	audioRunWithoutVideo  int
	messagesSinceKeyframe int

	mergeBuf      []Frame
	mergeStart    int64
	mergeHasStart bool

	subscribers map[string]chan Batch
}

func newState() *state {
	return &state{subscribers: make(map[string]chan Batch)}
}

// Run serves the hub's event loop until Stop is called. It must run in its
// own goroutine; it owns all stream state and touches nothing outside the
// frame/join/leave/stop channels.
func (h *Hub) Run() {
	defer close(h.doneCh)

	st := newState()

	for {
		select {
		case <-h.stopCh:
			for _, ch := range st.subscribers {
				close(ch)
			}
			return

		case f := <-h.frameCh:
			st.handleFrame(f)

		case req := <-h.joinCh:
			sub := st.join(req.id)
			sub.hub = h
			req.reply <- sub

		case id := <-h.leaveCh:
			st.leave(id)
		}
	}
}

func (st *state) join(id string) *Subscription {
	ch := make(chan Batch, subscriberQueueCapacity)
	st.subscribers[id] = ch

	var primer Batch
	if st.metadata != nil {
		primer = append(primer, *st.metadata)
	}
	if st.audioSeq != nil {
		primer = append(primer, *st.audioSeq)
	}
	if st.videoSeq != nil {
		primer = append(primer, *st.videoSeq)
	}
	primer = append(primer, st.gop...)

	if len(primer) > 0 {
		st.deliver(id, ch, primer)
	}

	return &Subscription{ID: id, Batches: ch}
}

func (st *state) leave(id string) {
	if ch, ok := st.subscribers[id]; ok {
		delete(st.subscribers, id)
		close(ch)
	}
}

// deliver attempts a non-blocking send; a full queue means a slow
// subscriber, and per spec §4.5.6 / SPEC_FULL §E that subscriber is
// evicted rather than allowed to back up the hub.
func (st *state) deliver(id string, ch chan Batch, b Batch) {
	select {
	case ch <- b:
	default:
		delete(st.subscribers, id)
		close(ch)
	}
}

func (st *state) broadcast(b Batch) {
	if len(b) == 0 {
		return
	}
	for id, ch := range st.subscribers {
		st.deliver(id, ch, b)
	}
}

func (st *state) handleFrame(f Frame) {
	if f.Type == rtmp.TypeData {
		meta := f
		st.metadata = &meta
		st.broadcast(Batch{f})
		return
	}

	st.updateGOP(f)
	st.updateMergeBuffer(f)
}

func (st *state) updateGOP(f Frame) {
	switch {
	case isVideoSeqHeader(f):
		h := f
		st.videoSeq = &h
		return
	case isAudioSeqHeader(f):
		h := f
		st.audioSeq = &h
		return
	case isVideoKeyframe(f):
		st.gop = []Frame{f}
		st.gopStart = f.Timestamp
		st.gopEnd = f.Timestamp
		st.gopHasVideo = true
		st.messagesSinceKeyframe = 0
		st.audioRunWithoutVideo = 0
		return
	}

	st.messagesSinceKeyframe++
	if f.Type == rtmp.TypeVideo {
		st.audioRunWithoutVideo = 0
	} else {
		st.audioRunWithoutVideo++
	}

	if st.messagesSinceKeyframe > gopMaxMessages || st.audioRunWithoutVideo > gopMaxAudioNoVideo {
		st.gop = nil
		st.gopHasVideo = false
		st.messagesSinceKeyframe = 0
		st.audioRunWithoutVideo = 0
		return
	}

	if st.gopHasVideo {
		st.gop = append(st.gop, f)
		st.gopEnd = f.Timestamp
	}
}

func (st *state) updateMergeBuffer(f Frame) {
	shouldFlush := false

	if !st.mergeHasStart {
		st.mergeStart = f.Timestamp
		st.mergeHasStart = true
	}

	switch {
	case f.Timestamp == 0:
		shouldFlush = true
	case f.Timestamp < st.mergeStart:
		shouldFlush = true
	case f.Timestamp-st.mergeStart >= mergeFlushSpanMillis:
		shouldFlush = true
	case isVideoKeyframe(f):
		shouldFlush = true
	}

	st.mergeBuf = append(st.mergeBuf, f)

	if shouldFlush {
		batch := st.mergeBuf
		st.mergeBuf = nil
		st.mergeHasStart = false
		st.broadcast(batch)
	}
}
