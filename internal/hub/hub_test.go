package hub

import (
	"testing"
	"time"

	"github.com/nova-stream/rtmprelay/internal/rtmp"
)

func recvBatch(t *testing.T, ch <-chan Batch) Batch {
	t.Helper()
	select {
	case b, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed unexpectedly")
		}
		return b
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for batch")
	}
	return nil
}

func TestJoinWithNoTrafficYetGetsEmptyPrimer(t *testing.T) {
	h := New("/live/stream")
	go h.Run()
	defer h.Stop()

	sub := h.Join("sub1")
	if sub == nil {
		t.Fatalf("Join returned nil")
	}

	select {
	case b, ok := <-sub.Batches:
		if ok {
			t.Fatalf("expected no primer batch, got %v", b)
		}
	case <-time.After(100 * time.Millisecond):
		// no batch arrived, as expected
	}
}

func TestJoinPrimerOrderMetadataAudioVideoGOP(t *testing.T) {
	h := New("/live/stream")
	go h.Run()
	defer h.Stop()

	h.Send(Frame{Type: rtmp.TypeData, Timestamp: 0, Payload: []byte("meta")})
	h.Send(Frame{Type: rtmp.TypeAudio, Timestamp: 0, Payload: []byte{0xAF, 0x00, 0x01}})
	h.Send(Frame{Type: rtmp.TypeVideo, Timestamp: 0, Payload: []byte{0x17, 0x00, 0x02}})
	h.Send(Frame{Type: rtmp.TypeVideo, Timestamp: 10, Payload: []byte{0x17, 0x01, 0x03}}) // keyframe
	h.Send(Frame{Type: rtmp.TypeAudio, Timestamp: 10, Payload: []byte{0xAF, 0x01, 0x04}}) // inter audio
	h.Send(Frame{Type: rtmp.TypeVideo, Timestamp: 20, Payload: []byte{0x27, 0x01, 0x05}}) // inter video

	// Give the hub goroutine a chance to drain the frame channel before
	// joining, so the primer batch reflects all six frames above.
	time.Sleep(50 * time.Millisecond)

	sub := h.Join("sub1")
	if sub == nil {
		t.Fatalf("Join returned nil")
	}

	batch := recvBatch(t, sub.Batches)

	want := []struct {
		typ uint32
		b0  byte
	}{
		{rtmp.TypeData, 'm'},
		{rtmp.TypeAudio, 0xAF},
		{rtmp.TypeVideo, 0x17},
		{rtmp.TypeVideo, 0x17}, // keyframe
		{rtmp.TypeAudio, 0xAF}, // inter audio
		{rtmp.TypeVideo, 0x27}, // inter video
	}

	if len(batch) != len(want) {
		t.Fatalf("primer batch length = %d, want %d (%v)", len(batch), len(want), batch)
	}
	for i, w := range want {
		if batch[i].Type != w.typ || batch[i].Payload[0] != w.b0 {
			t.Fatalf("primer[%d] = %+v, want type=%d payload[0]=%#x", i, batch[i], w.typ, w.b0)
		}
	}
}

func TestKeyframeResetsGOPAndEvictsPriorFrames(t *testing.T) {
	h := New("/live/stream")
	go h.Run()
	defer h.Stop()

	h.Send(Frame{Type: rtmp.TypeVideo, Timestamp: 0, Payload: []byte{0x17, 0x01, 0xAA}}) // first keyframe
	h.Send(Frame{Type: rtmp.TypeVideo, Timestamp: 10, Payload: []byte{0x27, 0x01, 0xBB}})
	h.Send(Frame{Type: rtmp.TypeVideo, Timestamp: 20, Payload: []byte{0x17, 0x01, 0xCC}}) // second keyframe

	time.Sleep(50 * time.Millisecond)

	sub := h.Join("sub1")
	batch := recvBatch(t, sub.Batches)

	if len(batch) != 1 {
		t.Fatalf("expected the GOP cache to hold only the frames since the latest keyframe, got %d frames", len(batch))
	}
	if batch[0].Payload[2] != 0xCC {
		t.Fatalf("expected the cached GOP to start from the second keyframe, got %v", batch[0])
	}
}

func TestMediaBroadcastsToExistingSubscribers(t *testing.T) {
	h := New("/live/stream")
	go h.Run()
	defer h.Stop()

	sub := h.Join("sub1")
	if sub == nil {
		t.Fatalf("Join returned nil")
	}

	h.Send(Frame{Type: rtmp.TypeVideo, Timestamp: 0, Payload: []byte{0x17, 0x01, 0x01}})

	batch := recvBatch(t, sub.Batches)
	if len(batch) != 1 || batch[0].Payload[2] != 0x01 {
		t.Fatalf("unexpected batch: %v", batch)
	}
}

func TestLeaveRemovesSubscriberFromBroadcast(t *testing.T) {
	h := New("/live/stream")
	go h.Run()
	defer h.Stop()

	sub := h.Join("sub1")
	sub.Leave()

	// Give the hub goroutine a moment to process the leave before sending,
	// so the closed channel below reflects it rather than a race.
	time.Sleep(50 * time.Millisecond)

	h.Send(Frame{Type: rtmp.TypeVideo, Timestamp: 0, Payload: []byte{0x17, 0x01, 0x01}})

	select {
	case _, ok := <-sub.Batches:
		if ok {
			t.Fatalf("expected channel closed after Leave, got a batch")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected channel to be closed after Leave")
	}
}

func TestStopClosesAllSubscriberChannels(t *testing.T) {
	h := New("/live/stream")
	go h.Run()

	sub1 := h.Join("sub1")
	sub2 := h.Join("sub2")

	h.Stop()

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case _, ok := <-sub.Batches:
			if ok {
				t.Fatalf("expected channel closed after Stop")
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for channel to close after Stop")
		}
	}

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatalf("Done channel never closed")
	}
}

func TestSlowSubscriberIsEvictedRatherThanBlockingHub(t *testing.T) {
	h := New("/live/stream")
	go h.Run()
	defer h.Stop()

	sub := h.Join("slow")

	// Every frame below is a keyframe, which forces an immediate
	// merge-buffer flush (one batch per Send); flooding past
	// subscriberQueueCapacity without ever draining sub's channel must
	// evict it instead of blocking the hub loop.
	for i := 0; i < subscriberQueueCapacity+10; i++ {
		ts := int64(i)
		ok := h.Send(Frame{Type: rtmp.TypeVideo, Timestamp: ts, Payload: []byte{0x17, 0x01, byte(i)}})
		if !ok {
			t.Fatalf("Send returned false before Stop was called")
		}
	}

	// The hub must still be alive and responsive to a fresh Join, proving
	// it never blocked trying to deliver to the evicted slow subscriber.
	other := h.Join("fresh")
	if other == nil {
		t.Fatalf("hub became unresponsive after evicting a slow subscriber")
	}

	// Eviction closes the channel but keeps the batches already queued in
	// it; those drain first, then the receive must report the close.
	for i := 0; i < subscriberQueueCapacity; i++ {
		recvBatch(t, sub.Batches)
	}

	select {
	case _, ok := <-sub.Batches:
		if ok {
			t.Fatalf("expected slow subscriber's channel to be closed on eviction")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for slow subscriber's channel to close")
	}
}
