package broker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newRunningBroker(pull PullFunc) *Broker {
	b := New(pull)
	go b.Run()
	return b
}

func TestRegisterPublisherThenSubscribeJoinsHub(t *testing.T) {
	b := newRunningBroker(nil)

	pub, err := b.RegisterPublisher("/live/stream")
	if err != nil {
		t.Fatalf("RegisterPublisher: %v", err)
	}
	if pub.Hub == nil {
		t.Fatalf("expected a hub to be started for the new publisher")
	}

	sub, err := b.Subscribe("/live/stream", "viewer1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub == nil {
		t.Fatalf("expected a subscription, got nil")
	}
}

func TestDuplicatePublishRejected(t *testing.T) {
	b := newRunningBroker(nil)

	if _, err := b.RegisterPublisher("/live/stream"); err != nil {
		t.Fatalf("first RegisterPublisher: %v", err)
	}

	_, err := b.RegisterPublisher("/live/stream")
	if !errors.Is(err, ErrDuplicatePublish) {
		t.Fatalf("second RegisterPublisher err = %v, want ErrDuplicatePublish", err)
	}
}

func TestUnregisterAllowsReRegistration(t *testing.T) {
	b := newRunningBroker(nil)

	if _, err := b.RegisterPublisher("/live/stream"); err != nil {
		t.Fatalf("RegisterPublisher: %v", err)
	}

	b.UnregisterPublisher("/live/stream")

	// Give the broker loop a moment to process the unregister before
	// trying to reclaim the key.
	time.Sleep(50 * time.Millisecond)

	if _, err := b.RegisterPublisher("/live/stream"); err != nil {
		t.Fatalf("re-RegisterPublisher after unregister: %v", err)
	}
}

func TestSubscribeWithoutPublisherOrPullFailsImmediately(t *testing.T) {
	b := newRunningBroker(nil)

	_, err := b.Subscribe("/live/nobody", "viewer1")
	if !errors.Is(err, ErrPullFailed) {
		t.Fatalf("err = %v, want ErrPullFailed", err)
	}
}

func TestSubscribeMissTriggersOriginPullAndJoinsOnRegister(t *testing.T) {
	var pulled []string
	var mu sync.Mutex

	var b *Broker
	pullFn := func(key string) {
		mu.Lock()
		pulled = append(pulled, key)
		mu.Unlock()

		if _, err := b.RegisterPublisher(key); err != nil {
			b.PullFailed(key)
		}
	}
	b = newRunningBroker(pullFn)

	sub, err := b.Subscribe("/live/origin", "viewer1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub == nil {
		t.Fatalf("expected a subscription once the pull registers a publisher")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(pulled) != 1 || pulled[0] != "/live/origin" {
		t.Fatalf("pulled = %v, want exactly one pull for /live/origin", pulled)
	}
}

func TestConcurrentSubscribesDuringPullAllShareTheSamePull(t *testing.T) {
	var pullCount int
	var mu sync.Mutex

	var b *Broker
	pullFn := func(key string) {
		mu.Lock()
		pullCount++
		mu.Unlock()

		time.Sleep(50 * time.Millisecond) // simulate a slow origin dial
		if _, err := b.RegisterPublisher(key); err != nil {
			b.PullFailed(key)
		}
	}
	b = newRunningBroker(pullFn)

	var wg sync.WaitGroup
	results := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := b.Subscribe("/live/shared", "viewer")
			results[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range results {
		if err != nil {
			t.Fatalf("subscriber %d got err %v, want nil", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if pullCount != 1 {
		t.Fatalf("pullCount = %d, want exactly 1 pull shared across waiters", pullCount)
	}
}

func TestPullFailureReleasesAllWaiters(t *testing.T) {
	pullFn := func(key string) {
		// Never registers a publisher; simulates a failed origin dial.
	}
	b := newRunningBroker(pullFn)

	var wg sync.WaitGroup
	results := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := b.Subscribe("/live/deadorigin", "viewer")
			results[i] = err
		}(i)
	}

	// Give every subscriber a chance to enqueue as a waiter before the
	// pull is declared failed.
	time.Sleep(50 * time.Millisecond)
	b.PullFailed("/live/deadorigin")

	wg.Wait()

	for i, err := range results {
		if !errors.Is(err, ErrPullFailed) {
			t.Fatalf("waiter %d err = %v, want ErrPullFailed", i, err)
		}
	}
}
