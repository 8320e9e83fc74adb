package connset

import (
	"errors"
	"sync"
	"testing"
)

type fakeConn struct {
	mu     sync.Mutex
	pings  int
	failer bool
}

func (f *fakeConn) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	if f.failer {
		return errors.New("ping failed")
	}
	return nil
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func TestPingAllReachesEveryMember(t *testing.T) {
	s := New()
	a := &fakeConn{}
	b := &fakeConn{}
	s.Add(1, a)
	s.Add(2, b)

	s.PingAll()

	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("expected both members pinged once, got a=%d b=%d", a.count(), b.count())
	}
}

func TestRemoveStopsFurtherPings(t *testing.T) {
	s := New()
	a := &fakeConn{}
	s.Add(1, a)
	s.Remove(1)

	s.PingAll()

	if a.count() != 0 {
		t.Fatalf("expected removed member to receive no pings, got %d", a.count())
	}
}

func TestPingAllToleratesFailures(t *testing.T) {
	s := New()
	failing := &fakeConn{failer: true}
	ok := &fakeConn{}
	s.Add(1, failing)
	s.Add(2, ok)

	s.PingAll() // must not panic despite failing's error return

	if ok.count() != 1 {
		t.Fatalf("expected healthy member still pinged after sibling failure, got %d", ok.count())
	}
}

func TestAddOverwritesExistingID(t *testing.T) {
	s := New()
	first := &fakeConn{}
	second := &fakeConn{}
	s.Add(1, first)
	s.Add(1, second)

	s.PingAll()

	if first.count() != 0 {
		t.Fatalf("expected replaced member to not be pinged, got %d", first.count())
	}
	if second.count() != 1 {
		t.Fatalf("expected current member pinged once, got %d", second.count())
	}
}
