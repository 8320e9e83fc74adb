package registry

import "testing"

func TestRegisterKill(t *testing.T) {
	r := New()
	killed := false
	r.Register("live", "abc", func() { killed = true })

	r.Kill("live")
	if !killed {
		t.Fatal("expected Kill to invoke the registered closure")
	}
}

func TestKillUnknownKeyIsNoop(t *testing.T) {
	r := New()
	r.Kill("missing") // must not panic
}

func TestUnregisterRemovesEntry(t *testing.T) {
	r := New()
	killed := false
	r.Register("live", "abc", func() { killed = true })
	r.Unregister("live")

	r.Kill("live")
	if killed {
		t.Fatal("Kill should be a no-op after Unregister")
	}
}

func TestKillIfStreamMatchesOrWildcard(t *testing.T) {
	r := New()
	count := 0
	r.Register("live", "stream-1", func() { count++ })

	r.KillIfStream("live", "stream-2")
	if count != 0 {
		t.Fatalf("expected no kill for mismatched stream id, got %d", count)
	}

	r.KillIfStream("live", "stream-1")
	if count != 1 {
		t.Fatalf("expected kill for matching stream id, got %d", count)
	}

	r.Register("live", "stream-1", func() { count++ })
	r.KillIfStream("live", "*")
	if count != 2 {
		t.Fatalf("expected kill for wildcard stream id, got %d", count)
	}

	r.Register("live", "stream-1", func() { count++ })
	r.KillIfStream("live", "")
	if count != 3 {
		t.Fatalf("expected kill for empty stream id, got %d", count)
	}
}

func TestKillAllTerminatesEveryEntry(t *testing.T) {
	r := New()
	killedKeys := make(map[string]bool)
	for _, key := range []string{"a", "b", "c"} {
		key := key
		r.Register(key, "sid", func() { killedKeys[key] = true })
	}

	r.KillAll()

	for _, key := range []string{"a", "b", "c"} {
		if !killedKeys[key] {
			t.Fatalf("expected %q to be killed by KillAll", key)
		}
	}
}

func TestReregisterReplacesKillClosure(t *testing.T) {
	r := New()
	var firstCalled, secondCalled bool
	r.Register("live", "sid-1", func() { firstCalled = true })
	r.Register("live", "sid-2", func() { secondCalled = true })

	r.Kill("live")

	if firstCalled {
		t.Fatal("stale closure from the replaced publisher should not run")
	}
	if !secondCalled {
		t.Fatal("current publisher's closure should run")
	}
}
