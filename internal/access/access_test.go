package access

import (
	"net"
	"testing"
)

func TestLimiterAllowsUpToMax(t *testing.T) {
	l := NewLimiter(2, nil)
	ip := net.ParseIP("10.0.0.1")

	if !l.Acquire(ip) {
		t.Fatalf("first Acquire should succeed")
	}
	if !l.Acquire(ip) {
		t.Fatalf("second Acquire should succeed")
	}
	if l.Acquire(ip) {
		t.Fatalf("third Acquire should be rejected at max=2")
	}
	if got := l.Count(ip); got != 2 {
		t.Fatalf("Count = %d, want 2", got)
	}
}

func TestLimiterReleaseFreesASlot(t *testing.T) {
	l := NewLimiter(1, nil)
	ip := net.ParseIP("10.0.0.2")

	if !l.Acquire(ip) {
		t.Fatalf("first Acquire should succeed")
	}
	l.Release(ip)

	if !l.Acquire(ip) {
		t.Fatalf("Acquire after Release should succeed")
	}
}

func TestLimiterZeroMaxDisablesCap(t *testing.T) {
	l := NewLimiter(0, nil)
	ip := net.ParseIP("10.0.0.3")

	for i := 0; i < 100; i++ {
		if !l.Acquire(ip) {
			t.Fatalf("Acquire %d should succeed when max=0 disables the cap", i)
		}
	}
}

func TestLimiterWhitelistedIPBypassesCap(t *testing.T) {
	l := NewLimiter(1, []string{"192.168.1.0/24"})
	ip := net.ParseIP("192.168.1.50")

	for i := 0; i < 5; i++ {
		if !l.Acquire(ip) {
			t.Fatalf("Acquire %d should succeed for a whitelisted IP", i)
		}
	}
}

func TestLimiterCountDropsToZeroAfterFullRelease(t *testing.T) {
	l := NewLimiter(5, nil)
	ip := net.ParseIP("10.0.0.4")

	l.Acquire(ip)
	l.Acquire(ip)
	l.Release(ip)
	l.Release(ip)

	if got := l.Count(ip); got != 0 {
		t.Fatalf("Count = %d, want 0 after releasing every acquired slot", got)
	}
}

func TestLimiterInvalidWhitelistEntriesAreSkipped(t *testing.T) {
	l := NewLimiter(1, []string{"not-a-cidr", "10.1.0.0/16"})
	ip := net.ParseIP("10.1.2.3")

	if !l.Acquire(ip) {
		t.Fatalf("valid whitelist entry should still take effect despite an invalid sibling")
	}
}

func TestPlayWhitelistEmptyAllowsEveryone(t *testing.T) {
	w := NewPlayWhitelist(nil)

	if !w.Allowed(net.ParseIP("203.0.113.1")) {
		t.Fatalf("empty whitelist should allow every IP")
	}
}

func TestPlayWhitelistRestrictsToConfiguredRanges(t *testing.T) {
	w := NewPlayWhitelist([]string{"203.0.113.0/24"})

	if !w.Allowed(net.ParseIP("203.0.113.10")) {
		t.Fatalf("expected in-range IP to be allowed")
	}
	if w.Allowed(net.ParseIP("198.51.100.1")) {
		t.Fatalf("expected out-of-range IP to be rejected")
	}
}
