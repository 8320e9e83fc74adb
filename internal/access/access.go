// Package access enforces the relay's connection-admission policy:
// per-IP concurrent connection caps (with an IP-range whitelist exempting
// trusted peers) and a play-side IP whitelist for restricting who may
// subscribe to a stream.
package access

import (
	"net"
	"sync"

	"github.com/netdata/go.d.plugin/pkg/iprange"
)

// Limiter tracks concurrent connections per client IP and rejects new ones
// once an IP exceeds the configured maximum, unless that IP falls inside
// the concurrency whitelist.
type Limiter struct {
	mu        sync.Mutex
	counts    map[string]int
	max       int
	whitelist []iprange.Range
}

// NewLimiter builds a Limiter allowing at most max concurrent connections
// per IP. whitelistCIDRs entries that fail to parse are skipped; callers
// should validate configuration up front and log any that are dropped.
func NewLimiter(max int, whitelistCIDRs []string) *Limiter {
	l := &Limiter{
		counts: make(map[string]int),
		max:    max,
	}
	for _, raw := range whitelistCIDRs {
		r, err := iprange.ParseRange(raw)
		if err != nil {
			continue
		}
		l.whitelist = append(l.whitelist, r)
	}
	return l
}

func (l *Limiter) exempt(ip net.IP) bool {
	for _, r := range l.whitelist {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

// Acquire registers a new connection from ip, returning false if the IP is
// already at its concurrency limit. Every successful Acquire must be
// matched by a Release.
func (l *Limiter) Acquire(ip net.IP) bool {
	if l.max <= 0 || l.exempt(ip) {
		l.mu.Lock()
		l.counts[ip.String()]++
		l.mu.Unlock()
		return true
	}

	key := ip.String()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.counts[key] >= l.max {
		return false
	}
	l.counts[key]++
	return true
}

// Release returns a connection slot previously obtained from Acquire.
func (l *Limiter) Release(ip net.IP) {
	key := ip.String()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.counts[key] > 0 {
		l.counts[key]--
		if l.counts[key] == 0 {
			delete(l.counts, key)
		}
	}
}

// Count returns the current number of tracked connections from ip.
func (l *Limiter) Count(ip net.IP) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[ip.String()]
}

// PlayWhitelist restricts which IPs may subscribe to streams. An empty
// whitelist allows everyone, matching the relay's default open-play mode.
type PlayWhitelist struct {
	ranges []iprange.Range
}

// NewPlayWhitelist builds a PlayWhitelist from a list of CIDR/range
// strings. Entries that fail to parse are skipped.
func NewPlayWhitelist(cidrs []string) *PlayWhitelist {
	w := &PlayWhitelist{}
	for _, raw := range cidrs {
		r, err := iprange.ParseRange(raw)
		if err != nil {
			continue
		}
		w.ranges = append(w.ranges, r)
	}
	return w
}

// Allowed reports whether ip may play streams. With no configured ranges,
// every IP is allowed.
func (w *PlayWhitelist) Allowed(ip net.IP) bool {
	if len(w.ranges) == 0 {
		return true
	}
	for _, r := range w.ranges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}
