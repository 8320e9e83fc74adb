// Package broker implements the process-wide stream registry: a single
// goroutine maps a stream key to at most one active hub, serializing every
// publisher/subscriber registration and mediating origin-pull promotion on
// a subscribe-miss.
package broker

import (
	"errors"

	"github.com/nova-stream/rtmprelay/internal/hub"
)

// ErrDuplicatePublish is returned when a publisher registers for a key
// that already has an active publisher.
var ErrDuplicatePublish = errors.New("broker: stream already has a publisher")

// ErrPullFailed is returned to a subscriber waiting on an origin-pull that
// never produced a publisher.
var ErrPullFailed = errors.New("broker: origin-pull failed to produce a publisher")

// Publisher is a registered publisher's handle onto its hub.
type Publisher struct {
	Key string
	Hub *hub.Hub
}

// PullFunc starts an origin-pull client for key. Implementations are
// expected to behave exactly like an accepted publisher connection: dial
// the upstream, run identification, and call Broker.RegisterPublisher for
// the same key. If the pull never manages to register a publisher, it
// must call Broker.PullFailed so any waiting subscribers are released.
type PullFunc func(key string)

type entry struct {
	h           *hub.Hub
	pulling     bool
	waiters     []subscribeReq
}

type registerPublisherReq struct {
	key   string
	reply chan registerPublisherRes
}

type registerPublisherRes struct {
	hub *hub.Hub
	err error
}

type unregisterPublisherReq struct {
	key string
}

type subscribeReq struct {
	key   string
	uid   string
	reply chan subscribeRes
}

type subscribeRes struct {
	sub *hub.Subscription
	err error
}

type pullFailedReq struct {
	key string
}

// Broker owns the stream-key → hub map. Construct with New and run Run in
// its own goroutine before using the client methods.
type Broker struct {
	registerCh   chan registerPublisherReq
	unregisterCh chan unregisterPublisherReq
	subscribeCh  chan subscribeReq
	pullFailedCh chan pullFailedReq

	pull PullFunc
}

// New builds a Broker. pull may be nil, in which case a subscribe-miss
// fails immediately instead of triggering an origin-pull.
func New(pull PullFunc) *Broker {
	return &Broker{
		registerCh:   make(chan registerPublisherReq),
		unregisterCh: make(chan unregisterPublisherReq),
		subscribeCh:  make(chan subscribeReq),
		pullFailedCh: make(chan pullFailedReq),
		pull:         pull,
	}
}

// Run serves the broker's event loop forever. Call it in its own
// goroutine; every other method is safe to call concurrently from any
// number of connection goroutines.
func (b *Broker) Run() {
	entries := make(map[string]*entry)

	for {
		select {
		case req := <-b.registerCh:
			b.handleRegister(entries, req)

		case req := <-b.unregisterCh:
			if e, ok := entries[req.key]; ok && e.h != nil {
				e.h.Stop()
				delete(entries, req.key)
			}

		case req := <-b.subscribeCh:
			b.handleSubscribe(entries, req)

		case req := <-b.pullFailedCh:
			if e, ok := entries[req.key]; ok && e.pulling {
				for _, w := range e.waiters {
					w.reply <- subscribeRes{err: ErrPullFailed}
				}
				delete(entries, req.key)
			}
		}
	}
}

func (b *Broker) handleRegister(entries map[string]*entry, req registerPublisherReq) {
	e, exists := entries[req.key]

	if exists && e.h != nil {
		req.reply <- registerPublisherRes{err: ErrDuplicatePublish}
		return
	}

	h := hub.New(req.key)
	go h.Run()

	var waiters []subscribeReq
	if exists {
		waiters = e.waiters
	}

	entries[req.key] = &entry{h: h}

	req.reply <- registerPublisherRes{hub: h}

	for _, w := range waiters {
		sub := h.Join(w.uid)
		if sub == nil {
			w.reply <- subscribeRes{err: ErrPullFailed}
			continue
		}
		w.reply <- subscribeRes{sub: sub}
	}
}

func (b *Broker) handleSubscribe(entries map[string]*entry, req subscribeReq) {
	e, exists := entries[req.key]

	if exists && e.h != nil {
		sub := e.h.Join(req.uid)
		if sub == nil {
			req.reply <- subscribeRes{err: ErrPullFailed}
			return
		}
		req.reply <- subscribeRes{sub: sub}
		return
	}

	if b.pull == nil {
		req.reply <- subscribeRes{err: ErrPullFailed}
		return
	}

	if exists && e.pulling {
		e.waiters = append(e.waiters, req)
		return
	}

	entries[req.key] = &entry{pulling: true, waiters: []subscribeReq{req}}
	go b.pull(req.key)
}

// RegisterPublisher registers key as having an active publisher, starting
// a hub for it. Returns ErrDuplicatePublish if key is already taken.
func (b *Broker) RegisterPublisher(key string) (*Publisher, error) {
	reply := make(chan registerPublisherRes, 1)
	b.registerCh <- registerPublisherReq{key: key, reply: reply}
	res := <-reply
	if res.err != nil {
		return nil, res.err
	}
	return &Publisher{Key: key, Hub: res.hub}, nil
}

// UnregisterPublisher tears down the hub for key and removes it from the
// registry, closing every subscriber's queue.
func (b *Broker) UnregisterPublisher(key string) {
	b.unregisterCh <- unregisterPublisherReq{key: key}
}

// Subscribe joins uid to the hub for key, triggering an origin-pull if no
// publisher is currently registered for key.
func (b *Broker) Subscribe(key, uid string) (*hub.Subscription, error) {
	reply := make(chan subscribeRes, 1)
	b.subscribeCh <- subscribeReq{key: key, uid: uid, reply: reply}
	res := <-reply
	return res.sub, res.err
}

// PullFailed tells the broker an origin-pull for key never produced a
// publisher, so any subscribers waiting on it should be released.
func (b *Broker) PullFailed(key string) {
	b.pullFailedCh <- pullFailedReq{key: key}
}
