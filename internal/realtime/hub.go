// Package realtime fans committed spot changes out to every connected
// viewer of a zone.
//
// The Hub delivers events to in-process subscribers.  In a multi-node
// deployment the RedisBridge publishes each change to a per-zone Redis
// channel and feeds everything it receives back into the local Hub, so a
// change committed on any node reaches viewers on all of them.  Delivery
// is at least once; the hub drops any event whose version is not newer
// than the last one it delivered for that spot, so subscribers see each
// spot's changes in commit order.
//
// The channel never replays.  A subscriber that falls behind is dropped
// and a subscriber that sees OFFLINE must re-fetch the zone.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/iliyamo/parking-spot-reservation/internal/model"
)

// Health is the state of the change feed as seen by subscribers.
type Health string

const (
	Live       Health = "LIVE"
	Offline    Health = "OFFLINE"
	Connecting Health = "CONNECTING"
)

// Envelope is one item on a subscription: either a change or a health
// transition.
type Envelope struct {
	Event  *model.ChangeEvent `json:"event,omitempty"`
	Health Health             `json:"health,omitempty"`
}

// Subscription receives the changes of one zone.
type Subscription struct {
	ID     string
	ZoneID int64

	ch      chan Envelope
	mu      sync.Mutex
	closed  bool
	dropped bool
}

// C returns the delivery channel.  It is closed on Unsubscribe or when the
// subscriber is dropped for falling behind.
func (s *Subscription) C() <-chan Envelope { return s.ch }

// Dropped reports whether the hub closed the subscription because its
// buffer overflowed.  The consumer has missed events and must re-fetch.
func (s *Subscription) Dropped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// offer enqueues without blocking.  It returns false if the buffer was
// full, in which case the subscription is closed and marked dropped.
func (s *Subscription) offer(env Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- env:
		return true
	default:
		s.dropped = true
		s.closed = true
		close(s.ch)
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Hub is the in-process fan-out point.
type Hub struct {
	buffer int
	log    *slog.Logger

	mu     sync.Mutex
	zones  map[int64]map[string]*Subscription
	health Health
	gate   *versionGate
}

// NewHub creates a hub whose subscribers buffer up to buffer envelopes.
// The hub starts LIVE; a bridge that depends on a remote feed switches it
// to CONNECTING until the feed is up.
func NewHub(buffer int, log *slog.Logger) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		buffer: buffer,
		log:    log,
		zones:  make(map[int64]map[string]*Subscription),
		health: Live,
		gate:   newVersionGate(),
	}
}

// Subscribe registers a subscriber for zoneID.  The first envelope is
// always the current health.
func (h *Hub) Subscribe(zoneID int64) *Subscription {
	sub := &Subscription{ID: uuid.NewString(), ZoneID: zoneID, ch: make(chan Envelope, h.buffer+1)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.zones[zoneID] == nil {
		h.zones[zoneID] = make(map[string]*Subscription)
	}
	h.zones[zoneID][sub.ID] = sub
	sub.offer(Envelope{Health: h.health})
	return sub
}

// Unsubscribe removes and closes a subscription.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if subs := h.zones[sub.ZoneID]; subs != nil {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(h.zones, sub.ZoneID)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Publish delivers ev to the subscribers of its zone.  Sends happen under
// the hub lock, so every subscriber sees events in publish order.  An event
// older than one already delivered for the same spot is discarded.
func (h *Hub) Publish(_ context.Context, ev model.ChangeEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.gate.admit(ev) {
		h.log.Debug("discarding stale change", "spot_id", ev.SpotID(), "version", ev.Version())
		return nil
	}
	for id, sub := range h.zones[ev.ZoneID] {
		e := ev
		if !sub.offer(Envelope{Event: &e}) {
			h.log.Warn("dropping slow subscriber", "subscription", id, "zone_id", ev.ZoneID)
			delete(h.zones[ev.ZoneID], id)
		}
	}
	return nil
}

// SetHealth records a feed transition and tells every subscriber.
func (h *Hub) SetHealth(state Health) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.health == state {
		return
	}
	h.health = state
	for zoneID, subs := range h.zones {
		for id, sub := range subs {
			if !sub.offer(Envelope{Health: state}) {
				delete(subs, id)
			}
		}
		if len(subs) == 0 {
			delete(h.zones, zoneID)
		}
	}
}

// Health returns the current feed state.
func (h *Hub) Health() Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.health
}

// Subscribers returns the number of subscribers of a zone.
func (h *Hub) Subscribers(zoneID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.zones[zoneID])
}
