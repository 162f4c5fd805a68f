package realtime

import (
	"context"
	"sync"

	"github.com/iliyamo/parking-spot-reservation/internal/model"
)

// versionGate keeps per-spot commit order on a feed.  An event passes only
// if it carries a newer version than the last one passed for its spot.  A
// delete passes at the version it removed and leaves a tombstone, after
// which nothing for that id passes again.  The zero value is not usable;
// call newVersionGate.
type versionGate struct {
	last map[int64]int64
	gone map[int64]struct{}
}

func newVersionGate() *versionGate {
	return &versionGate{last: make(map[int64]int64), gone: make(map[int64]struct{})}
}

// admit reports whether ev may be delivered and records it if so.  The
// caller serializes calls.
func (g *versionGate) admit(ev model.ChangeEvent) bool {
	id := ev.SpotID()
	if _, dead := g.gone[id]; dead {
		return false
	}
	v := ev.Version()
	last, seen := g.last[id]
	if ev.Operation == model.OpDelete {
		if seen && v < last {
			return false
		}
		delete(g.last, id)
		g.gone[id] = struct{}{}
		return true
	}
	if seen && v <= last {
		return false
	}
	g.last[id] = v
	return true
}

// OrderedPublisher drops stale and duplicate events before they reach next.
type OrderedPublisher struct {
	next Publisher

	mu   sync.Mutex
	gate *versionGate
}

// Ordered wraps next with a version gate.  The gate is checked under a
// lock but next is called outside it, so a slow target never blocks other
// spots.
func Ordered(next Publisher) *OrderedPublisher {
	return &OrderedPublisher{next: next, gate: newVersionGate()}
}

func (o *OrderedPublisher) Publish(ctx context.Context, ev model.ChangeEvent) error {
	o.mu.Lock()
	ok := o.gate.admit(ev)
	o.mu.Unlock()
	if !ok {
		return nil
	}
	return o.next.Publish(ctx, ev)
}
