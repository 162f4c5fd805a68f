// Package reconciler keeps a client-side view of one zone consistent with
// the server while letting the user see their own actions immediately.
//
// A user action is applied to the local view as a pending overlay before
// the request is sent.  When the server answers the overlay is replaced
// by the committed spot, or discarded if the server refused.  Broadcast
// changes update the authoritative base underneath any overlay.  The view
// never keeps a state the server did not commit.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
	"github.com/iliyamo/parking-spot-reservation/internal/model"
	"github.com/iliyamo/parking-spot-reservation/internal/realtime"
	"github.com/iliyamo/parking-spot-reservation/internal/reservation"
)

// Remote performs an action on the server.  requestID identifies the
// attempt in server logs.
type Remote interface {
	Do(ctx context.Context, action reservation.Action, spotID int64, requestID string) (model.Spot, error)
}

// Fetcher reads the full state of a zone.
type Fetcher interface {
	ZoneSpots(ctx context.Context, zoneID int64) ([]model.Spot, error)
}

type pending struct {
	id     string
	action reservation.Action
	spot   model.Spot
}

// Cache is the reconciled view of one zone for one user.
type Cache struct {
	zoneID int64
	userID string
	remote Remote
	fetch  Fetcher
	clock  func() time.Time
	log    *slog.Logger

	mu       sync.Mutex
	base     map[int64]model.Spot
	deleted  map[int64]int64 // spot id -> version of the delete
	inFlight map[int64]pending
	stale    bool
	health   realtime.Health
}

// New creates an empty, stale cache.  Call Resync or Load before reading.
func New(zoneID int64, userID string, remote Remote, fetch Fetcher, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		zoneID:   zoneID,
		userID:   userID,
		remote:   remote,
		fetch:    fetch,
		clock:    time.Now,
		log:      log,
		base:     make(map[int64]model.Spot),
		deleted:  make(map[int64]int64),
		inFlight: make(map[int64]pending),
		stale:    true,
		health:   realtime.Connecting,
	}
}

// Load replaces the authoritative view with spots.  Delete markers for
// spots absent from the new view are kept so that late events cannot
// bring them back.
func (c *Cache) Load(spots []model.Spot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = make(map[int64]model.Spot, len(spots))
	for _, s := range spots {
		if s.ZoneID != c.zoneID {
			continue
		}
		c.base[s.ID] = s.Clone()
		delete(c.deleted, s.ID)
	}
	for id, p := range c.inFlight {
		if cur, ok := c.base[id]; ok && sameClaim(cur, p.spot) {
			delete(c.inFlight, id)
		}
	}
	c.stale = false
}

// Resync fetches the zone and loads it.
func (c *Cache) Resync(ctx context.Context) error {
	spots, err := c.fetch.ZoneSpots(ctx, c.zoneID)
	if err != nil {
		return err
	}
	c.Load(spots)
	return nil
}

// Apply runs action on spotID: locally first, then on the server.  The
// returned spot is the committed state.  On any error the local view is
// back to the last authoritative value.
func (c *Cache) Apply(ctx context.Context, action reservation.Action, spotID int64) (model.Spot, error) {
	c.mu.Lock()
	cur, ok := c.base[spotID]
	if !ok {
		c.mu.Unlock()
		return model.Spot{}, apperr.NotFound("spot", spotID)
	}
	if _, busy := c.inFlight[spotID]; busy {
		c.mu.Unlock()
		return model.Spot{}, apperr.Conflict(spotID, "a change to this spot is already in flight")
	}
	next, replay, err := reservation.Plan(cur, action, c.userID, c.clock().UTC())
	if err != nil {
		c.mu.Unlock()
		return model.Spot{}, err
	}
	p := pending{id: uuid.NewString(), action: action, spot: next}
	if !replay {
		c.inFlight[spotID] = p
	}
	c.mu.Unlock()

	committed, err := c.remote.Do(ctx, action, spotID, p.id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.inFlight[spotID]; ok && q.id == p.id {
		delete(c.inFlight, spotID)
	}
	if err != nil {
		c.log.Debug("optimistic change reverted", "spot_id", spotID, "action", action, "request_id", p.id, "err", err)
		return model.Spot{}, err
	}
	c.absorb(committed)
	return committed, nil
}

// absorb stores s if it is newer than the cached copy.  Callers hold c.mu.
func (c *Cache) absorb(s model.Spot) bool {
	if v, gone := c.deleted[s.ID]; gone && s.Version <= v {
		return false
	}
	if cur, ok := c.base[s.ID]; ok && s.Version <= cur.Version {
		return false
	}
	c.base[s.ID] = s.Clone()
	delete(c.deleted, s.ID)
	if p, ok := c.inFlight[s.ID]; ok && sameClaim(s, p.spot) {
		delete(c.inFlight, s.ID)
	}
	return true
}

func sameClaim(a, b model.Spot) bool {
	if a.Status != b.Status {
		return false
	}
	if (a.ReservedBy == nil) != (b.ReservedBy == nil) {
		return false
	}
	return a.ReservedBy == nil || *a.ReservedBy == *b.ReservedBy
}

// HandleEvent applies a broadcast change.  It reports whether the view
// changed; duplicates and out-of-order events are ignored.
func (c *Cache) HandleEvent(ev model.ChangeEvent) bool {
	if ev.ZoneID != c.zoneID || ev.Table != model.SpotsTable {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Operation == model.OpDelete {
		id, v := ev.SpotID(), ev.Version()
		if cur, ok := c.base[id]; ok && cur.Version > v {
			return false
		}
		if prev, ok := c.deleted[id]; ok && prev >= v {
			return false
		}
		delete(c.base, id)
		delete(c.inFlight, id)
		c.deleted[id] = v
		return true
	}
	if ev.After == nil {
		return false
	}
	return c.absorb(*ev.After)
}

// SetHealth records a feed transition.  OFFLINE marks the view stale;
// returning to LIVE from any other state triggers a resync.
func (c *Cache) SetHealth(ctx context.Context, h realtime.Health) error {
	c.mu.Lock()
	prev := c.health
	c.health = h
	if h == realtime.Offline {
		c.stale = true
	}
	c.mu.Unlock()

	if h == realtime.Live && prev != realtime.Live {
		return c.Resync(ctx)
	}
	return nil
}

// Watch consumes envelopes until the channel closes or ctx is done.  A
// closed channel counts as OFFLINE.
func (c *Cache) Watch(ctx context.Context, feed <-chan realtime.Envelope, onChange func(model.ChangeEvent)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-feed:
			if !ok {
				_ = c.SetHealth(ctx, realtime.Offline)
				return errors.New("change feed closed")
			}
			if env.Health != "" {
				if err := c.SetHealth(ctx, env.Health); err != nil {
					c.log.Warn("resync failed", "zone_id", c.zoneID, "err", err)
				}
			}
			if env.Event != nil && c.HandleEvent(*env.Event) && onChange != nil {
				onChange(*env.Event)
			}
		}
	}
}

// Snapshot returns the view with pending overlays applied, ordered by
// floor and spot number.
func (c *Cache) Snapshot() []model.Spot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Spot, 0, len(c.base))
	for id, s := range c.base {
		if p, ok := c.inFlight[id]; ok {
			s = p.spot
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FloorLevel != out[j].FloorLevel {
			return out[i].FloorLevel < out[j].FloorLevel
		}
		if out[i].SpotNumber != out[j].SpotNumber {
			return out[i].SpotNumber < out[j].SpotNumber
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Spot returns one spot of the view, with any pending overlay applied.
func (c *Cache) Spot(id int64) (model.Spot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.inFlight[id]; ok {
		return p.spot.Clone(), true
	}
	s, ok := c.base[id]
	return s.Clone(), ok
}

// Pending reports whether a local change to id awaits the server.
func (c *Cache) Pending(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[id]
	return ok
}

// Stale reports whether the view may have missed changes.
func (c *Cache) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// Health returns the last feed state seen.
func (c *Cache) Health() realtime.Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}
