package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
	"github.com/iliyamo/parking-spot-reservation/internal/model"
)

// MemorySpotStore keeps spots in a map guarded by a mutex.  The lock is
// held only for the duration of a single method call, so it offers the
// same conditional-write semantics as the MySQL repository without any
// cross-call locking.
type MemorySpotStore struct {
	mu     sync.RWMutex
	spots  map[int64]model.Spot
	nextID int64
}

var _ SpotStore = (*MemorySpotStore)(nil)

// NewMemorySpotStore creates an empty store.
func NewMemorySpotStore() *MemorySpotStore {
	return &MemorySpotStore{spots: make(map[int64]model.Spot), nextID: 1}
}

func (m *MemorySpotStore) Get(_ context.Context, id int64) (model.Spot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.spots[id]
	if !ok {
		return model.Spot{}, apperr.NotFound("spot", id)
	}
	return s.Clone(), nil
}

func (m *MemorySpotStore) filter(keep func(model.Spot) bool) []model.Spot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Spot
	for _, s := range m.spots {
		if keep(s) {
			out = append(out, s.Clone())
		}
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

func (m *MemorySpotStore) ListByZone(_ context.Context, zoneID int64) ([]model.Spot, error) {
	return m.filter(func(s model.Spot) bool { return s.ZoneID == zoneID }), nil
}

func (m *MemorySpotStore) ListByFloor(_ context.Context, zoneID int64, floor int) ([]model.Spot, error) {
	return m.filter(func(s model.Spot) bool { return s.ZoneID == zoneID && s.FloorLevel == floor }), nil
}

func (m *MemorySpotStore) ListReserved(_ context.Context) ([]model.Spot, error) {
	return m.filter(func(s model.Spot) bool { return s.Status == model.StatusReserved }), nil
}

func (m *MemorySpotStore) ActiveClaim(_ context.Context, userID string) (*model.Spot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.claimLocked(userID, 0); ok {
		c := s.Clone()
		return &c, nil
	}
	return nil, nil
}

// claimLocked finds an active claim by userID on any spot other than skip.
func (m *MemorySpotStore) claimLocked(userID string, skip int64) (model.Spot, bool) {
	for id, s := range m.spots {
		if id != skip && s.Status.Active() && s.HeldBy(userID) {
			return s, true
		}
	}
	return model.Spot{}, false
}

func (m *MemorySpotStore) numberTakenLocked(zoneID int64, floor int, number string, skip int64) bool {
	for id, s := range m.spots {
		if id != skip && s.ZoneID == zoneID && s.FloorLevel == floor && s.SpotNumber == number {
			return true
		}
	}
	return false
}

func (m *MemorySpotStore) CompareAndSwap(_ context.Context, next model.Spot, expect int64, g Guard) (model.Spot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.spots[next.ID]
	if !ok {
		return model.Spot{}, apperr.NotFound("spot", next.ID)
	}
	if cur.Version != expect {
		return model.Spot{}, apperr.Conflict(next.ID, "spot was modified concurrently")
	}
	if g.ExclusiveClaimFor != "" {
		if _, held := m.claimLocked(g.ExclusiveClaimFor, next.ID); held {
			return model.Spot{}, apperr.Conflict(next.ID, "user already holds another spot")
		}
	}
	// Identity columns are not writable through a transition.
	next.ZoneID, next.FloorLevel, next.SpotNumber = cur.ZoneID, cur.FloorLevel, cur.SpotNumber
	next.Width, next.Height, next.Rotation = cur.Width, cur.Height, cur.Rotation
	m.spots[next.ID] = next.Clone()
	return next, nil
}

func (m *MemorySpotStore) Insert(_ context.Context, s model.Spot) (model.Spot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.numberTakenLocked(s.ZoneID, s.FloorLevel, s.SpotNumber, 0) {
		return model.Spot{}, apperr.Conflict(0, fmt.Sprintf("spot number %q already exists on floor %d", s.SpotNumber, s.FloorLevel))
	}
	if s.Version == 0 {
		s.Version = 1
	}
	s.ID = m.nextID
	m.nextID++
	m.spots[s.ID] = s.Clone()
	return s, nil
}

func (m *MemorySpotStore) Delete(_ context.Context, id int64) (model.Spot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.spots[id]
	if !ok {
		return model.Spot{}, apperr.NotFound("spot", id)
	}
	delete(m.spots, id)
	return s, nil
}

// ReplaceFloors validates the whole batch before touching the map, so
// either every change is applied or none is.
func (m *MemorySpotStore) ReplaceFloors(_ context.Context, zoneID int64, floors []int, spots []model.Spot) (ReplaceResult, error) {
	target := make(map[int]bool, len(floors))
	for _, f := range floors {
		target[f] = true
	}
	seen := make(map[string]bool, len(spots))
	for _, s := range spots {
		if !target[s.FloorLevel] {
			return ReplaceResult{}, apperr.Invalid("floor_level", fmt.Sprintf("spot %q targets floor %d outside the batch", s.SpotNumber, s.FloorLevel))
		}
		key := fmt.Sprintf("%d/%s", s.FloorLevel, s.SpotNumber)
		if seen[key] {
			return ReplaceResult{}, apperr.Conflict(0, "duplicate spot number in replicated layout")
		}
		seen[key] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var res ReplaceResult
	for id, s := range m.spots {
		if s.ZoneID == zoneID && target[s.FloorLevel] {
			res.Deleted = append(res.Deleted, s)
			delete(m.spots, id)
		}
	}
	for _, s := range spots {
		s.ID = m.nextID
		m.nextID++
		s.ZoneID = zoneID
		s.Status = model.StatusAvailable
		s.ReservedBy, s.ReservedAt = nil, nil
		s.Version = 1
		m.spots[s.ID] = s
		res.Created = append(res.Created, s.Clone())
	}
	sort.Slice(res.Deleted, func(i, j int) bool { return res.Deleted[i].ID < res.Deleted[j].ID })
	return res, nil
}

// MemoryCatalog is an in-memory Catalog used by tests and memory mode.
type MemoryCatalog struct {
	mu    sync.RWMutex
	zones map[int64]model.Zone
	gates map[int64][]model.Gate
}

var _ Catalog = (*MemoryCatalog)(nil)

// NewMemoryCatalog creates an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{zones: make(map[int64]model.Zone), gates: make(map[int64][]model.Gate)}
}

// PutZone adds or replaces a zone.
func (c *MemoryCatalog) PutZone(z model.Zone) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zones[z.ID] = z
}

// PutGate appends a gate to its zone.
func (c *MemoryCatalog) PutGate(g model.Gate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gates[g.ZoneID] = append(c.gates[g.ZoneID], g)
}

func (c *MemoryCatalog) Zone(_ context.Context, id int64) (model.Zone, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	z, ok := c.zones[id]
	if !ok {
		return model.Zone{}, apperr.NotFound("zone", id)
	}
	return z, nil
}

func (c *MemoryCatalog) Gates(_ context.Context, zoneID int64) ([]model.Gate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Gate, len(c.gates[zoneID]))
	copy(out, c.gates[zoneID])
	return out, nil
}
