package reservation

import (
	"context"
	"fmt"
	"strings"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
	"github.com/iliyamo/parking-spot-reservation/internal/model"
	"github.com/iliyamo/parking-spot-reservation/internal/repository"
)

// PlaceRequest describes a spot dropped onto a floor map by an admin.
type PlaceRequest struct {
	ZoneID     int64   `json:"zone_id"`
	FloorLevel int     `json:"floor_level"`
	SpotNumber string  `json:"spot_number"`
	X          float64 `json:"x_coord"`
	Y          float64 `json:"y_coord"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Rotation   float64 `json:"rotation"`
}

func (m *Machine) requireAdmin(a Actor) error {
	if !a.IsAdmin() {
		return apperr.ErrForbidden
	}
	return nil
}

func validatePosition(x, y float64) error {
	if !model.InPercentRange(x) {
		return apperr.Invalid("x_coord", "must be between 0 and 100")
	}
	if !model.InPercentRange(y) {
		return apperr.Invalid("y_coord", "must be between 0 and 100")
	}
	return nil
}

func (m *Machine) zone(ctx context.Context, id int64) (model.Zone, error) {
	if m.catalog == nil {
		return model.Zone{}, apperr.NotFound("zone", id)
	}
	return m.catalog.Zone(ctx, id)
}

// PlaceSpot creates a new Available spot.  New spots always start free;
// claims are only ever created through Reserve.
func (m *Machine) PlaceSpot(ctx context.Context, a Actor, req PlaceRequest) (Result, error) {
	if err := m.requireAdmin(a); err != nil {
		return fail(model.Spot{}, err)
	}
	req.SpotNumber = strings.TrimSpace(req.SpotNumber)
	if req.SpotNumber == "" {
		return fail(model.Spot{}, apperr.Invalid("spot_number", "is required"))
	}
	if err := validatePosition(req.X, req.Y); err != nil {
		return fail(model.Spot{}, err)
	}
	if req.Width < 0 || req.Height < 0 {
		return fail(model.Spot{}, apperr.Invalid("size", "must not be negative"))
	}
	z, err := m.zone(ctx, req.ZoneID)
	if err != nil {
		return fail(model.Spot{}, err)
	}
	if !z.HasFloor(req.FloorLevel) {
		return fail(model.Spot{}, apperr.Invalid("floor_level", fmt.Sprintf("zone %d has %d floor(s)", z.ID, z.FloorCount())))
	}

	now := m.now()
	created, err := m.spots.Insert(ctx, model.Spot{
		ZoneID:     z.ID,
		FloorLevel: req.FloorLevel,
		SpotNumber: req.SpotNumber,
		Status:     model.StatusAvailable,
		X:          req.X,
		Y:          req.Y,
		Width:      req.Width,
		Height:     req.Height,
		Rotation:   req.Rotation,
		Version:    1,
		UpdatedAt:  now,
	})
	if err != nil {
		return fail(model.Spot{}, err)
	}
	ev := model.NewInsert(created, model.ReasonPlace, now)
	m.afterCommit(ctx, ev)
	return Result{Outcome: Committed, Spot: created, Event: &ev}, nil
}

// MoveSpot repositions a spot.  A drag gesture is committed once when it
// ends, not on every intermediate position.
func (m *Machine) MoveSpot(ctx context.Context, a Actor, spotID int64, x, y float64) (Result, error) {
	if err := m.requireAdmin(a); err != nil {
		return fail(model.Spot{}, err)
	}
	if err := validatePosition(x, y); err != nil {
		return fail(model.Spot{}, err)
	}
	cur, err := m.spots.Get(ctx, spotID)
	if err != nil {
		return fail(model.Spot{}, err)
	}
	if cur.X == x && cur.Y == y {
		return Result{Outcome: Replayed, Spot: cur}, nil
	}
	now := m.now()
	next := cur.Clone()
	next.X, next.Y = x, y
	next.Version = cur.Version + 1
	next.UpdatedAt = now
	committed, err := m.spots.CompareAndSwap(ctx, next, cur.Version, repository.Guard{})
	if err != nil {
		return fail(cur, err)
	}
	ev := model.NewUpdate(cur, committed, model.ReasonMove, now)
	m.afterCommit(ctx, ev)
	return Result{Outcome: Committed, Spot: committed, Event: &ev}, nil
}

// DeleteSpot removes a spot.  A running reservation on it is dropped along
// with its expiry timer.
func (m *Machine) DeleteSpot(ctx context.Context, a Actor, spotID int64) (Result, error) {
	if err := m.requireAdmin(a); err != nil {
		return fail(model.Spot{}, err)
	}
	before, err := m.spots.Delete(ctx, spotID)
	if err != nil {
		return fail(model.Spot{}, err)
	}
	ev := model.NewDelete(before, model.ReasonDelete, m.now())
	m.afterCommit(ctx, ev)
	return Result{Outcome: Committed, Spot: before, Event: &ev}, nil
}

// ActiveClaim returns the spot userID currently holds, or nil.
func (m *Machine) ActiveClaim(ctx context.Context, userID string) (*model.Spot, error) {
	if userID == "" {
		return nil, apperr.Invalid("user_id", "is required")
	}
	return m.spots.ActiveClaim(ctx, userID)
}

// ZoneSpots returns the full current state of a zone.  Clients call it on
// first load and after the realtime channel reconnects.
func (m *Machine) ZoneSpots(ctx context.Context, zoneID int64) ([]model.Spot, error) {
	if _, err := m.zone(ctx, zoneID); err != nil {
		return nil, err
	}
	return m.spots.ListByZone(ctx, zoneID)
}

// FloorAvailability counts spots per status on one floor.
type FloorAvailability struct {
	FloorLevel int `json:"floor_level"`
	Available  int `json:"available"`
	Reserved   int `json:"reserved"`
	Occupied   int `json:"occupied"`
}

// Availability summarises every floor of a zone, including empty ones.
func (m *Machine) Availability(ctx context.Context, zoneID int64) ([]FloorAvailability, error) {
	z, err := m.zone(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	spots, err := m.spots.ListByZone(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	out := make([]FloorAvailability, z.FloorCount())
	for i := range out {
		out[i].FloorLevel = i
	}
	for _, s := range spots {
		if !z.HasFloor(s.FloorLevel) {
			continue
		}
		switch s.Status {
		case model.StatusAvailable:
			out[s.FloorLevel].Available++
		case model.StatusReserved:
			out[s.FloorLevel].Reserved++
		case model.StatusOccupied:
			out[s.FloorLevel].Occupied++
		}
	}
	return out, nil
}
