// Package nearest picks the Available spot closest to a gate.
//
// Ranking is lexicographic: the lowest floor wins first, and distance to
// the gate only breaks ties within a floor.  A driver entering at ground
// level prefers a spot one ramp away over a closer one three floors up.
package nearest

import (
	"context"
	"math"
	"sort"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
	"github.com/iliyamo/parking-spot-reservation/internal/model"
	"github.com/iliyamo/parking-spot-reservation/internal/repository"
)

// Distance is the straight-line distance between a spot and a gate on the
// shared percentage grid.
func Distance(s model.Spot, g model.Gate) float64 {
	return math.Hypot(s.X-g.X, s.Y-g.Y)
}

// Rank returns the Available spots ordered by floor, then distance.  Spots
// that tie on both keep their input order.
func Rank(spots []model.Spot, gate model.Gate) []model.Spot {
	out := make([]model.Spot, 0, len(spots))
	for _, s := range spots {
		if s.Status == model.StatusAvailable {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FloorLevel != out[j].FloorLevel {
			return out[i].FloorLevel < out[j].FloorLevel
		}
		return Distance(out[i], gate) < Distance(out[j], gate)
	})
	return out
}

// Select returns the best Available spot for gate, or ErrNoneAvailable.
func Select(spots []model.Spot, gate model.Gate) (model.Spot, error) {
	ranked := Rank(spots, gate)
	if len(ranked) == 0 {
		return model.Spot{}, apperr.ErrNoneAvailable
	}
	return ranked[0], nil
}

// Match is the answer of FindNearest.
type Match struct {
	Spot     model.Spot `json:"spot"`
	Gate     model.Gate `json:"gate"`
	Distance float64    `json:"distance"`
}

// Finder resolves a zone's gates and spots and runs Select.
type Finder struct {
	spots   repository.SpotStore
	catalog repository.Catalog
}

// NewFinder creates a Finder.
func NewFinder(spots repository.SpotStore, catalog repository.Catalog) *Finder {
	return &Finder{spots: spots, catalog: catalog}
}

// FindNearest returns the nearest Available spot of zoneID to gateID.  A
// The gate must be named; a zone with no gates at all reports
// ErrNoGateConfigured.
func (f *Finder) FindNearest(ctx context.Context, zoneID, gateID int64) (Match, error) {
	if _, err := f.catalog.Zone(ctx, zoneID); err != nil {
		return Match{}, err
	}
	gate, err := f.gate(ctx, zoneID, gateID)
	if err != nil {
		return Match{}, err
	}
	spots, err := f.spots.ListByZone(ctx, zoneID)
	if err != nil {
		return Match{}, err
	}
	best, err := Select(spots, gate)
	if err != nil {
		return Match{}, err
	}
	return Match{Spot: best, Gate: gate, Distance: Distance(best, gate)}, nil
}

func (f *Finder) gate(ctx context.Context, zoneID, gateID int64) (model.Gate, error) {
	gates, err := f.catalog.Gates(ctx, zoneID)
	if err != nil {
		return model.Gate{}, err
	}
	if len(gates) == 0 {
		return model.Gate{}, apperr.ErrNoGateConfigured
	}
	if gateID <= 0 {
		return model.Gate{}, apperr.Invalid("gate_id", "is required")
	}
	for _, g := range gates {
		if g.ID == gateID {
			return g, nil
		}
	}
	return model.Gate{}, apperr.NotFound("gate", gateID)
}
