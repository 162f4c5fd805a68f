package repository

import (
	"context"

	"github.com/iliyamo/parking-spot-reservation/internal/model"
)

// Guard adds conditions that are evaluated atomically with a
// compare-and-set write.
type Guard struct {
	// ExclusiveClaimFor, when non-empty, makes the write fail if the user
	// already holds a Reserved or Occupied spot other than the target.
	ExclusiveClaimFor string
}

// ReplaceResult lists the rows removed and created by ReplaceFloors.
type ReplaceResult struct {
	Deleted []model.Spot
	Created []model.Spot
}

// SpotStore is the spot registry.  Every write is conditional: no caller
// holds a lock across a round trip, so consistency comes from the store
// rejecting writes whose expected version is stale.
type SpotStore interface {
	// Get returns a spot or a NotFoundError.
	Get(ctx context.Context, id int64) (model.Spot, error)
	// ListByZone returns every spot of a zone ordered by floor and number.
	ListByZone(ctx context.Context, zoneID int64) ([]model.Spot, error)
	// ListByFloor returns every spot on one floor of a zone.
	ListByFloor(ctx context.Context, zoneID int64, floor int) ([]model.Spot, error)
	// ListReserved returns every spot currently in the Reserved state.
	ListReserved(ctx context.Context) ([]model.Spot, error)
	// ActiveClaim returns the spot a user holds, or nil when none.
	ActiveClaim(ctx context.Context, userID string) (*model.Spot, error)
	// CompareAndSwap writes next if the stored version equals expect and
	// the guard holds.  next.Version and next.UpdatedAt are written as
	// given.  A lost race returns a ConflictError.
	CompareAndSwap(ctx context.Context, next model.Spot, expect int64, g Guard) (model.Spot, error)
	// Insert creates a spot and returns it with its id assigned.
	Insert(ctx context.Context, s model.Spot) (model.Spot, error)
	// Delete removes a spot and returns the row as it was.
	Delete(ctx context.Context, id int64) (model.Spot, error)
	// ReplaceFloors deletes every spot on floors and inserts spots in one
	// atomic batch.
	ReplaceFloors(ctx context.Context, zoneID int64, floors []int, spots []model.Spot) (ReplaceResult, error)
}

// Catalog exposes the reference data spots hang off.  Zone and gate
// editing belongs to the admin console and is not part of this service.
type Catalog interface {
	Zone(ctx context.Context, id int64) (model.Zone, error)
	Gates(ctx context.Context, zoneID int64) ([]model.Gate, error)
}
