// Package expiry owns the reservation timers.  A reservation that is not
// confirmed within the window is released by the server, whether or not
// the client that made it is still connected.
//
// Two schedulers implement reservation.Scheduler: AsynqScheduler persists
// timers in Redis so they survive restarts and run on any worker, and
// LocalScheduler keeps them in process for single-node and test setups.
// Recover re-arms every running reservation from its persisted
// reserved_at when a process starts.
package expiry

import (
	"context"
	"time"

	"github.com/iliyamo/parking-spot-reservation/internal/model"
	"github.com/iliyamo/parking-spot-reservation/internal/reservation"
)

// Expirer is the part of the reservation machine the timers drive.
type Expirer interface {
	Expire(ctx context.Context, spotID int64, reservedAt time.Time) (reservation.Result, error)
	Deadline(reservedAt time.Time) time.Time
}

// ReservedLister lists spots with a running reservation window.
type ReservedLister interface {
	ListReserved(ctx context.Context) ([]model.Spot, error)
}

// Recover arms a timer for every Reserved spot.  Deadlines already in the
// past fire immediately.
func Recover(ctx context.Context, spots ReservedLister, s reservation.Scheduler) (int, error) {
	reserved, err := spots.ListReserved(ctx)
	if err != nil {
		return 0, err
	}
	armed := 0
	for _, sp := range reserved {
		if sp.ReservedAt == nil {
			continue
		}
		if err := s.Arm(ctx, sp.ID, *sp.ReservedAt); err != nil {
			return armed, err
		}
		armed++
	}
	return armed, nil
}
