// Package layout copies the spot layout of one floor of a building onto
// every other floor.
//
// Copying is destructive: whatever the target floors held is replaced.
// The delete and the insert run as one batch in the registry, so a crash
// leaves either the old layout or the new one, never empty floors.  If the
// registry cannot say whether the batch committed the error is a
// PartialFailureError and nobody retries it automatically.
package layout

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
	"github.com/iliyamo/parking-spot-reservation/internal/model"
	"github.com/iliyamo/parking-spot-reservation/internal/repository"
	"github.com/iliyamo/parking-spot-reservation/internal/reservation"
)

// Announcer runs post-commit side effects: broadcast, disarming expiry
// timers and notifying holders of removed spots.
type Announcer interface {
	Announce(ctx context.Context, ev model.ChangeEvent)
}

// Report describes a completed copy.
type Report struct {
	ZoneID       int64 `json:"zone_id"`
	SourceFloor  int   `json:"source_floor"`
	TargetFloors []int `json:"target_floors"`
	Deleted      int   `json:"deleted"`
	Created      int   `json:"created"`
}

// Replicator runs CopyLayout.
type Replicator struct {
	spots     repository.SpotStore
	catalog   repository.Catalog
	announcer Announcer
	clock     func() time.Time
	log       *slog.Logger
}

// NewReplicator creates a Replicator.  announcer may be nil.
func NewReplicator(spots repository.SpotStore, catalog repository.Catalog, announcer Announcer, log *slog.Logger) *Replicator {
	if log == nil {
		log = slog.Default()
	}
	return &Replicator{spots: spots, catalog: catalog, announcer: announcer, clock: time.Now, log: log}
}

var floorSuffix = regexp.MustCompile(`-(F[0-9]+|G)$`)

// Suffix returns the label suffix of a floor: "-G" for the ground floor
// and "-F<n>" above it.
func Suffix(floor int) string {
	if floor == 0 {
		return "-G"
	}
	return "-F" + strconv.Itoa(floor)
}

// BaseNumber strips a trailing floor suffix from a spot number.
func BaseNumber(number string) string {
	return floorSuffix.ReplaceAllString(number, "")
}

// NumberFor derives the label of a copy of number placed on floor.
func NumberFor(number string, floor int) string {
	return BaseNumber(number) + Suffix(floor)
}

// Synthesize builds the spots that replace the target floors.
func Synthesize(source []model.Spot, zoneID int64, targets []int) ([]model.Spot, error) {
	out := make([]model.Spot, 0, len(source)*len(targets))
	for _, floor := range targets {
		seen := make(map[string]string, len(source))
		for _, s := range source {
			number := NumberFor(s.SpotNumber, floor)
			if prev, dup := seen[number]; dup {
				return nil, apperr.Conflict(s.ID, fmt.Sprintf("spots %q and %q both map to %q on floor %d", prev, s.SpotNumber, number, floor))
			}
			seen[number] = s.SpotNumber
			out = append(out, model.Spot{
				ZoneID:     zoneID,
				FloorLevel: floor,
				SpotNumber: number,
				Status:     model.StatusAvailable,
				X:          s.X,
				Y:          s.Y,
				Width:      s.Width,
				Height:     s.Height,
				Rotation:   s.Rotation,
				Version:    1,
			})
		}
	}
	return out, nil
}

// CopyLayout replaces every floor of zoneID other than sourceFloor with a
// copy of sourceFloor's spots.
func (r *Replicator) CopyLayout(ctx context.Context, a reservation.Actor, zoneID int64, sourceFloor int) (Report, error) {
	if !a.IsAdmin() {
		return Report{}, apperr.ErrForbidden
	}
	zone, err := r.catalog.Zone(ctx, zoneID)
	if err != nil {
		return Report{}, err
	}
	if zone.Kind != model.ZoneBuilding {
		return Report{}, apperr.Invalid("zone", "layouts are copied between floors of a building")
	}
	if zone.FloorCount() < 2 {
		return Report{}, apperr.Invalid("zone", "building has a single floor")
	}
	if !zone.HasFloor(sourceFloor) {
		return Report{}, apperr.Invalid("source_floor", fmt.Sprintf("must be between 0 and %d", zone.FloorCount()-1))
	}

	source, err := r.spots.ListByFloor(ctx, zoneID, sourceFloor)
	if err != nil {
		return Report{}, err
	}
	if len(source) == 0 {
		return Report{}, apperr.ErrNothingToCopy
	}

	targets := make([]int, 0, zone.FloorCount()-1)
	for f := 0; f < zone.FloorCount(); f++ {
		if f != sourceFloor {
			targets = append(targets, f)
		}
	}
	batch, err := Synthesize(source, zoneID, targets)
	if err != nil {
		return Report{}, err
	}

	res, err := r.spots.ReplaceFloors(ctx, zoneID, targets, batch)
	if err != nil {
		r.log.Error("copy layout failed", "zone_id", zoneID, "source_floor", sourceFloor, "err", err)
		return Report{}, err
	}

	now := r.clock().UTC()
	if r.announcer != nil {
		for _, s := range res.Deleted {
			r.announcer.Announce(ctx, model.NewDelete(s, model.ReasonCopyLayout, now))
		}
		for _, s := range res.Created {
			r.announcer.Announce(ctx, model.NewInsert(s, model.ReasonCopyLayout, now))
		}
	}
	r.log.Info("layout copied", "zone_id", zoneID, "source_floor", sourceFloor,
		"target_floors", targets, "deleted", len(res.Deleted), "created", len(res.Created), "by", a.UserID)

	return Report{
		ZoneID:       zoneID,
		SourceFloor:  sourceFloor,
		TargetFloors: targets,
		Deleted:      len(res.Deleted),
		Created:      len(res.Created),
	}, nil
}
