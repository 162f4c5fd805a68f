package model

import "time"

// ZoneKind distinguishes multi-storey buildings from open-air lots.
type ZoneKind string

const (
	ZoneBuilding ZoneKind = "building"
	ZoneOutdoor  ZoneKind = "outdoor"
)

// Valid reports whether k is a known zone kind.
func (k ZoneKind) Valid() bool {
	return k == ZoneBuilding || k == ZoneOutdoor
}

// Zone is a parking area.  A building has one or more floors numbered
// from 0; an outdoor lot always has exactly one floor.
//
// Fields:
//  ID          – primary key identifier.
//  Name        – display name.
//  Kind        – building or outdoor.
//  TotalFloors – number of floors configured for a building.
//  CreatedAt   – creation timestamp.
type Zone struct {
	ID          int64     `json:"id"`           // zones.id
	Name        string    `json:"name"`         // zones.name
	Kind        ZoneKind  `json:"kind"`         // zones.kind
	TotalFloors int       `json:"total_floors"` // zones.total_floors
	CreatedAt   time.Time `json:"created_at"`   // zones.created_at
}

// FloorCount returns the number of addressable floors.  Outdoor zones
// always report one regardless of the stored value.
func (z Zone) FloorCount() int {
	if z.Kind == ZoneOutdoor || z.TotalFloors < 1 {
		return 1
	}
	return z.TotalFloors
}

// HasFloor reports whether floor is a valid index for the zone.
func (z Zone) HasFloor(floor int) bool {
	return floor >= 0 && floor < z.FloorCount()
}
