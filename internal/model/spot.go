package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// SpotStatus is the occupancy state of a spot.  The numeric values are the
// ones stored in spots.status and sent on the wire, so they must not change.
type SpotStatus int

const (
	StatusAvailable SpotStatus = 0 // free for anyone to reserve
	StatusReserved  SpotStatus = 1 // held by a user, expires after the reservation window
	StatusOccupied  SpotStatus = 2 // the holder has confirmed arrival
)

// ParseSpotStatus converts a raw integer into a SpotStatus.  Any value
// outside 0..2 is rejected.
func ParseSpotStatus(v int) (SpotStatus, error) {
	s := SpotStatus(v)
	if !s.Valid() {
		return 0, fmt.Errorf("unknown spot status %d", v)
	}
	return s, nil
}

// Valid reports whether s is one of the three known states.
func (s SpotStatus) Valid() bool {
	return s == StatusAvailable || s == StatusReserved || s == StatusOccupied
}

// Active reports whether the status counts as a claim held by a user.
func (s SpotStatus) Active() bool {
	return s == StatusReserved || s == StatusOccupied
}

func (s SpotStatus) String() string {
	switch s {
	case StatusAvailable:
		return "AVAILABLE"
	case StatusReserved:
		return "RESERVED"
	case StatusOccupied:
		return "OCCUPIED"
	}
	return "UNKNOWN(" + strconv.Itoa(int(s)) + ")"
}

// UnmarshalJSON rejects integers that do not name a known status.
func (s *SpotStatus) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	parsed, err := ParseSpotStatus(n)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Spot is a single parking bay drawn on a floor map.  Coordinates and
// dimensions are percentages of the floor image so that the layout scales
// with the rendered map.
//
// Fields:
//  ID          – primary key identifier.
//  ZoneID      – zone the spot belongs to.
//  FloorLevel  – floor index, 0 is the ground floor.
//  SpotNumber  – label, unique within (zone, floor).
//  Status      – Available, Reserved or Occupied.
//  X, Y        – position on the floor map (0..100).
//  Width       – marker width in percent.
//  Height      – marker height in percent.
//  Rotation    – marker rotation in degrees.
//  ReservedBy  – user holding the spot; set while Reserved or Occupied.
//  ReservedAt  – start of the reservation window; set only while Reserved.
//  Version     – incremented on every committed write; used for
//                compare-and-set and event ordering.
//  UpdatedAt   – timestamp of the last committed write.
type Spot struct {
	ID         int64      `json:"id"`          // spots.id
	ZoneID     int64      `json:"zone_id"`     // spots.zone_id
	FloorLevel int        `json:"floor_level"` // spots.floor_level
	SpotNumber string     `json:"spot_number"` // spots.spot_number
	Status     SpotStatus `json:"status"`      // spots.status
	X          float64    `json:"x_coord"`     // spots.x_coord
	Y          float64    `json:"y_coord"`     // spots.y_coord
	Width      float64    `json:"width"`       // spots.width
	Height     float64    `json:"height"`      // spots.height
	Rotation   float64    `json:"rotation"`    // spots.rotation
	ReservedBy *string    `json:"reserved_by"` // spots.reserved_by
	ReservedAt *time.Time `json:"reserved_at"` // spots.reserved_at
	Version    int64      `json:"version"`     // spots.version
	UpdatedAt  time.Time  `json:"updated_at"`  // spots.updated_at
}

// HeldBy reports whether the spot is claimed by userID.
func (s Spot) HeldBy(userID string) bool {
	return s.ReservedBy != nil && *s.ReservedBy == userID
}

// Clone returns a deep copy so that callers can mutate the result without
// touching shared cache entries.
func (s Spot) Clone() Spot {
	out := s
	if s.ReservedBy != nil {
		v := *s.ReservedBy
		out.ReservedBy = &v
	}
	if s.ReservedAt != nil {
		v := *s.ReservedAt
		out.ReservedAt = &v
	}
	return out
}

// Validate checks the field-level invariants that must hold for every
// stored spot.
func (s Spot) Validate() error {
	if !s.Status.Valid() {
		return fmt.Errorf("spot %d: invalid status %d", s.ID, int(s.Status))
	}
	if s.FloorLevel < 0 {
		return fmt.Errorf("spot %d: negative floor level", s.ID)
	}
	if (s.ReservedBy != nil) != s.Status.Active() {
		return fmt.Errorf("spot %d: reserved_by must be set exactly when reserved or occupied", s.ID)
	}
	if (s.ReservedAt != nil) != (s.Status == StatusReserved) {
		return fmt.Errorf("spot %d: reserved_at must be set exactly when reserved", s.ID)
	}
	return nil
}

// InPercentRange reports whether v is a valid map coordinate.
func InPercentRange(v float64) bool {
	return v >= 0 && v <= 100
}
