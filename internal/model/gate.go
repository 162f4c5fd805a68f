package model

// Gate is an entrance of a zone.  Its coordinates use the same percentage
// space as spots, so distances between the two are directly comparable.
//
// Fields:
//  ID     – primary key identifier.
//  ZoneID – zone the gate belongs to.
//  Name   – display name.
//  X, Y   – position on the floor map (0..100).
type Gate struct {
	ID     int64   `json:"id"`      // gates.id
	ZoneID int64   `json:"zone_id"` // gates.zone_id
	Name   string  `json:"name"`    // gates.name
	X      float64 `json:"x_coord"` // gates.x_coord
	Y      float64 `json:"y_coord"` // gates.y_coord
}
