package model

import "time"

// Operation is the kind of row change carried by a ChangeEvent.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Reason records which action produced a change.  Consumers use it to tell
// an expiry apart from a user cancelling.
type Reason string

const (
	ReasonReserve    Reason = "reserve"
	ReasonConfirm    Reason = "confirm"
	ReasonCancel     Reason = "cancel"
	ReasonLeave      Reason = "leave"
	ReasonExpire     Reason = "expire"
	ReasonPlace      Reason = "place"
	ReasonMove       Reason = "move"
	ReasonDelete     Reason = "delete"
	ReasonCopyLayout Reason = "copy_layout"
)

// SpotsTable is the only table whose changes are broadcast.
const SpotsTable = "spots"

// ChangeEvent describes one committed write to a spot.  Before is nil for
// inserts and After is nil for deletes.
type ChangeEvent struct {
	Operation   Operation `json:"operation"`
	Table       string    `json:"table"`
	ZoneID      int64     `json:"zone_id"`
	Before      *Spot     `json:"before,omitempty"`
	After       *Spot     `json:"after,omitempty"`
	Reason      Reason    `json:"reason"`
	CommittedAt time.Time `json:"committed_at"`
}

// SpotID returns the id of the spot the event refers to.
func (e ChangeEvent) SpotID() int64 {
	if e.After != nil {
		return e.After.ID
	}
	if e.Before != nil {
		return e.Before.ID
	}
	return 0
}

// Version returns the version of the record carried by the event.  For
// deletes it is the version of the removed row.
func (e ChangeEvent) Version() int64 {
	if e.After != nil {
		return e.After.Version
	}
	if e.Before != nil {
		return e.Before.Version
	}
	return 0
}

// NewUpdate builds an UPDATE event from a committed transition.
func NewUpdate(before, after Spot, reason Reason, at time.Time) ChangeEvent {
	b, a := before.Clone(), after.Clone()
	return ChangeEvent{Operation: OpUpdate, Table: SpotsTable, ZoneID: after.ZoneID, Before: &b, After: &a, Reason: reason, CommittedAt: at}
}

// NewInsert builds an INSERT event for a newly created spot.
func NewInsert(after Spot, reason Reason, at time.Time) ChangeEvent {
	a := after.Clone()
	return ChangeEvent{Operation: OpInsert, Table: SpotsTable, ZoneID: after.ZoneID, After: &a, Reason: reason, CommittedAt: at}
}

// NewDelete builds a DELETE event for a removed spot.
func NewDelete(before Spot, reason Reason, at time.Time) ChangeEvent {
	b := before.Clone()
	return ChangeEvent{Operation: OpDelete, Table: SpotsTable, ZoneID: before.ZoneID, Before: &b, Reason: reason, CommittedAt: at}
}
