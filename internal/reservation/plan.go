package reservation

import (
	"fmt"
	"time"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
	"github.com/iliyamo/parking-spot-reservation/internal/model"
)

// Action is a user-initiated transition.
type Action string

const (
	ActionReserve Action = "reserve"
	ActionConfirm Action = "confirm"
	ActionCancel  Action = "cancel"
	ActionLeave   Action = "leave"
)

// ParseAction converts a path segment into an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionReserve, ActionConfirm, ActionCancel, ActionLeave:
		return a, nil
	}
	return "", apperr.Invalid("action", fmt.Sprintf("unknown action %q", s))
}

// Reason is the change reason recorded for the action.
func (a Action) Reason() model.Reason {
	switch a {
	case ActionReserve:
		return model.ReasonReserve
	case ActionConfirm:
		return model.ReasonConfirm
	case ActionCancel:
		return model.ReasonCancel
	}
	return model.ReasonLeave
}

// Plan computes the state that applying action to cur on behalf of userID
// would produce.  replay is true when the effect is already in place and
// nothing needs to be written.  The same function drives the server-side
// commit and the optimistic client view, so both always agree.
func Plan(cur model.Spot, action Action, userID string, now time.Time) (next model.Spot, replay bool, err error) {
	next = cur.Clone()
	mine := cur.HeldBy(userID)

	switch action {
	case ActionReserve:
		if cur.Status == model.StatusReserved && mine {
			return cur, true, nil
		}
		if cur.Status != model.StatusAvailable {
			return cur, false, apperr.Conflict(cur.ID, "spot is not available")
		}
		u, at := userID, now
		next.Status = model.StatusReserved
		next.ReservedBy = &u
		next.ReservedAt = &at

	case ActionConfirm:
		if cur.Status == model.StatusOccupied && mine {
			return cur, true, nil
		}
		if cur.Status != model.StatusReserved || !mine {
			return cur, false, apperr.Conflict(cur.ID, "no active reservation held by caller")
		}
		next.Status = model.StatusOccupied
		next.ReservedAt = nil

	case ActionCancel:
		if cur.Status != model.StatusReserved || !mine {
			return cur, false, apperr.Conflict(cur.ID, "no active reservation held by caller")
		}
		release(&next)

	case ActionLeave:
		if cur.Status == model.StatusAvailable {
			return cur, true, nil
		}
		if cur.Status != model.StatusOccupied || !mine {
			return cur, false, apperr.Conflict(cur.ID, "spot is not occupied by caller")
		}
		release(&next)

	default:
		return cur, false, apperr.Invalid("action", fmt.Sprintf("unknown action %q", action))
	}

	next.Version = cur.Version + 1
	next.UpdatedAt = now
	return next, false, nil
}

func release(s *model.Spot) {
	s.Status = model.StatusAvailable
	s.ReservedBy = nil
	s.ReservedAt = nil
}
