package reservation

import "github.com/iliyamo/parking-spot-reservation/internal/model"

// Outcome classifies how a mutation ended.
type Outcome int

const (
	// Committed means a new version was written.
	Committed Outcome = iota
	// Replayed means the requested effect was already in place.
	Replayed
	// Skipped means an expiry found nothing due.
	Skipped
	// Rejected means the input was invalid or the target missing.
	Rejected
	// Conflict means the precondition failed or a concurrent writer won.
	Conflict
	// TransientFailure means the store could not be reached.  Retrying is safe.
	TransientFailure
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Replayed:
		return "replayed"
	case Skipped:
		return "skipped"
	case Rejected:
		return "rejected"
	case Conflict:
		return "conflict"
	}
	return "transient_failure"
}

// Result is returned by every mutating call.  Spot is the authoritative
// record after the call; Event is set only when something was committed.
type Result struct {
	Outcome Outcome
	Spot    model.Spot
	Event   *model.ChangeEvent
}
