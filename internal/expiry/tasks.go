package expiry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeSpotExpire = "spot:expire"
	TypeSpotSweep  = "spot:sweep"
)

// ExpirePayload identifies the reservation window a task belongs to.
type ExpirePayload struct {
	SpotID     int64     `json:"spot_id"`
	ReservedAt time.Time `json:"reserved_at"`
}

// NewExpireTask builds the task that releases a reservation.
func NewExpireTask(spotID int64, reservedAt time.Time) (*asynq.Task, error) {
	b, err := json.Marshal(ExpirePayload{SpotID: spotID, ReservedAt: reservedAt.UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSpotExpire, b), nil
}

// TaskID is deterministic so that arming the same reservation twice
// enqueues a single task.
func TaskID(spotID int64, reservedAt time.Time) string {
	return fmt.Sprintf("spot-expire:%d:%d", spotID, reservedAt.UTC().UnixNano())
}
