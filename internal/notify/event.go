// Package notify delivers spot release and confirmation notices to users
// over RabbitMQ.  The API publishes a SpotNotification whenever a held spot
// is confirmed, cancelled, expired or removed by an operator; a consumer
// writes each notice to logs/notifications.log where the delivery channel
// of choice (mail, push) picks it up.
package notify

import (
	"time"

	"github.com/iliyamo/parking-spot-reservation/internal/model"
)

// QueueName is the durable queue carrying SpotNotification messages.
const QueueName = "spot.notifications"

// Kind says what happened to the user's spot.
type Kind string

const (
	KindExpired   Kind = "expired"
	KindCancelled Kind = "cancelled"
	KindConfirmed Kind = "confirmed"
	KindRemoved   Kind = "removed" // deleted or replaced by an operator
)

// SpotNotification is the message body.  It contains everything the
// consumer needs to format a notice without querying the database.
type SpotNotification struct {
	Kind       Kind   `json:"kind"`
	SpotID     int64  `json:"spot_id"`
	ZoneID     int64  `json:"zone_id"`
	FloorLevel int    `json:"floor_level"`
	SpotNumber string `json:"spot_number"`
	UserID     string `json:"user_id"`
	At         string `json:"at"`
}

// kindFor maps a change reason to a notification kind.  ok is false for
// reasons that do not notify.
func kindFor(r model.Reason) (Kind, bool) {
	switch r {
	case model.ReasonExpire:
		return KindExpired, true
	case model.ReasonCancel:
		return KindCancelled, true
	case model.ReasonConfirm:
		return KindConfirmed, true
	case model.ReasonDelete, model.ReasonCopyLayout:
		return KindRemoved, true
	}
	return "", false
}

// FromEvent builds the notification for userID.  ok is false when the
// event does not call for one.
func FromEvent(ev model.ChangeEvent, userID string) (SpotNotification, bool) {
	kind, ok := kindFor(ev.Reason)
	if !ok || ev.Before == nil || userID == "" {
		return SpotNotification{}, false
	}
	at := ev.CommittedAt
	if at.IsZero() {
		at = time.Now()
	}
	return SpotNotification{
		Kind:       kind,
		SpotID:     ev.Before.ID,
		ZoneID:     ev.ZoneID,
		FloorLevel: ev.Before.FloorLevel,
		SpotNumber: ev.Before.SpotNumber,
		UserID:     userID,
		At:         at.UTC().Format(time.RFC3339),
	}, true
}
