package realtime

import (
	"context"
	"errors"
	"fmt"

	pubnubgo "github.com/pubnub/go/v7"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
	"github.com/iliyamo/parking-spot-reservation/internal/model"
)

// PubNubConfig holds the keys for the PubNub relay.
type PubNubConfig struct {
	PublishKey, SubscribeKey, SecretKey, UserID string
}

// PubNubRelay mirrors zone changes to PubNub so that mobile viewers can
// subscribe without holding a connection to the API.
type PubNubRelay struct {
	pn *pubnubgo.PubNub
}

// NewPubNubRelay builds a relay.  Publish and subscribe keys are required.
func NewPubNubRelay(cfg PubNubConfig) (*PubNubRelay, error) {
	if cfg.PublishKey == "" || cfg.SubscribeKey == "" {
		return nil, errors.New("pubnub publish and subscribe keys are required")
	}
	userID := cfg.UserID
	if userID == "" {
		userID = "parking-api"
	}
	c := pubnubgo.NewConfigWithUserId(pubnubgo.UserId(userID))
	c.PublishKey = cfg.PublishKey
	c.SubscribeKey = cfg.SubscribeKey
	c.SecretKey = cfg.SecretKey
	return &PubNubRelay{pn: pubnubgo.NewPubNub(c)}, nil
}

// PubNubChannel names the PubNub channel of a zone.
func PubNubChannel(zoneID int64) string {
	return fmt.Sprintf("zone-%d", zoneID)
}

// PubNubChannelPattern matches every zone channel.
const PubNubChannelPattern = "^zone-[0-9]+$"

// pubnubMessage is the value handed to the PubNub publish call.  The SDK
// encodes it, so subscribers receive the event as a JSON object.
func pubnubMessage(ev model.ChangeEvent) interface{} {
	return ev
}

// Publish sends ev to the zone channel.
func (r *PubNubRelay) Publish(ctx context.Context, ev model.ChangeEvent) error {
	_, _, err := r.pn.PublishWithContext(ctx).Channel(PubNubChannel(ev.ZoneID)).Message(pubnubMessage(ev)).Execute()
	if err != nil {
		return apperr.Unavailable("pubnub", err)
	}
	return nil
}

// GrantReadToken issues a short-lived token that lets viewerID read every
// zone channel.  ttlMinutes follows the PubNub grant API.
func (r *PubNubRelay) GrantReadToken(ctx context.Context, viewerID string, ttlMinutes int) (string, error) {
	perms := map[string]pubnubgo.ChannelPermissions{
		PubNubChannelPattern: {Read: true},
	}
	res, _, err := r.pn.GrantTokenWithContext(ctx).
		TTL(ttlMinutes).
		AuthorizedUUID(viewerID).
		ChannelsPattern(perms).
		Execute()
	if err != nil {
		return "", apperr.Unavailable("pubnub", err)
	}
	return res.Data.Token, nil
}
