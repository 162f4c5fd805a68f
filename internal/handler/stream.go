package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-spot-reservation/internal/realtime"
	"github.com/iliyamo/parking-spot-reservation/internal/repository"
)

// TokenGranter issues read tokens for the PubNub mirror of the change feed.
type TokenGranter interface {
	GrantReadToken(ctx context.Context, viewerID string, ttlMinutes int) (string, error)
}

// StreamHandler serves the zone change stream.
type StreamHandler struct {
	Hub       *realtime.Hub
	Catalog   repository.Catalog
	Heartbeat time.Duration
	PubNub    TokenGranter // optional
}

// NewStreamHandler constructs a StreamHandler and panics if hub or catalog is nil.
func NewStreamHandler(hub *realtime.Hub, catalog repository.Catalog, heartbeat time.Duration) *StreamHandler {
	if hub == nil || catalog == nil {
		panic("nil dependency passed to NewStreamHandler")
	}
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &StreamHandler{Hub: hub, Catalog: catalog, Heartbeat: heartbeat}
}

// Stream handles GET /v1/zones/:id/stream.  The first frame is the feed
// status.  If the connection falls too far behind it receives an OFFLINE
// status and is closed; the client must re-fetch the zone.
func (h *StreamHandler) Stream(c echo.Context) error {
	zoneID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	ctx := c.Request().Context()
	if _, err := h.Catalog.Zone(ctx, zoneID); err != nil {
		return respondError(c, err)
	}

	sub := h.Hub.Subscribe(zoneID)
	defer h.Hub.Unsubscribe(sub)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(h.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-sub.C():
			if !ok {
				if sub.Dropped() {
					_ = realtime.WriteFrame(w, realtime.Envelope{Health: realtime.Offline})
					w.Flush()
				}
				return nil
			}
			if err := realtime.WriteFrame(w, env); err != nil {
				return nil // client went away
			}
			w.Flush()
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

// RealtimeToken handles GET /v1/realtime/token.  It returns a PubNub
// token that can read every zone channel, or 404 when the relay is off.
func (h *StreamHandler) RealtimeToken(c echo.Context) error {
	if h.PubNub == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found", "message": "realtime relay disabled"})
	}
	actor, err := getActor(c)
	if err != nil {
		return respondError(c, err)
	}
	const ttl = 60
	tok, err := h.PubNub.GrantReadToken(c.Request().Context(), actor.UserID, ttl)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"token":           tok,
		"ttl_minutes":     ttl,
		"channel_pattern": realtime.PubNubChannelPattern,
	})
}
