package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
	"github.com/iliyamo/parking-spot-reservation/internal/nearest"
	"github.com/iliyamo/parking-spot-reservation/internal/repository"
	"github.com/iliyamo/parking-spot-reservation/internal/reservation"
)

// ZoneHandler serves zone-level reads.
type ZoneHandler struct {
	Machine *reservation.Machine
	Catalog repository.Catalog
	Finder  *nearest.Finder
}

// NewZoneHandler constructs a ZoneHandler and panics if any dependency is nil.
func NewZoneHandler(m *reservation.Machine, catalog repository.Catalog, finder *nearest.Finder) *ZoneHandler {
	if m == nil || catalog == nil || finder == nil {
		panic("nil dependency passed to NewZoneHandler")
	}
	return &ZoneHandler{Machine: m, Catalog: catalog, Finder: finder}
}

// Spots handles GET /v1/zones/:id/spots and returns the full current
// state.  Clients call it on load and after the change stream reconnects.
func (h *ZoneHandler) Spots(c echo.Context) error {
	zoneID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	ctx := c.Request().Context()
	zone, err := h.Catalog.Zone(ctx, zoneID)
	if err != nil {
		return respondError(c, err)
	}
	spots, err := h.Machine.ZoneSpots(ctx, zoneID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"zone":  zone,
		"count": len(spots),
		"items": spots,
	})
}

// Availability handles GET /v1/zones/:id/availability.
func (h *ZoneHandler) Availability(c echo.Context) error {
	zoneID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	floors, err := h.Machine.Availability(c.Request().Context(), zoneID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"zone_id": zoneID, "floors": floors})
}

// Gates handles GET /v1/zones/:id/gates.
func (h *ZoneHandler) Gates(c echo.Context) error {
	zoneID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	ctx := c.Request().Context()
	if _, err := h.Catalog.Zone(ctx, zoneID); err != nil {
		return respondError(c, err)
	}
	gates, err := h.Catalog.Gates(ctx, zoneID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"zone_id": zoneID, "count": len(gates), "items": gates})
}

// Nearest handles GET /v1/zones/:id/nearest?gate_id=.  gate_id is
// required unless the zone has no gates, which reports no_gate_configured.
func (h *ZoneHandler) Nearest(c echo.Context) error {
	zoneID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var gateID int64
	if raw := c.QueryParam("gate_id"); raw != "" {
		gateID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || gateID <= 0 {
			return respondError(c, apperr.Invalid("gate_id", "must be a positive integer"))
		}
	}
	match, err := h.Finder.FindNearest(c.Request().Context(), zoneID, gateID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, match)
}
