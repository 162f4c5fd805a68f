package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
	"github.com/iliyamo/parking-spot-reservation/internal/layout"
	"github.com/iliyamo/parking-spot-reservation/internal/reservation"
)

// AdminHandler serves the layout editor.
type AdminHandler struct {
	Machine    *reservation.Machine
	Replicator *layout.Replicator
}

// NewAdminHandler constructs an AdminHandler and panics if any dependency is nil.
func NewAdminHandler(m *reservation.Machine, r *layout.Replicator) *AdminHandler {
	if m == nil || r == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{Machine: m, Replicator: r}
}

// PlaceSpot handles POST /v1/admin/zones/:id/spots.
func (h *AdminHandler) PlaceSpot(c echo.Context) error {
	actor, err := getActor(c)
	if err != nil {
		return respondError(c, err)
	}
	zoneID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req reservation.PlaceRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, apperr.Invalid("body", "invalid JSON"))
	}
	req.ZoneID = zoneID // the path wins over the body
	res, err := h.Machine.PlaceSpot(c.Request().Context(), actor, req)
	if err != nil {
		return respondError(c, err)
	}
	return respondResult(c, http.StatusCreated, res)
}

type moveRequest struct {
	X *float64 `json:"x_coord"`
	Y *float64 `json:"y_coord"`
}

// MoveSpot handles PATCH /v1/admin/spots/:id/position.  The editor sends
// it once when a drag ends.
func (h *AdminHandler) MoveSpot(c echo.Context) error {
	actor, err := getActor(c)
	if err != nil {
		return respondError(c, err)
	}
	spotID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req moveRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, apperr.Invalid("body", "invalid JSON"))
	}
	if req.X == nil || req.Y == nil {
		return respondError(c, apperr.Invalid("position", "x_coord and y_coord are required"))
	}
	res, err := h.Machine.MoveSpot(c.Request().Context(), actor, spotID, *req.X, *req.Y)
	if err != nil {
		return respondError(c, err)
	}
	return respondResult(c, http.StatusOK, res)
}

// DeleteSpot handles DELETE /v1/admin/spots/:id.
func (h *AdminHandler) DeleteSpot(c echo.Context) error {
	actor, err := getActor(c)
	if err != nil {
		return respondError(c, err)
	}
	spotID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	res, err := h.Machine.DeleteSpot(c.Request().Context(), actor, spotID)
	if err != nil {
		return respondError(c, err)
	}
	return respondResult(c, http.StatusOK, res)
}

type copyLayoutRequest struct {
	SourceFloor *int `json:"source_floor"`
}

// CopyLayout handles POST /v1/admin/zones/:id/copy-layout.
func (h *AdminHandler) CopyLayout(c echo.Context) error {
	actor, err := getActor(c)
	if err != nil {
		return respondError(c, err)
	}
	zoneID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req copyLayoutRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, apperr.Invalid("body", "invalid JSON"))
	}
	if req.SourceFloor == nil {
		return respondError(c, apperr.Invalid("source_floor", "is required"))
	}
	rep, err := h.Replicator.CopyLayout(c.Request().Context(), actor, zoneID, *req.SourceFloor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"created":       rep.Created,
		"deleted":       rep.Deleted,
		"source_floor":  rep.SourceFloor,
		"target_floors": rep.TargetFloors,
	})
}
