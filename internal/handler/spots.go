package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-spot-reservation/internal/reservation"
)

// SpotHandler serves the driver-facing spot actions.
type SpotHandler struct {
	Machine *reservation.Machine
}

// NewSpotHandler constructs a SpotHandler and panics if m is nil.
func NewSpotHandler(m *reservation.Machine) *SpotHandler {
	if m == nil {
		panic("nil machine passed to NewSpotHandler")
	}
	return &SpotHandler{Machine: m}
}

// Reserve handles POST /v1/spots/:id/reserve.
func (h *SpotHandler) Reserve(c echo.Context) error { return h.act(c, reservation.ActionReserve) }

// Confirm handles POST /v1/spots/:id/confirm.
func (h *SpotHandler) Confirm(c echo.Context) error { return h.act(c, reservation.ActionConfirm) }

// Cancel handles POST /v1/spots/:id/cancel.
func (h *SpotHandler) Cancel(c echo.Context) error { return h.act(c, reservation.ActionCancel) }

// Leave handles POST /v1/spots/:id/leave.
func (h *SpotHandler) Leave(c echo.Context) error { return h.act(c, reservation.ActionLeave) }

func (h *SpotHandler) act(c echo.Context, action reservation.Action) error {
	actor, err := getActor(c)
	if err != nil {
		return respondError(c, err)
	}
	spotID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	res, err := h.Machine.Apply(c.Request().Context(), actor, spotID, action)
	if err != nil {
		return respondError(c, err)
	}
	return respondResult(c, http.StatusOK, res)
}

// MySpot handles GET /v1/me/spot and returns the caller's active claim,
// with a null spot when there is none.
func (h *SpotHandler) MySpot(c echo.Context) error {
	actor, err := getActor(c)
	if err != nil {
		return respondError(c, err)
	}
	claim, err := h.Machine.ActiveClaim(c.Request().Context(), actor.UserID)
	if err != nil {
		return respondError(c, err)
	}
	resp := echo.Map{"spot": claim}
	if claim != nil && claim.ReservedAt != nil {
		resp["expires_at"] = h.Machine.Deadline(*claim.ReservedAt)
	}
	return c.JSON(http.StatusOK, resp)
}
