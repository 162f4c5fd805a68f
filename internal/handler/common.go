package handler // handler defines the HTTP handlers of the parking API

import (
	"net/http" // net/http provides status codes
	"strconv"  // strconv parses path parameters

	"github.com/labstack/echo/v4" // echo defines request context types

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"      // apperr classifies domain errors
	"github.com/iliyamo/parking-spot-reservation/internal/middleware"  // middleware exposes the authenticated identity
	"github.com/iliyamo/parking-spot-reservation/internal/model"       // model defines spots
	"github.com/iliyamo/parking-spot-reservation/internal/reservation" // reservation defines Actor and Result
)

// statusFor maps an error code to the HTTP status returned to the client.
var statusFor = map[string]int{
	apperr.CodeValidation:     http.StatusBadRequest,
	apperr.CodeNotFound:       http.StatusNotFound,
	apperr.CodeConflict:       http.StatusConflict,
	apperr.CodeForbidden:      http.StatusForbidden,
	apperr.CodeNoGate:         http.StatusUnprocessableEntity,
	apperr.CodeNoneAvailable:  http.StatusNotFound,
	apperr.CodeNothingToCopy:  http.StatusUnprocessableEntity,
	apperr.CodePartialFailure: http.StatusInternalServerError,
	apperr.CodeUnavailable:    http.StatusServiceUnavailable,
	apperr.CodeInternal:       http.StatusInternalServerError,
}

// respondError writes err as {"error": code, "message": text}.
func respondError(c echo.Context, err error) error {
	code := apperr.Code(err)
	status, ok := statusFor[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := err.Error()
	if code == apperr.CodeInternal {
		msg = "internal error" // do not leak driver messages
	}
	if status >= http.StatusInternalServerError {
		c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(status, echo.Map{"error": code, "message": msg})
}

// getActor builds the Actor for the authenticated caller.
func getActor(c echo.Context) (reservation.Actor, error) {
	uid := middleware.UserID(c)
	if uid == "" {
		return reservation.Actor{}, apperr.Invalid("user_id", "missing in token")
	}
	return reservation.Actor{UserID: uid, Role: reservation.Role(middleware.Role(c))}, nil
}

// parseID reads a positive integer path parameter.
func parseID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

// ActionResponse is the body returned by every spot mutation.
type ActionResponse struct {
	Outcome string     `json:"outcome"`
	Spot    model.Spot `json:"spot"`
}

func respondResult(c echo.Context, status int, res reservation.Result) error {
	return c.JSON(status, ActionResponse{Outcome: res.Outcome.String(), Spot: res.Spot})
}
