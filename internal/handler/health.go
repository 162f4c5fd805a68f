package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-spot-reservation/internal/realtime"
)

// Health is the liveness endpoint used by load balancers.  It answers 200
// as long as the process serves requests and reports the state of the
// change feed so operators can tell a live node from one whose viewers
// are offline.
func Health(hub *realtime.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := echo.Map{"status": "ok"}
		if hub != nil {
			resp["realtime"] = hub.Health()
		}
		return c.JSON(http.StatusOK, resp)
	}
}
