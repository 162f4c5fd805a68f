package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/parking-spot-reservation/internal/handler"    // handlers implementing each endpoint
	"github.com/iliyamo/parking-spot-reservation/internal/middleware" // JWT authentication and role enforcement
	"github.com/iliyamo/parking-spot-reservation/internal/realtime"
)

// Roles accepted on the driver-facing and admin routes.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Handlers groups everything the router needs.  Limit and Cache may be
// nil, in which case requests pass straight through.
type Handlers struct {
	Spots     *handler.SpotHandler
	Zones     *handler.ZoneHandler
	Admin     *handler.AdminHandler
	Stream    *handler.StreamHandler
	Hub       *realtime.Hub
	JWTSecret string
	Limit     echo.MiddlewareFunc // applied to every mutating route
	Cache     echo.MiddlewareFunc // applied to reference data reads
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo, hub *realtime.Hub) {
	// Load balancers and monitoring probe this endpoint.
	e.GET("/healthz", handler.Health(hub))
}

// RegisterAPI registers every authenticated route under /v1.
func RegisterAPI(e *echo.Echo, h Handlers) {
	limit, cache := h.Limit, h.Cache
	if limit == nil {
		limit = passThrough
	}
	if cache == nil {
		cache = passThrough
	}

	// Drivers and admins share the read and spot action routes.
	g := e.Group(
		"/v1",
		middleware.JWTAuth(h.JWTSecret),
		middleware.RequireRole(RoleUser, RoleAdmin),
	)
	g.POST("/spots/:id/reserve", h.Spots.Reserve, limit)
	g.POST("/spots/:id/confirm", h.Spots.Confirm, limit)
	g.POST("/spots/:id/cancel", h.Spots.Cancel, limit)
	g.POST("/spots/:id/leave", h.Spots.Leave, limit)
	g.GET("/me/spot", h.Spots.MySpot)

	g.GET("/zones/:id/spots", h.Zones.Spots)
	g.GET("/zones/:id/availability", h.Zones.Availability)
	g.GET("/zones/:id/gates", h.Zones.Gates, cache) // gates change rarely
	g.GET("/zones/:id/nearest", h.Zones.Nearest)
	g.GET("/zones/:id/stream", h.Stream.Stream)
	g.GET("/realtime/token", h.Stream.RealtimeToken)

	// ---- Layout editor ----
	a := e.Group(
		"/v1/admin",
		middleware.JWTAuth(h.JWTSecret),
		middleware.RequireRole(RoleAdmin),
		limit,
	)
	a.POST("/zones/:id/spots", h.Admin.PlaceSpot)
	a.PATCH("/spots/:id/position", h.Admin.MoveSpot)
	a.DELETE("/spots/:id", h.Admin.DeleteSpot)
	a.POST("/zones/:id/copy-layout", h.Admin.CopyLayout)
}
