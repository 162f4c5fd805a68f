package middleware

// identity.go holds the context keys JWTAuth fills in and the accessors
// that handlers and other middleware use to read them.

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// UserID returns the authenticated user's id, or "" when the request is
// anonymous.
func UserID(c echo.Context) string {
	switch v := c.Get(ctxUserID).(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

// Role returns the role claim, or "" when absent.
func Role(c echo.Context) string {
	r, _ := c.Get(ctxRole).(string)
	return r
}
