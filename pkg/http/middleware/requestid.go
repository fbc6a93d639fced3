package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const RequestIDKey = "request_id"

// RequestID reuses an inbound X-Request-Id or mints a uuid, echoes it on the response and
// stores it on the context under RequestIDKey.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			c.Set(RequestIDKey, id)
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			return next(c)
		}
	}
}

// GetRequestID returns the id RequestID stored, or "".
func GetRequestID(c echo.Context) string {
	if v, ok := c.Get(RequestIDKey).(string); ok {
		return v
	}
	return ""
}
