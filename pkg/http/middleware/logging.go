package middleware

import (
	"time"

	applogger "TeeRelay/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging writes one structured line per request. 5xx replies log at error level and
// feed the error collector; slow requests log at warn.
func RequestLogging(l *applogger.Logger, slowThreshold time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			latency := time.Since(start)
			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("route", c.Path()),
				applogger.Int("status", status),
				applogger.Duration("latency_ms", latency),
				applogger.String("request_id", GetRequestID(c)),
				applogger.String("remote", c.RealIP()),
			}

			switch {
			case status >= 500:
				l.Error("http request failed", fields...)
			case slowThreshold > 0 && latency >= slowThreshold:
				l.Warn("http request slow", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}
