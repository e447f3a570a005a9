package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
)

// ResponseTimeHeader reports elapsed handling duration to the caller.
const ResponseTimeHeader = "X-Response-Time"

// ResponseTime returns an Echo middleware that stamps each response with the
// time spent handling it. The header is set just before the first write,
// since headers cannot change once the status line is out.
func ResponseTime() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			c.Response().Before(func() {
				c.Response().Header().Set(ResponseTimeHeader, time.Since(start).String())
			})
			return next(c)
		}
	}
}
