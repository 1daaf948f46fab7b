package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"TradeScout/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Recover answers a panicking handler with a bare 500 envelope and logs the
// stack.
func Recover(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				l.Error("handler panic",
					logger.String("route", routeOf(c)),
					logger.String("panic", fmt.Sprint(r)),
					logger.String("stack", string(debug.Stack())))
				err = c.JSON(http.StatusInternalServerError, map[string]interface{}{
					"status":  http.StatusInternalServerError,
					"message": http.StatusText(http.StatusInternalServerError),
				})
			}()
			return next(c)
		}
	}
}
