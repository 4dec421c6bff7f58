package middleware

import (
	"github.com/google/uuid"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/labstack/echo/v4"
)

const (
	RequestIDHeader = "X-Request-ID"
	// TraceHeader is still honoured for callers that propagate traces.
	TraceHeader = "X-Trace-ID"

	maxRequestIDLength = 128
)

// RequestID tags the request context with the caller's request ID, or a new
// one when it is missing or unusable, and echoes it back.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(RequestIDHeader)
			if id == "" {
				id = req.Header.Get(TraceHeader)
			}
			if !usableRequestID(id) {
				id = uuid.New().String()
			}

			c.SetRequest(req.WithContext(logger.WithTraceID(req.Context(), id)))
			c.Response().Header().Set(RequestIDHeader, id)

			return next(c)
		}
	}
}

func usableRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return false
		}
	}
	return true
}
