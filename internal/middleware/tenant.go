package middleware

import (
	"net/http"
	"strings"

	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/labstack/echo/v4"
)

const (
	TenantHeader = "X-Tenant-ID"
	tenantKey    = "tenant_id"
)

// Tenant requires the tenant header and scopes the request's log fields to
// it.
func Tenant() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := strings.TrimSpace(c.Request().Header.Get(TenantHeader))
			if tenantID == "" {
				return c.JSON(http.StatusBadRequest, map[string]string{
					"error": TenantHeader + " header is required",
				})
			}

			ctx := logger.WithTenantID(c.Request().Context(), tenantID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(tenantKey, tenantID)

			return next(c)
		}
	}
}

func TenantID(c echo.Context) string {
	id, _ := c.Get(tenantKey).(string)
	return id
}
