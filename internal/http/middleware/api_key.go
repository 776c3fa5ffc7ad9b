package middleware

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/linguaflow/followup-engine/internal/repository"
)

// StaffIDFromCtx extracts the authenticated staff key id set by APIKeyMiddleware.
func StaffIDFromCtx(c echo.Context) (int64, bool) {
	v := c.Get("staff_id")
	id, ok := v.(int64)
	return id, ok
}

// APIKeyMiddleware authenticates admin requests using the X-API-Key header.
// On success it stores staff_id in context and blocks suspended keys.
func APIKeyMiddleware(staff repository.StaffRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			sk, err := staff.GetByAPIKey(c.Request().Context(), key)
			if err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}
			if sk == nil || sk.Status != "active" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			c.Set("staff_id", sk.ID)
			if sk.RateLimitRPS != nil {
				c.Set("staff_rps", *sk.RateLimitRPS)
			}
			return next(c)
		}
	}
}
