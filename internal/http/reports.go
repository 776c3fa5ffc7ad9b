package http

import (
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/linguaflow/followup-engine/internal/repository"
)

func touchpointReportHandler(chRepo repository.CHTouchpointsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, limit, offset := parseTouchpointFilter(c)

		tps, err := chRepo.List(c.Request().Context(), f, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		byChannel, err := chRepo.CountByChannel(c.Request().Context(), f)
		if err != nil {
			c.Logger().Errorf("clickhouse count failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":      limit,
			"offset":     offset,
			"count":      len(tps),
			"by_channel": byChannel,
			"results":    tps,
		})
	}
}
