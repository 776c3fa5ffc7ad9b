package http

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/linguaflow/followup-engine/internal/service/followup"
)

type activateReq struct {
	StudentID  int64 `json:"student_id"`
	SequenceID int64 `json:"sequence_id"`
}

func activateFollowUpHandler(svc *followup.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req activateReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if req.StudentID <= 0 || req.SequenceID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "student_id and sequence_id are required"})
		}

		run, created, err := svc.Activate(c.Request().Context(), req.StudentID, req.SequenceID)
		if err != nil {
			switch {
			case errors.Is(err, followup.ErrUnknownStudent):
				return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown student"})
			case errors.Is(err, followup.ErrUnknownSequence):
				return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown sequence"})
			case errors.Is(err, followup.ErrSequenceArchived):
				return c.JSON(http.StatusConflict, map[string]string{"error": "sequence is archived"})
			case errors.Is(err, followup.ErrEmptySequence):
				return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "sequence has no steps"})
			}

			log.Errorf("activate follow-up failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		return c.JSON(status, map[string]any{
			"created": created,
			"run":     run,
		})
	}
}

func stopFollowUpHandler(svc *followup.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		runID := c.Param("id")
		if runID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing run id"})
		}

		run, err := svc.Stop(c.Request().Context(), runID)
		if err != nil {
			if errors.Is(err, followup.ErrRunNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
			}

			log.Errorf("stop follow-up failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]any{"run": run})
	}
}

func retryFollowUpHandler(svc *followup.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		runID := c.Param("id")
		if runID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing run id"})
		}

		run, err := svc.Rearm(c.Request().Context(), runID)
		if err != nil {
			if errors.Is(err, followup.ErrRunNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
			}

			log.Errorf("retry follow-up failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]any{"run": run})
	}
}

func followUpDetailHandler(svc *followup.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		runID := c.Param("id")
		if runID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing run id"})
		}

		detail, err := svc.Detail(c.Request().Context(), runID)
		if err != nil {
			if errors.Is(err, followup.ErrRunNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
			}

			log.Errorf("follow-up detail failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, detail)
	}
}
