package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/linguaflow/followup-engine/internal/model"
	"github.com/linguaflow/followup-engine/internal/service/timeline"
)

func parseTouchpointFilter(c echo.Context) (model.TouchpointFilter, int, int) {
	var f model.TouchpointFilter

	if v := c.QueryParam("student_id"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			f.StudentID = n
		}
	}
	if ch, ok := model.ParseChannel(c.QueryParam("channel")); ok {
		f.Channel = ch
	}
	if d, ok := model.ParseDirection(c.QueryParam("direction")); ok {
		f.Direction = d
	}
	if s, ok := model.ParseSource(c.QueryParam("source")); ok {
		f.Source = s
	}
	if v := c.QueryParam("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = t
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = t
		}
	}

	limit := 50
	offset := 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return f, limit, offset
}

func listTouchpointsHandler(svc *timeline.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, limit, offset := parseTouchpointFilter(c)

		tps, err := svc.List(c.Request().Context(), f, limit, offset)
		if err != nil {
			log.Errorf("list touchpoints failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(tps),
			"results": tps,
		})
	}
}

type manualTouchpointReq struct {
	StudentID  int64  `json:"student_id"`
	Channel    string `json:"channel"`
	Direction  string `json:"direction"`
	Subject    string `json:"subject"`
	Content    string `json:"content"`
	OccurredAt string `json:"occurred_at"` // RFC3339, optional
}

func recordTouchpointHandler(svc *timeline.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req manualTouchpointReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.Content = strings.TrimSpace(req.Content)
		if req.StudentID <= 0 || req.Content == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "student_id and content are required"})
		}
		if utf8.RuneCountInString(req.Content) > 10000 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "content too long"})
		}

		ch, ok := model.ParseChannel(req.Channel)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid channel"})
		}
		dir, ok := model.ParseDirection(req.Direction)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid direction"})
		}

		var occurred time.Time
		if req.OccurredAt != "" {
			t, err := time.Parse(time.RFC3339, req.OccurredAt)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid occurred_at"})
			}
			occurred = t
		}

		tp, err := svc.RecordManual(c.Request().Context(), timeline.ManualEntry{
			StudentID:  req.StudentID,
			Channel:    ch,
			Direction:  dir,
			Subject:    strings.TrimSpace(req.Subject),
			Content:    req.Content,
			OccurredAt: occurred,
		})
		if err != nil {
			if errors.Is(err, timeline.ErrUnknownStudent) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown student"})
			}

			log.Errorf("record touchpoint failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusCreated, tp)
	}
}

type correctTouchpointReq struct {
	Content    string `json:"content"`
	OccurredAt string `json:"occurred_at"` // RFC3339
}

func correctTouchpointHandler(svc *timeline.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if id == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing touchpoint id"})
		}

		var req correctTouchpointReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		var occurred *time.Time
		if req.OccurredAt != "" {
			t, err := time.Parse(time.RFC3339, req.OccurredAt)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid occurred_at"})
			}
			occurred = &t
		}
		if strings.TrimSpace(req.Content) == "" && occurred == nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "nothing to correct"})
		}

		tp, err := svc.Correct(c.Request().Context(), id, strings.TrimSpace(req.Content), occurred)
		if err != nil {
			if errors.Is(err, timeline.ErrTouchpointNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "touchpoint not found"})
			}

			log.Errorf("correct touchpoint failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, tp)
	}
}
