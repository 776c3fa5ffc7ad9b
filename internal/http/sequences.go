package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/linguaflow/followup-engine/internal/model"
	"github.com/linguaflow/followup-engine/internal/render"
	"github.com/linguaflow/followup-engine/internal/repository"
)

func listSequencesHandler(repo repository.SequencesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		seqs, err := repo.List(c.Request().Context())
		if err != nil {
			log.Errorf("list sequences failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]any{"count": len(seqs), "results": seqs})
	}
}

func sequenceDetailHandler(repo repository.SequencesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid sequence id"})
		}

		seq, err := repo.GetByID(c.Request().Context(), id)
		if err != nil {
			log.Errorf("sequence detail failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if seq == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "sequence not found"})
		}
		return c.JSON(http.StatusOK, seq)
	}
}

type createSequenceReq struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Steps   []struct {
		Channel      string `json:"channel"`
		DelayMinutes int    `json:"delay_minutes"`
		Subject      string `json:"subject"`
		Body         string `json:"body"`
	} `json:"steps"`
}

func createSequenceHandler(repo repository.SequencesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createSequenceReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
		}
		if len(req.Steps) == 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "at least one step is required"})
		}

		seq := model.Sequence{
			Name:    req.Name,
			Subject: strings.TrimSpace(req.Subject),
			Status:  model.SequenceActive,
		}
		for i, s := range req.Steps {
			ch, ok := model.ParseChannel(s.Channel)
			if !ok {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid channel in step " + strconv.Itoa(i)})
			}
			if s.DelayMinutes < 0 {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "negative delay in step " + strconv.Itoa(i)})
			}
			if strings.TrimSpace(s.Body) == "" {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "empty body in step " + strconv.Itoa(i)})
			}
			// reject broken templates at write time, not at 3am dispatch time
			if err := render.Validate(s.Subject, s.Body); err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{
					"error": "invalid template in step " + strconv.Itoa(i) + ": " + err.Error(),
				})
			}
			seq.Steps = append(seq.Steps, model.SequenceStep{
				StepOrder:    i,
				Channel:      ch,
				DelayMinutes: s.DelayMinutes,
				Subject:      strings.TrimSpace(s.Subject),
				Body:         s.Body,
			})
		}

		if err := repo.Create(c.Request().Context(), &seq); err != nil {
			log.Errorf("create sequence failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusCreated, seq)
	}
}
