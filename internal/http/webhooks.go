package http

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/linguaflow/followup-engine/internal/model"
	"github.com/linguaflow/followup-engine/internal/service/timeline"
	"github.com/linguaflow/followup-engine/internal/util"
)

type webhookReq struct {
	From       string `json:"from"` // phone or email the provider saw
	Channel    string `json:"channel"`
	Content    string `json:"content"`
	ExternalID string `json:"external_id"`
	OccurredAt string `json:"occurred_at"` // RFC3339, optional
}

// inboundWebhookHandler accepts provider delivery callbacks. Auth is a shared
// token in X-Webhook-Token; providers that can't set headers may pass ?token=.
func inboundWebhookHandler(svc *timeline.Service, token string) echo.HandlerFunc {
	return func(c echo.Context) error {
		presented := c.Request().Header.Get("X-Webhook-Token")
		if presented == "" {
			presented = c.QueryParam("token")
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid webhook token"})
		}

		provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
		if provider == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing provider"})
		}

		var req webhookReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		ch, ok := model.ParseChannel(req.Channel)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid channel"})
		}
		contact := util.NormalizeContact(strings.TrimSpace(req.From))
		if contact == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing from"})
		}

		var occurred time.Time
		if req.OccurredAt != "" {
			if t, err := time.Parse(time.RFC3339, req.OccurredAt); err == nil {
				occurred = t
			}
		}

		tp, deduped, err := svc.RecordInbound(c.Request().Context(), model.InboundEvent{
			Contact:    contact,
			Channel:    ch,
			Content:    strings.TrimSpace(req.Content),
			ExternalID: strings.TrimSpace(req.ExternalID),
			OccurredAt: occurred,
			Source:     model.Source(provider),
		})
		if err != nil {
			if errors.Is(err, timeline.ErrUnknownContact) {
				// 200 on purpose: providers retry non-2xx forever, and an
				// unmatched contact will never start matching
				return c.JSON(http.StatusOK, map[string]any{"matched": false})
			}

			log.Errorf("webhook ingest failed (provider=%s): %v", provider, err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"matched": true,
			"deduped": deduped,
			"id":      tp.ID,
		})
	}
}
