package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/linguaflow/followup-engine/internal/clock"
	"github.com/linguaflow/followup-engine/internal/config"
	"github.com/linguaflow/followup-engine/internal/http/middleware"
	"github.com/linguaflow/followup-engine/internal/logger"
	"github.com/linguaflow/followup-engine/internal/metrics"
	"github.com/linguaflow/followup-engine/internal/repository"
	"github.com/linguaflow/followup-engine/internal/service/followup"
	"github.com/linguaflow/followup-engine/internal/service/timeline"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client) *Server {
	// repos (MySQL)
	staffRepo := repository.NewStaffRepository(mysqlDB)
	studentsRepo := repository.NewStudentsRepository(mysqlDB)
	sequencesRepo := repository.NewSequencesRepository(mysqlDB)
	outboxRepo := repository.NewOutboxRepository(mysqlDB)
	touchpointsRepo := repository.NewTouchpointsRepository(mysqlDB, outboxRepo)
	runsRepo := repository.NewRunsRepository(mysqlDB, outboxRepo)

	// repos (ClickHouse)
	chTouchpointsRepo := repository.NewCHTouchpointsRepository(clickhouseDB)

	// services
	clk := clock.New()
	followupSvc := followup.New(runsRepo, sequencesRepo, studentsRepo, touchpointsRepo, clk)
	timelineSvc := timeline.New(touchpointsRepo, runsRepo, studentsRepo, clk, logger.Named("timeline"))

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// provider callbacks: shared-token auth, no staff key
	e.POST("/webhooks/:provider", inboundWebhookHandler(timelineSvc, cfg.Webhooks.Token))

	// middlewares
	authMW := middleware.APIKeyMiddleware(staffRepo)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:staff:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)

	v1.POST("/follow-ups", activateFollowUpHandler(followupSvc))
	v1.GET("/follow-ups/:id", followUpDetailHandler(followupSvc))
	v1.POST("/follow-ups/:id/stop", stopFollowUpHandler(followupSvc))
	v1.POST("/follow-ups/:id/retry", retryFollowUpHandler(followupSvc))

	v1.GET("/touchpoints", listTouchpointsHandler(timelineSvc))
	v1.POST("/touchpoints", recordTouchpointHandler(timelineSvc))
	v1.PATCH("/touchpoints/:id", correctTouchpointHandler(timelineSvc))

	v1.GET("/sequences", listSequencesHandler(sequencesRepo))
	v1.GET("/sequences/:id", sequenceDetailHandler(sequencesRepo))
	v1.POST("/sequences", createSequenceHandler(sequencesRepo))

	v1.GET("/reports/touchpoints", touchpointReportHandler(chTouchpointsRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
