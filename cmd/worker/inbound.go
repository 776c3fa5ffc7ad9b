package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/linguaflow/followup-engine/internal/clock"
	"github.com/linguaflow/followup-engine/internal/config"
	"github.com/linguaflow/followup-engine/internal/db"
	"github.com/linguaflow/followup-engine/internal/kafka"
	"github.com/linguaflow/followup-engine/internal/logger"
	"github.com/linguaflow/followup-engine/internal/metrics"
	"github.com/linguaflow/followup-engine/internal/repository"
	"github.com/linguaflow/followup-engine/internal/service/timeline"
	"github.com/linguaflow/followup-engine/internal/worker"
)

var inboundCmd = &cobra.Command{
	Use:   "inbound",
	Short: "Consume inbound provider events from Kafka into the touchpoint ledger",
	RunE:  runInbound,
}

func runInbound(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.Log.Level)
	defer logger.Sync()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) DB connection (MySQL)
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	// 3) repositories + timeline service
	outboxRepo := repository.NewOutboxRepository(dbx)
	touchpointsRepo := repository.NewTouchpointsRepository(dbx, outboxRepo)
	runsRepo := repository.NewRunsRepository(dbx, outboxRepo)
	studentsRepo := repository.NewStudentsRepository(dbx)

	timelineSvc := timeline.New(touchpointsRepo, runsRepo, studentsRepo, clock.New(), logger.Named("timeline"))

	// 4) kafka consumer
	topic := cfg.Kafka.InboundTopic
	if topic == "" {
		topic = "touchpoints.inbound"
	}
	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "followup-engine"
	}
	groupID = groupID + "-inbound"

	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	w := worker.NewInboundConsumer(consumer, timelineSvc, logger.Named("inbound"))

	// 5) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> inbound consumer started topic=%s group=%s workers=%d", topic, groupID, w.Workers)

	return w.Run(ctx)
}
