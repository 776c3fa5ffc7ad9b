package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/linguaflow/followup-engine/internal/clock"
	"github.com/linguaflow/followup-engine/internal/config"
	"github.com/linguaflow/followup-engine/internal/db"
	"github.com/linguaflow/followup-engine/internal/dispatcher"
	"github.com/linguaflow/followup-engine/internal/logger"
	"github.com/linguaflow/followup-engine/internal/metrics"
	"github.com/linguaflow/followup-engine/internal/model"
	"github.com/linguaflow/followup-engine/internal/repository"
	"github.com/linguaflow/followup-engine/internal/scheduler"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the step scheduler (claims due runs and dispatches messages)",
	RunE:  runScheduler,
}

func runScheduler(cmd *cobra.Command, args []string) error {
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

	// 3) repositories
	outboxRepo := repository.NewOutboxRepository(dbx)
	dispatchRepo := repository.NewDispatchRepository(dbx, outboxRepo)
	studentsRepo := repository.NewStudentsRepository(dbx)
	sequencesRepo := repository.NewSequencesRepository(dbx)

	// 4) providers → dispatcher
	disp, err := buildDispatcher(cfg)
	if err != nil {
		return err
	}

	// 5) scheduler
	sched := scheduler.New(
		dispatchRepo,
		studentsRepo,
		sequencesRepo,
		disp,
		clock.New(),
		logger.Named("scheduler"),
	)

	// tune knobs
	if cfg.Scheduler.PollInterval > 0 {
		sched.PollInterval = cfg.Scheduler.PollInterval
	}
	if cfg.Scheduler.BatchSize > 0 {
		sched.BatchSize = cfg.Scheduler.BatchSize
	}
	if cfg.Scheduler.WorkerCount > 0 {
		sched.Workers = cfg.Scheduler.WorkerCount
	}
	if cfg.Scheduler.ClaimLease > 0 {
		sched.ClaimLease = cfg.Scheduler.ClaimLease
	}
	if cfg.Scheduler.MaxStepAttempts > 0 {
		sched.MaxStepAttempts = cfg.Scheduler.MaxStepAttempts
	}
	if cfg.Scheduler.RetryBackoff > 0 {
		sched.RetryBackoff = cfg.Scheduler.RetryBackoff
	}

	// 6) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> scheduler started poll=%s workers=%d batchSize=%d channels=%v",
		sched.PollInterval, sched.Workers, sched.BatchSize, disp.Channels())

	return sched.Run(ctx)
}

func buildDispatcher(cfg config.Config) (*dispatcher.Dispatcher, error) {
	var provs []dispatcher.Provider
	maxAttempts := 2
	for _, pc := range cfg.Providers {
		if !pc.Enabled || strings.TrimSpace(pc.BaseURL) == "" {
			continue
		}
		ch, ok := model.ParseChannel(pc.Channel)
		if !ok {
			return nil, fmt.Errorf("provider %s: unknown channel %q", pc.Name, pc.Channel)
		}
		if pc.Attempts > maxAttempts {
			maxAttempts = pc.Attempts
		}
		provs = append(provs,
			dispatcher.NewHTTPProvider(
				pc.Name,
				ch,
				strings.TrimRight(pc.BaseURL, "/"),
				pc.SendPath,
				pc.TimeoutMs,
				pc.Breaker.FailThreshold,
				pc.Breaker.OpenForMs,
			),
		)
	}
	if len(provs) == 0 {
		return nil, fmt.Errorf("no providers enabled in config")
	}
	return dispatcher.NewDispatcher(provs, maxAttempts), nil
}
