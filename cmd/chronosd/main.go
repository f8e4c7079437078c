// Command chronosd is Chronos's example wiring binary: it loads
// config.AppConfig from the environment, connects the relational job
// store, registers the two example trigger types and a sample job
// executor, and runs the Scheduler façade until an OS signal arrives.
// Embedding applications are expected to build their own equivalent of
// this file rather than import it — it exists to prove the pieces
// assemble, the same role the cmd/merrymaker/main.go plays for
// internal/bootstrap.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/target/chronos/config"
	"github.com/target/chronos/internal/bootstrap"
	"github.com/target/chronos/internal/cluster"
	"github.com/target/chronos/internal/engine"
	"github.com/target/chronos/internal/facade"
	"github.com/target/chronos/internal/misfire"
	"github.com/target/chronos/internal/model"
	"github.com/target/chronos/internal/observability/statsd"
	"github.com/target/chronos/internal/runner"
	"github.com/target/chronos/internal/store/pgstore"
	"github.com/target/chronos/internal/triggertype"
	"github.com/target/chronos/internal/triggertype/cron"
	"github.com/target/chronos/internal/triggertype/simple"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	logStartupInfo(ctx, logger, &cfg)

	db, err := bootstrap.ConnectDB(ctx, cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close database failed", "error", cerr)
		}
	}()

	if cfg.Postgres.RunMigrationsOnStart {
		if err := bootstrap.RunMigrations(ctx, db, logger); err != nil {
			return err
		}
	} else {
		logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
	}

	metricsClient, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Observability.Metrics.IsEnabled(),
		Address: cfg.Observability.Metrics.StatsdAddress,
		Prefix:  cfg.Observability.Metrics.Prefix,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("init metrics client: %w", err)
	}
	defer func() {
		if cerr := metricsClient.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close metrics client failed", "error", cerr)
		}
	}()

	jobStore := pgstore.New(db, nil)
	signaler := pgstore.NewPGSignaler(db, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	signalerDone := make(chan struct{})
	go func() {
		defer close(signalerDone)
		if err := signaler.Run(runCtx); err != nil {
			logger.ErrorContext(runCtx, "pg signaler exited with error", "error", err)
		}
	}()

	types := triggertype.NewRegistry()
	types.Register(simple.Handle{})
	types.Register(cron.Handle{})

	executors := runner.NewRegistry()
	executors.Register("log", logExecutor{logger: logger})

	scheduler := facade.New(facade.Config{
		InstanceID: cfg.Scheduler.InstanceID,
		Store:      jobStore,
		Signaler:   signaler,
		Types:      types,
		Executors:  executors,

		RunnerSlots: cfg.Scheduler.RunnerConcurrency,
		EngineConfig: engine.Config{
			IdleWaitMax:       cfg.Scheduler.IdleWaitMax,
			AcquireTimeWindow: cfg.Scheduler.AcquireTimeWindow,
			MaxBatchSize:      cfg.Scheduler.AcquireBatchSize,
		},
		MisfireConfig: misfire.Config{
			Threshold: cfg.Scheduler.MisfireThreshold,
			BatchSize: cfg.Scheduler.MisfireBatchSize,
		},
		ClusterConfig: cluster.Config{
			CheckInInterval: cfg.Scheduler.CheckInInterval,
			ToleranceSkew:   cfg.Scheduler.ToleranceSkew,
		},
		Logger:  logger,
		Metrics: metricsClient,
	})

	if err := seedExampleJob(ctx, scheduler); err != nil {
		return fmt.Errorf("seed example job: %w", err)
	}

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	logger.InfoContext(ctx, "chronos started", "instance_id", scheduler.InstanceID())

	waitForShutdownSignal(ctx, logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := scheduler.Shutdown(shutdownCtx, true); err != nil {
		logger.ErrorContext(shutdownCtx, "scheduler shutdown failed", "error", err)
	}

	cancel()
	<-signalerDone
	return nil
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting chronos",
		"db_host", cfg.Postgres.Host,
		"db_port", cfg.Postgres.Port,
		"db_name", cfg.Postgres.Name,
		"runner_concurrency", cfg.Scheduler.RunnerConcurrency)
}

func waitForShutdownSignal(ctx context.Context, logger *slog.Logger) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	logger.InfoContext(ctx, "shutdown signal received")
}

// seedExampleJob schedules one repeating "log" job so a freshly started
// instance has something to acquire and fire, proving the wiring works
// end to end. Embedding applications call Scheduler.ScheduleJob with
// their own job/trigger definitions instead of this.
func seedExampleJob(ctx context.Context, scheduler *facade.Scheduler) error {
	job := model.JobDefinition{
		Key:  model.JobKey{Name: "heartbeat", Group: model.DefaultGroup},
		Type: "log",
		JobDataMap: model.JobDataMap{
			"message": "chronos heartbeat",
		},
	}

	params, err := json.Marshal(simple.Params{
		RepeatInterval: 30 * time.Second,
		RepeatCount:    simple.RepeatForever,
	})
	if err != nil {
		return err
	}

	trig := model.Trigger{
		Key:            model.TriggerKey{Name: "heartbeat-every-30s", Group: model.DefaultGroup},
		JobKey:         job.Key,
		StartTime:      time.Now(),
		Type:           "simple",
		ScheduleParams: params,
	}

	err = scheduler.ScheduleJob(ctx, job, trig, true)
	if err != nil {
		return err
	}
	return nil
}

// logExecutor is a trivial runner.JobExecutor that logs its job data,
// standing in for the application-specific executors an embedder
// registers in its own runner.Registry.
type logExecutor struct {
	logger *slog.Logger
}

func (e logExecutor) Execute(ec *runner.JobExecutionContext) error {
	e.logger.InfoContext(ec.Ctx, "executing job",
		"job", ec.Job.Key.String(),
		"trigger", ec.Trigger.Key.String(),
		"data", ec.JobDataMap)
	return nil
}
