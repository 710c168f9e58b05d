// Command marketplace-sweeper drives the deadline sweep on a schedule.
// It shares the API server's storage, gateway, and notification wiring
// because expiring a paid booking releases or captures real money and
// notifies the roster, exactly as an interactive cancellation would.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/example/coaching-marketplace/internal/application"
	"github.com/example/coaching-marketplace/internal/booking"
	"github.com/example/coaching-marketplace/internal/config"
	"github.com/example/coaching-marketplace/internal/gateway"
	"github.com/example/coaching-marketplace/internal/gateway/gatewaytest"
	omise "github.com/example/coaching-marketplace/internal/gateway/omise"
	"github.com/example/coaching-marketplace/internal/logging"
	"github.com/example/coaching-marketplace/internal/notify"
	"github.com/example/coaching-marketplace/internal/obs"
	"github.com/example/coaching-marketplace/internal/persistence/sqlite"
	"github.com/example/coaching-marketplace/internal/persistence/sqlite/migration"
	"github.com/example/coaching-marketplace/migrations"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep pass and exit")
	flag.Parse()

	logger := logging.New(slog.LevelInfo)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = logging.New(cfg.SlogLevel())

	shutdownTracing, err := obs.SetupTracing(ctx, "marketplace-sweeper", cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if terr := shutdownTracing(shutdownCtx); terr != nil {
			logger.Error("failed to shut down tracing", "error", terr)
		}
	}()

	pool, err := sqlite.NewConnectionPool(migration.DefaultSQLiteConfig(cfg.SQLiteDSN))
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := pool.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := migration.NewRunner(pool.DB(), logger).Run(ctx, migrations.FS); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	sweeper, cleanup, err := buildSweeper(cfg, pool, logger)
	if err != nil {
		logger.Error("failed to wire sweeper", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := cleanup(); cerr != nil {
			logger.Error("failed to close notification publisher", "error", cerr)
		}
	}()

	if *once {
		if err := runPass(ctx, sweeper, logger); err != nil {
			os.Exit(1)
		}
		return
	}

	scheduler := cron.New()
	_, err = scheduler.AddFunc("@every "+cfg.SweepInterval.String(), func() {
		// Errors are already logged per phase; a failed pass must not
		// stop the schedule.
		_ = runPass(ctx, sweeper, logger)
	})
	if err != nil {
		logger.Error("failed to schedule sweep", "error", err)
		os.Exit(1)
	}

	logger.Info("sweeper running", "interval", cfg.SweepInterval.String(), "limit", cfg.SweepLimit)
	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	logger.Info("sweeper stopped")
}

func runPass(ctx context.Context, sweeper *application.ExpirySweeper, logger *slog.Logger) error {
	started := time.Now()
	report, err := sweeper.RunOnce(ctx)
	attrs := []any{
		"expired", report.Expired,
		"cancelled", report.Cancelled,
		"released", report.Released,
		"completed", report.Completed,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", time.Since(started).String(),
	}
	if err != nil {
		logger.Error("sweep pass finished with errors", append(attrs, "error", err)...)
		return err
	}
	logger.Info("sweep pass finished", attrs...)
	return nil
}

// buildSweeper assembles the full booking service under the sweeper.
// The identity service is absent on purpose; sweep transitions are
// recorded against the system actor and need no principal resolution.
func buildSweeper(cfg config.Config, pool *sqlite.ConnectionPool, logger *slog.Logger) (*application.ExpirySweeper, func() error, error) {
	accountRepo := sqlite.NewAccountRepository(pool)
	bookingRepo := sqlite.NewBookingRepository(pool)
	participantRepo := sqlite.NewParticipantRepository(pool)
	paymentRepo := sqlite.NewPaymentRepository(pool)
	transitionRepo := sqlite.NewTransitionRepository(pool)

	var gw gateway.Gateway
	switch cfg.GatewayMode {
	case config.GatewayModeOmise:
		client, err := omise.New(cfg.OmisePublicKey, cfg.OmiseSecretKey, cfg.GatewayTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("build omise gateway: %w", err)
		}
		gw = client
	case config.GatewayModeFake:
		gw = gatewaytest.New()
	default:
		return nil, nil, fmt.Errorf("unknown gateway mode %q", cfg.GatewayMode)
	}

	var publisher notify.Publisher
	cleanup := func() error { return nil }
	if cfg.AMQPURL != "" {
		amqpPublisher, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.NotifyExchange)
		if err != nil {
			return nil, nil, fmt.Errorf("build notification publisher: %w", err)
		}
		publisher = amqpPublisher
		cleanup = amqpPublisher.Close
	} else {
		publisher = notify.NewLogPublisher(logger)
	}

	idGenerator := uuid.NewString
	now := time.Now

	orchestrator := application.NewPaymentOrchestratorWithLogger(gw, paymentRepo, bookingRepo, idGenerator, now, logger)
	machine := booking.NewMachine(booking.DefaultPolicy())
	service := application.NewBookingServiceWithLogger(bookingRepo, participantRepo, accountRepo, transitionRepo, orchestrator, machine, publisher, idGenerator, now, logger)
	return application.NewExpirySweeperWithLogger(service, bookingRepo, participantRepo, cfg.SweepLimit, now, logger), cleanup, nil
}
