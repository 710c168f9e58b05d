package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/example/coaching-marketplace/internal/application"
	"github.com/example/coaching-marketplace/internal/booking"
	"github.com/example/coaching-marketplace/internal/config"
	"github.com/example/coaching-marketplace/internal/gateway"
	"github.com/example/coaching-marketplace/internal/gateway/gatewaytest"
	omise "github.com/example/coaching-marketplace/internal/gateway/omise"
	httptransport "github.com/example/coaching-marketplace/internal/http"
	"github.com/example/coaching-marketplace/internal/identity"
	"github.com/example/coaching-marketplace/internal/logging"
	"github.com/example/coaching-marketplace/internal/notify"
	"github.com/example/coaching-marketplace/internal/obs"
	"github.com/example/coaching-marketplace/internal/persistence/sqlite"
	"github.com/example/coaching-marketplace/internal/persistence/sqlite/migration"
	"github.com/example/coaching-marketplace/migrations"
)

func main() {
	logger := logging.New(slog.LevelInfo)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = logging.New(cfg.SlogLevel())

	shutdownTracing, err := obs.SetupTracing(ctx, "marketplaced", cfg.OTLPEndpoint)
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

	idGenerator := uuid.NewString
	now := time.Now

	accountRepo := sqlite.NewAccountRepository(pool)
	bookingRepo := sqlite.NewBookingRepository(pool)
	participantRepo := sqlite.NewParticipantRepository(pool)
	paymentRepo := sqlite.NewPaymentRepository(pool)
	sessionRepo := sqlite.NewSessionRepository(pool)
	transitionRepo := sqlite.NewTransitionRepository(pool)

	gw, err := buildGateway(cfg)
	if err != nil {
		logger.Error("failed to build payment gateway", "error", err)
		os.Exit(1)
	}

	publisher, closePublisher, err := buildPublisher(cfg, logger)
	if err != nil {
		logger.Error("failed to build notification publisher", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := closePublisher(); cerr != nil {
			logger.Error("failed to close notification publisher", "error", cerr)
		}
	}()

	orchestrator := application.NewPaymentOrchestratorWithLogger(gw, paymentRepo, bookingRepo, idGenerator, now, logger)
	machine := booking.NewMachine(booking.DefaultPolicy())
	bookingService := application.NewBookingServiceWithLogger(bookingRepo, participantRepo, accountRepo, transitionRepo, orchestrator, machine, publisher, idGenerator, now, logger)
	identityService := identity.NewServiceWithLogger(accountRepo, sessionRepo, idGenerator, now, cfg.SessionTTL, logger)
	serviceResolver := identity.NewServiceTokenResolver([]byte(cfg.ServiceTokenSecret), cfg.ServiceTokenIssuer)
	sweeper := application.NewExpirySweeperWithLogger(bookingService, bookingRepo, participantRepo, cfg.SweepLimit, now, logger)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Sessions: httptransport.NewSessionHandler(identityService, logger),
		Accounts: httptransport.NewAccountHandler(identityService, logger),
		Bookings: httptransport.NewBookingHandler(bookingService, logger),
		Sweep:    httptransport.NewSweepHandler(sweeper, logger),
	})

	protected := httptransport.RequireSession(identityService, logger)(router)
	serviceOnly := httptransport.RequireServiceToken(serviceResolver, logger)(router)

	dispatch := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case isOpenRoute(r.Method, r.URL.Path):
			router.ServeHTTP(w, r)
		case strings.HasPrefix(r.URL.Path, "/internal/"):
			serviceOnly.ServeHTTP(w, r)
		default:
			protected.ServeHTTP(w, r)
		}
	})

	handler := otelhttp.NewHandler(
		httptransport.RequestLogger(logger)(
			httptransport.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)(dispatch)),
		"marketplace.http",
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("marketplace API listening", "addr", server.Addr, "gateway_mode", cfg.GatewayMode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

// isOpenRoute lists the endpoints reachable without authentication.
// Session endpoints validate their own tokens; logout with an expired
// token must still clear the cookie.
func isOpenRoute(method, path string) bool {
	switch {
	case path == "/healthz":
		return true
	case path == "/api/sessions" || strings.HasPrefix(path, "/api/sessions/"):
		return true
	case path == "/api/accounts" && method == http.MethodPost:
		return true
	}
	return false
}

func buildGateway(cfg config.Config) (gateway.Gateway, error) {
	switch cfg.GatewayMode {
	case config.GatewayModeOmise:
		return omise.New(cfg.OmisePublicKey, cfg.OmiseSecretKey, cfg.GatewayTimeout)
	case config.GatewayModeFake:
		return gatewaytest.New(), nil
	default:
		return nil, fmt.Errorf("unknown gateway mode %q", cfg.GatewayMode)
	}
}

func buildPublisher(cfg config.Config, logger *slog.Logger) (notify.Publisher, func() error, error) {
	if cfg.AMQPURL == "" {
		return notify.NewLogPublisher(logger), func() error { return nil }, nil
	}
	publisher, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.NotifyExchange)
	if err != nil {
		return nil, nil, err
	}
	return publisher, publisher.Close, nil
}
