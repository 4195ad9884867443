// Command arena-auth starts the HTTP auth server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/gin-gonic/gin"

	"github.com/and161185/arena-auth/internal/config"
	"github.com/and161185/arena-auth/internal/events"
	"github.com/and161185/arena-auth/internal/ledger"
	"github.com/and161185/arena-auth/internal/metrics"
	"github.com/and161185/arena-auth/internal/migrate"
	"github.com/and161185/arena-auth/internal/repository/postgres"
	httpserver "github.com/and161185/arena-auth/internal/server/http"
	"github.com/and161185/arena-auth/internal/service"
	"github.com/and161185/arena-auth/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const healthInterval = 10 * time.Second

// main loads configuration, runs migrations, and serves the auth API until a signal arrives.
func main() {
	cfgPath := flag.String("config", "", "optional YAML config file; ARENA_* env vars override it")
	flag.Parse()

	cfg, err := config.LoadServer(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func run(ctx context.Context, cfg *config.Server, logger *zap.Logger) error {
	if !cfg.SkipMigrate {
		if err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	}

	// DB pool
	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()
	users := postgres.NewUserRepo(db)

	tokens, err := token.NewManager(token.Config{
		Key:        []byte(cfg.JWT.Key),
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		Issuer:     cfg.JWT.Issuer,
		Leeway:     cfg.JWT.Leeway,
	})
	if err != nil {
		return err
	}

	var led ledger.Ledger = ledger.Nop{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		})
		defer rdb.Close()
		rl := ledger.NewRedis(rdb)
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rl.Ping(pctx)
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		led = rl
		logger.Info("refresh rotation ledger enabled", zap.String("redis", cfg.Redis.Addr))
	}

	var pub events.Publisher = events.Nop{}
	if cfg.NATS.URL != "" {
		np, closeNATS, err := events.Connect(cfg.NATS.URL, logger)
		if err != nil {
			return err
		}
		defer closeNATS()
		pub = np
		logger.Info("event publishing enabled", zap.String("nats", cfg.NATS.URL))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Services
	deps := service.Deps{
		Users:            users,
		Tokens:           tokens,
		Ledger:           led,
		Events:           pub,
		Metrics:          m,
		Log:              logger,
		DirectoryTimeout: cfg.DirectoryTimeout,
		StampTimeout:     cfg.StampTimeout,
	}
	authSvc := service.NewAuthService(deps)
	defer authSvc.Wait()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpserver.NewRouter(httpserver.Deps{
			Auth:     authSvc,
			Verifier: service.NewVerifier(deps),
			Metrics:  m,
			Gatherer: reg,
			Log:      logger,
		}),
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Health
	var hs *health.Server
	var gs *grpc.Server
	if cfg.HealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.HealthAddr)
		if err != nil {
			return fmt.Errorf("listen health: %w", err)
		}
		gs = grpc.NewServer()
		hs = health.NewServer()
		healthpb.RegisterHealthServer(gs, hs)
		go watchHealth(ctx, authSvc, hs, logger)
		go func() {
			logger.Info("health listening", zap.String("addr", cfg.HealthAddr))
			if err := gs.Serve(lis); err != nil {
				errCh <- fmt.Errorf("health server: %w", err)
			}
		}()
	}

	// Wait for stop
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	if hs != nil {
		hs.Shutdown()
	}
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
		_ = srv.Close()
	}
	if gs != nil {
		done := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-sctx.Done():
			gs.Stop()
		}
	}
	return runErr
}

// watchHealth mirrors directory reachability into the gRPC health status.
func watchHealth(ctx context.Context, svc service.AuthService, hs *health.Server, logger *zap.Logger) {
	check := func() {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if err := svc.Ping(pctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			logger.Warn("directory unreachable", zap.Error(err))
		}
		hs.SetServingStatus("", status)
	}

	check()
	t := time.NewTicker(healthInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			check()
		}
	}
}
