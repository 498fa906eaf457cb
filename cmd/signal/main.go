package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"peercord/internal/core/services"
	httphandlers "peercord/internal/handlers/http"
	"peercord/internal/infrastructure/distributed"
	"peercord/internal/infrastructure/monitoring"
	"peercord/internal/infrastructure/repositories"
	signalserver "peercord/internal/infrastructure/signal"
	"peercord/pkg/config"
	"peercord/pkg/logger"
	"peercord/pkg/tracing"
	"peercord/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Sugar().Fatalw("failed to load configuration", "path", *configPath, "error", err)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	started := time.Now()

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.ServiceName = "peercord-signal"
	tracingCfg.JaegerURL = cfg.Tracing.JaegerURL
	tracingCfg.Environment = cfg.Tracing.Environment
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := tracing.Init(tracingCfg)
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory := repositories.NewRepositoryFactory(cfg, log.Named("repositories"))
	directory := repoFactory.CreatePeerDirectory()

	health := monitoring.NewHealthChecker()
	if repoFactory.UsesRedis() {
		health.AddCheck("redis", repoFactory.HealthCheck, 2*time.Second)
	}

	identity := services.NewIdentityService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, clock.New())
	var verifier signalserver.TokenVerifier
	if cfg.Auth.Enabled {
		verifier = identity
	}

	collector := monitoring.NewBrokerCollector(prometheus.DefaultRegisterer)

	opts := signalserver.DefaultOptions()
	opts.PingInterval = cfg.Signal.PingInterval
	opts.PongTimeout = cfg.Signal.PongTimeout
	opts.WriteTimeout = cfg.Signal.WriteTimeout
	opts.AllowedOrigins = cfg.Auth.AllowedOrigins
	if cfg.RateLimiting.Enabled {
		opts.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		opts.Burst = cfg.RateLimiting.WebSocket.Burst
		if cfg.RateLimiting.WebSocket.MaxMessageSizeBytes > 0 {
			opts.MaxMessageSize = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
		}
	}
	wsServer := signalserver.NewWebSocketServer(directory, verifier, collector, opts, log.Named("signal"))

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	if client := repoFactory.RedisClient(); client != nil {
		instanceID := uuid.NewString()
		wsServer.UseRelay(distributed.NewRedisRelay(client, instanceID, log.Named("relay")))
		go func() {
			if err := wsServer.ServeRelay(relayCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("signal relay stopped", "error", err)
			}
		}()
		log.Infow("relaying signaling across instances", "instance_id", instanceID)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httphandlers.NewRouter(httphandlers.Dependencies{
		Config:    cfg,
		Identity:  identity,
		Directory: directory,
		Health:    health,
		Tokens:    collector,
		Logger:    log.Named("http"),
		Signal:    wsServer.HandleWebSocket,
	})

	// Only the header read is bounded; upgraded connections manage their own
	// deadlines.
	srv := &http.Server{
		Addr:              cfg.Signal.Address,
		Handler:           router,
		ReadHeaderTimeout: cfg.Signal.ReadTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting signal server", "address", cfg.Signal.Address, "auth", cfg.Auth.Enabled, "redis", repoFactory.UsesRedis())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig, "sessions", wsServer.ConnectionCount())
	}

	stopRelay()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer cancel()

	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error closing signal sessions", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repositories", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error flushing traces", "error", err)
	}

	log.Infow("signal server stopped", "uptime", utils.FormatDuration(time.Since(started)))
}
