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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"peercord/internal/core/services"
	"peercord/internal/handlers/console"
	"peercord/internal/infrastructure/media"
	"peercord/internal/infrastructure/monitoring"
	"peercord/internal/infrastructure/repositories/memory"
	"peercord/internal/infrastructure/webrtc"
	"peercord/pkg/config"
	"peercord/pkg/logger"
	"peercord/pkg/retry"
)

// chatHistoryLimit bounds the chat log kept for the history command.
const chatHistoryLimit = 500

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	username := flag.String("user", "", "log in as this user on start")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not configured yet.
		zap.NewExample().Sugar().Fatalw("failed to load configuration", "path", *configPath, "error", err)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	collector := monitoring.NewClientCollector(registry)
	if cfg.Client.MetricsAddress != "" {
		go serveMetrics(ctx, cfg.Client.MetricsAddress, registry, log)
	}

	transportCfg := webrtc.ConfigFromApp(cfg)
	if cfg.Auth.Enabled {
		transportCfg.TokenSource, err = webrtc.HTTPTokenSource(cfg.Client.SignalURL, &http.Client{Timeout: 10 * time.Second}, retry.DefaultConfig())
		if err != nil {
			log.Fatalw("failed to configure identity tokens", "error", err)
		}
	}
	transport, err := webrtc.NewTransport(transportCfg, collector, log.Named("transport"))
	if err != nil {
		log.Fatalw("failed to create transport", "error", err)
	}

	clk := clock.New()
	devices := media.NewDevices(clk, log.Named("devices"))
	presenter := console.NewPresenter(os.Stdout, log.Named("presenter"))

	client := services.NewClient(services.Dependencies{
		Transport: transport,
		Devices:   devices,
		Analysers: media.NewAnalyserFactory(cfg.Speaking.FFTSize),
		Players:   media.NewPlayers(clk, cfg.Activity.TrackLength, log.Named("players")),
		Presenter: presenter,
		Chat:      memory.NewMemoryChatRepository(chatHistoryLimit),
		Metrics:   collector,
		Clock:     clk,
		Logger:    log.Named("client"),
	}, services.Options{
		SyncTolerance:     cfg.Activity.SyncTolerance,
		EchoSuppression:   cfg.Activity.EchoSuppression,
		SpeakingThreshold: cfg.Speaking.Threshold,
		SpeakingInterval:  cfg.Speaking.Interval,
		MaxImageBytes:     cfg.Chat.MaxImageBytes,
		NotificationTTL:   cfg.Notifications.TTL,
		Playlist:          cfg.Activity.Playlist,
	})

	// The loop outlives ctx so Close can still hang up and release media.
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		client.Run(context.Background())
	}()

	name := *username
	if name == "" {
		name = cfg.Client.DisplayName
	}
	if name != "" {
		if err := client.Login(ctx, name); err != nil {
			log.Errorw("login failed", "username", name, "error", err)
		}
	}

	cli := console.New(client, devices, os.Stdout, log.Named("console"))
	if err := cli.Run(ctx, os.Stdin); err != nil {
		log.Errorw("console stopped", "error", err)
	}

	log.Info("shutting down")
	if err := client.Close(); err != nil {
		log.Warnw("error closing client", "error", err)
	}
	<-loopDone
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infow("serving client metrics", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorw("metrics server failed", "error", err)
	}
}
