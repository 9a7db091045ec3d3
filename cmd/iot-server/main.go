package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lynguyen2516/iot/internal/config"
	"github.com/lynguyen2516/iot/internal/httpapi"
	"github.com/lynguyen2516/iot/internal/ingest"
	"github.com/lynguyen2516/iot/internal/model"
	"github.com/lynguyen2516/iot/internal/monitor"
	mqttpkg "github.com/lynguyen2516/iot/internal/mqtt"
	"github.com/lynguyen2516/iot/internal/realtime"
	"github.com/lynguyen2516/iot/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	if strings.TrimSpace(cfg.MQTTBrokerURL) == "" {
		slog.Error("missing required env", "key", "MQTT_BROKER_URL")
		os.Exit(1)
	}
	for key, val := range map[string]string{
		"POSTGRES_USER": cfg.Postgres.User,
		"POSTGRES_DB":   cfg.Postgres.DBName,
		"POSTGRES_HOST": cfg.Postgres.Host,
		"POSTGRES_PORT": cfg.Postgres.Port,
	} {
		if strings.TrimSpace(val) == "" {
			slog.Error("missing required env", "key", key)
			os.Exit(1)
		}
	}

	db, err := store.OpenPostgres(cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName, cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.SSLMode)
	if err != nil {
		slog.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	repo, err := store.New(db)
	if err != nil {
		slog.Error("db migrate failed", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		slog.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	cache := store.NewStateCache(rdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mon := monitor.New(cfg.ESP32Timeout)
	// Device states survive restarts through the history table.
	mon.SeedStatuses(repo.LastStatuses(ctx))

	mq, err := mqttpkg.Connect(cfg.MQTTBrokerURL, cfg.MQTTClientID, cfg.MQTTUsername, cfg.MQTTPassword)
	if err != nil {
		slog.Error("mqtt connect failed", "error", err)
		os.Exit(1)
	}
	defer mq.Close()

	hub := realtime.NewHub(mon, mq)
	ing := &ingest.Handler{Monitor: mon, Repo: repo, Cache: cache, Sink: hub}

	onMessage := func(m mqttpkg.Message) {
		ing.HandleMessage(ctx, m, time.Now().UTC())
	}
	for _, topic := range append([]string{model.TelemetryTopic}, model.StatusTopics()...) {
		if err := mq.Subscribe(topic, onMessage); err != nil {
			slog.Error("mqtt subscribe failed", "topic", topic, "error", err)
			os.Exit(1)
		}
	}

	go mon.Run(ctx, cfg.PollInterval, hub.BroadcastDisconnected)

	srv := httpapi.NewServer(repo, cache, mon, hub)
	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("iot-server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	slog.Info("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	cancel()
}

func setupLogging(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}
