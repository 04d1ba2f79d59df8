// clubcast-worker runs the notification fan-out consumers: it connects to
// the broker, declares the topology, and dispatches inbound notifications
// to push delivery until terminated.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	clubcast "github.com/clubcast/clubcast-go"
	"github.com/clubcast/clubcast-go/health"
	"github.com/clubcast/clubcast-go/push"
	"github.com/clubcast/clubcast-go/tokenstore"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Worker.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	sender := push.NewSender(cfg.Push.Endpoint,
		push.WithAuthToken(cfg.Push.AuthToken),
		push.WithChunkSize(cfg.Push.ChunkSize),
		push.WithSenderLogger(logger),
	)

	client, err := clubcast.NewClient(cfg.Broker.URL,
		tokenstore.New(pool),
		sender,
		clubcast.WithLogger(logger),
		clubcast.WithConnectTimeout(cfg.Broker.ConnectTimeout),
		clubcast.WithPrefetchCount(cfg.Worker.PrefetchCount),
		clubcast.WithMaxRedeliveries(cfg.Worker.MaxRedeliveries),
	)
	if err != nil {
		logger.Error("failed to build client", "error", err)
		os.Exit(1)
	}

	if err := client.Start(ctx); err != nil {
		logger.Error("failed to start notification fan-out", "error", err)
		os.Exit(1)
	}

	registry := health.NewRegistry(health.WithRegistryLogger(logger))
	registry.Register(health.NewBrokerChecker(client.ConnectionManager()))
	registry.Register(health.NewChannelPoolChecker(client.ChannelPool()))
	registry.Register(health.NewTokenStoreChecker(pool))
	for _, q := range []string{"global_queue", "team_queue", "province_queue", "individual_queue"} {
		registry.Register(health.NewQueueChecker(q, client.TopologyManager()))
	}

	report := registry.Check(ctx)
	logger.Info("startup health check", "overall", string(report.Overall))

	logger.Info("worker running, waiting for shutdown signal")
	<-ctx.Done()

	logger.Info("shutting down")
	if err := client.Stop(); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
