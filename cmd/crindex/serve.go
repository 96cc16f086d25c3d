package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/digitalroastery/weblounge-sub005/internal/api"
	"github.com/digitalroastery/weblounge-sub005/internal/events"
	"github.com/digitalroastery/weblounge-sub005/internal/repository"
	"github.com/digitalroastery/weblounge-sub005/internal/search/cache"
	"github.com/digitalroastery/weblounge-sub005/pkg/health"
	"github.com/digitalroastery/weblounge-sub005/pkg/kafka"
	"github.com/digitalroastery/weblounge-sub005/pkg/metrics"
	"github.com/digitalroastery/weblounge-sub005/pkg/middleware"
	pkgredis "github.com/digitalroastery/weblounge-sub005/pkg/redis"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve lookups and search over HTTP",
	Long: `The serve command opens the repository index, flushes the search index
in the background and serves the HTTP API. With Kafka enabled it publishes
index events and applies resource events from the configured topics.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port, overrides the config")
	rootCmd.AddCommand(serveCmd)
}

func serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting content repository index",
		"root", cfg.Repository.Root,
		"port", cfg.Server.Port,
		"read_only", cfg.Repository.ReadOnly,
	)

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdownMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	opts := []repository.Option{repository.WithMetrics(m)}

	var redisClient *pkgredis.Client
	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		var err error
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			opts = append(opts, repository.WithQueryCache(queryCache))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	if cfg.Kafka.Enabled && !cfg.Repository.ReadOnly {
		// Closed by the index.
		publisher := events.NewKafkaPublisher(cfg.Kafka, m)
		opts = append(opts, repository.WithEventPublisher(publisher))
		slog.Info("index events enabled", "topic", cfg.Kafka.Topics.IndexEvents)
	}

	idx, err := repository.Open(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}
	defer func() {
		if err := idx.Close(); err != nil {
			slog.Error("closing repository", "error", err)
		}
	}()
	if !idx.ReadOnly() {
		idx.Search().StartFlushLoop(ctx)
	}

	if cfg.Kafka.Enabled && !idx.ReadOnly() {
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ResourceEvents, events.HandleResourceEvents(idx))
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("resource event consumer stopped", "error", err)
			}
		}()
		slog.Info("resource event consumer started", "topic", cfg.Kafka.Topics.ResourceEvents)
	}

	checker := health.NewChecker(cfg.Server.RequestTimeout)
	checker.Register("repository", func(ctx context.Context) health.ComponentHealth {
		if v := idx.IndexVersion(); v < 0 {
			return health.ComponentHealth{Status: health.StatusDown, Message: "index format mismatch"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d resources", idx.ResourceCount()),
		}
	})
	if redisClient != nil {
		checker.Register("redis", health.Ping(redisClient.Ping, false))
	}

	h := api.New(idx, queryCache, cfg.Search.DefaultLimit, cfg.Search.MaxResults)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler(nil))

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("content repository index listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("content repository index stopped")
	return nil
}
