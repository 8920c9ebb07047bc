package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codetesla51/entitylimit/config"
	"github.com/codetesla51/entitylimit/internal/observability"
	"github.com/codetesla51/entitylimit/limiter"
	"github.com/codetesla51/entitylimit/metrics"
	"github.com/codetesla51/entitylimit/middleware"
	"github.com/codetesla51/entitylimit/policy"
	"github.com/codetesla51/entitylimit/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server.

Routes:
  GET    /                     rate-limited by client IP
  GET    /healthz              health
  GET    /metrics              Prometheus metrics
  GET    /entities             list registered entities
  POST   /entities             register {"id","limit","window","replace"}
  GET    /entities/{id}        entity state
  DELETE /entities/{id}        remove an entity
  POST   /entities/{id}/check  run one admission check

SIGINT or SIGTERM shuts the server down gracefully.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(newViper(cmd), cfgFile)
		if err != nil {
			return err
		}

		logger, err := observability.NewLogger(cfg.Log.Level)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runServer(ctx, cfg, logger)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().Int("shards", 0, "registry shard count (overrides limiter.shards)")
	serveCmd.Flags().String("policy-source", "", "policy source: none, file, redis or postgres")
	serveCmd.Flags().String("policy-file", "", "YAML policy file for the file source")
}

func runServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	l := limiter.New(
		limiter.WithName(cfg.Limiter.Name),
		limiter.WithShards(cfg.Limiter.Shards),
		limiter.WithLogger(logger),
		limiter.WithObserver(m.Observer(cfg.Limiter.Name)),
	)
	if err := metrics.TrackEntities(reg, l); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	if err := loadPolicies(ctx, cfg, l, logger); err != nil {
		return err
	}

	var rlOpts []middleware.Option
	if len(cfg.Server.TrustedProxies) > 0 {
		proxies, err := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
		if err != nil {
			return fmt.Errorf("invalid trusted proxies: %w", err)
		}
		rlOpts = append(rlOpts, middleware.WithTrustedProxies(proxies...))
	}
	if cfg.Limiter.AutoRegister {
		rlOpts = append(rlOpts, middleware.WithAutoRegister(cfg.Limiter.DefaultLimit, cfg.Limiter.DefaultWindow))
	}
	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		RateLimit:       rlOpts,
	}, l, reg, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	if cfg.Limiter.IdleTTL > 0 {
		g.Go(func() error {
			return l.RunJanitor(ctx, cfg.Limiter.SweepInterval, cfg.Limiter.IdleTTL)
		})
	}
	return g.Wait()
}

func loadPolicies(ctx context.Context, cfg *config.Config, l *limiter.Limiter, logger *zap.Logger) error {
	var src policy.Source
	switch cfg.Policy.Source {
	case config.SourceNone:
		return nil
	case config.SourceFile:
		src = policy.NewFileSource(cfg.Policy.File)
	case config.SourceRedis:
		rs, err := policy.NewRedisSource(cfg.Redis.Addr, cfg.Redis.Key)
		if err != nil {
			return err
		}
		defer rs.Close()
		src = rs
	case config.SourcePostgres:
		ds, err := policy.NewDatabaseSource(cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer ds.Close()
		src = ds
	default:
		return fmt.Errorf("unknown policy source %q", cfg.Policy.Source)
	}

	n, err := policy.Apply(ctx, l, src)
	if err != nil {
		return err
	}
	logger.Info("policies loaded", zap.String("source", cfg.Policy.Source), zap.Int("entities", n))
	return nil
}
