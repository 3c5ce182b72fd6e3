package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/liamcoop/requirements/internal/config"
	"github.com/liamcoop/requirements/internal/logger"
	"github.com/liamcoop/requirements/internal/metrics"
	"github.com/liamcoop/requirements/rules"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requirements-server",
		Short: "Evaluate project requirements rules over HTTP",
		Long: `Serves rule evaluations for projects: each run assembles the project's facts,
evaluates every visible rule set, detects conflicts and stores a new
requirements model version.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load("", cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logOpts := logger.OptionsFromEnv()
	logOpts.Level = cfg.Log.Level
	logOpts.SampleRate = cfg.Log.SampleRate
	if err := logger.Setup(ctx, logOpts); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = logger.Shutdown(shutdownCtx)
	}()
	log := logger.Component("server")

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.watcher != nil {
		go func() {
			if err := a.watcher.Watch(ctx); err != nil {
				log.Error("rule-set watcher stopped", "error", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      a.server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting",
			"addr", httpServer.Addr,
			"store", cfg.Database.Driver,
			"cache", cfg.Cache.Backend,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", "error", err)
	}

	log.Info("Server stopped")
	return nil
}

// app holds the wired server and the resources it owns.
type app struct {
	server  *Server
	watcher *rules.RuleSetWatcher
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("failed to close resource", "error", err)
		}
	}
}

// newApp builds the store, the rule-set pipeline and the HTTP server from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	checks := make(map[string]pinger)

	var store rules.Store
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		a.closers = append(a.closers, db.Close)

		if err := db.PingContext(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		pg := rules.NewPostgresStore(db)
		store = pg
		checks["database"] = pg
	default:
		logger.Warn("Using the in-memory store; data is lost on restart")
		store = rules.NewInMemoryStore()
	}

	compiler, err := rules.NewCELCompiler()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create CEL compiler: %w", err)
	}

	var repo rules.RuleSetRepository = store
	if cfg.RuleSets.Path != "" {
		source := rules.NewFileRuleSetSource(cfg.RuleSets.Path, cfg.Evaluation.Strict, compiler, logger.Logger)
		sets, err := source.LoadAll(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to load rule-set files: %w", err)
		}
		logger.Info("Loaded rule-set files", "path", cfg.RuleSets.Path, "rule_sets", len(sets))
		repo = rules.MultiRepository{store, source}
	}

	var cache rules.RuleSetCache
	switch cfg.Cache.Backend {
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		a.closers = append(a.closers, client.Close)

		rc := rules.NewRedisRuleSetCache(client, cfg.Cache.RedisPrefix)
		if err := rc.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		cache = rc
		checks["cache"] = rc
	default:
		cache = rules.NewInMemoryRuleSetCache()
	}

	storeOpts := []rules.RuleSetStoreOption{
		rules.WithCacheConfig(rules.CacheConfig{TTL: cfg.Cache.TTL}),
		rules.WithRuleSetStoreLogger(logger.Logger),
	}
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, nil)
		storeOpts = append(storeOpts, rules.WithCacheRecorder(collector))
	}
	ruleSets := rules.NewRuleSetStore(repo, cache, storeOpts...)

	if cfg.RuleSets.Watch {
		a.watcher = rules.NewRuleSetWatcher(cfg.RuleSets.Path, cfg.RuleSets.Debounce, ruleSets.InvalidateAll, logger.Logger)
	}

	a.server = NewServer(store, ruleSets, ServerOptions{
		Evaluator: rules.NewConditionEvaluator(
			rules.WithStrictMode(cfg.Evaluation.Strict),
			rules.WithCELCompiler(compiler),
			rules.WithEvaluatorLogger(logger.Logger),
		),
		Metrics:        collector,
		Checks:         checks,
		RequestTimeout: cfg.Server.RequestTimeout,
	})
	return a, nil
}
