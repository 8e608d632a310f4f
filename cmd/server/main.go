package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonMunkholm/tabclean/internal/config"
	"github.com/JonMunkholm/tabclean/internal/core"
	"github.com/JonMunkholm/tabclean/internal/engine"
	"github.com/JonMunkholm/tabclean/internal/logging"
	"github.com/JonMunkholm/tabclean/internal/rules"
	"github.com/JonMunkholm/tabclean/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration", "config", cfg.String())

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"history_db", cfg.Database.Enabled(),
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()

	history, closeHistory, err := openHistory(ctx, cfg)
	if err != nil {
		slog.Error("failed to open run history", "error", err)
		os.Exit(1)
	}
	defer closeHistory()

	catalog, err := loadCatalog(cfg.Rules.CatalogPath)
	if err != nil {
		slog.Error("failed to load rule catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("rule catalog loaded", "templates", catalog.Len(), "path", cfg.Rules.CatalogPath)

	svcCfg := core.ServiceConfigFrom(cfg)
	if path := cfg.Rules.DefaultRulesPath; path != "" {
		svcCfg.DefaultRules, err = rules.ReadRulesFile(path)
		if err != nil {
			slog.Error("failed to load default rules", "path", path, "error", err)
			os.Exit(1)
		}
		for _, r := range svcCfg.DefaultRules {
			if err := rules.Check(r); err != nil {
				slog.Warn("default rule is invalid and will be skipped", "rule", r.ID, "error", err)
			}
		}
		slog.Info("default rules loaded", "path", path, "rules", len(svcCfg.DefaultRules))
	}

	execOpts := []engine.Option{engine.WithLogger(slog.Default())}
	var serverOpts []web.Option
	if cfg.Metrics.Enabled {
		metrics, err := engine.NewMetrics(prometheus.DefaultRegisterer)
		if err != nil {
			slog.Error("failed to register metrics", "error", err)
			os.Exit(1)
		}
		execOpts = append(execOpts, engine.WithMetrics(metrics))
		serverOpts = append(serverOpts, web.WithGatherer(prometheus.DefaultGatherer))
	}

	service := core.NewService(svcCfg, catalog, engine.New(execOpts...), history)

	server, err := web.NewServer(service, cfg, serverOpts...)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	go service.StartMaintenance(jobCtx, core.MaintenanceConfig{
		Interval:      cfg.History.CleanupInterval,
		RetentionDays: cfg.History.RetentionDays,
	})

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests first, then let running passes finish.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for uploads and passes to complete", "active", status.Active)
			if err := service.WaitForPasses(shutdownCtx); err != nil {
				slog.Warn("passes did not complete in time", "error", err)
			} else {
				slog.Info("all passes completed")
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		cancelJobs()
		closeHistory()
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}

// openHistory connects to PostgreSQL when DATABASE_URL is set and falls back
// to an in-memory history otherwise.
func openHistory(ctx context.Context, cfg *config.Config) (core.History, func(), error) {
	if !cfg.Database.Enabled() {
		slog.Info("no database configured, keeping run history in memory",
			"limit", cfg.History.MemoryLimit,
		)
		return core.NewMemoryHistory(cfg.History.MemoryLimit), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	history, err := core.NewPGHistory(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return history, pool.Close, nil
}

func loadCatalog(path string) (*rules.Catalog, error) {
	if path == "" {
		return rules.DefaultCatalog()
	}
	return rules.LoadCatalogFile(path)
}
