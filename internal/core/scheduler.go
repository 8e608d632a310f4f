package core

// scheduler.go runs periodic maintenance:
//  1. Close sessions idle for longer than the session TTL
//  2. Prune run history older than the retention period
//
// The loop is context-aware for graceful shutdown. Failures are logged and
// never stop the loop.

import (
	"context"
	"log/slog"
	"time"
)

// MaintenanceConfig controls the maintenance loop.
type MaintenanceConfig struct {
	Interval      time.Duration // How often to run (default: 1h)
	RetentionDays int           // Days of run history to keep (default: 30)
}

// StartMaintenance runs maintenance immediately, then every Interval, until
// ctx is cancelled.
func (s *Service) StartMaintenance(ctx context.Context, cfg MaintenanceConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	slog.Info("maintenance scheduler started",
		"interval", cfg.Interval,
		"retention_days", cfg.RetentionDays,
	)

	s.runMaintenance(ctx, cfg)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			s.runMaintenance(ctx, cfg)
		}
	}
}

// runMaintenance performs one sweep and prune cycle.
func (s *Service) runMaintenance(ctx context.Context, cfg MaintenanceConfig) {
	start := time.Now()

	closed := s.SweepSessions()
	if closed > 0 {
		slog.Info("closed idle sessions", "sessions_closed", closed)
	}

	cutoff := s.now().AddDate(0, 0, -cfg.RetentionDays)
	pruned, err := s.history.Prune(ctx, cutoff)
	if err != nil {
		slog.Error("history prune failed", "error", err)
	} else if pruned > 0 {
		slog.Info("pruned run history", "runs_pruned", pruned, "cutoff", cutoff)
	}

	slog.Debug("maintenance completed", "duration_ms", time.Since(start).Milliseconds())
}
