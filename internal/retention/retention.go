// Package retention runs scheduled feed maintenance: trimming persisted
// history beyond the configured window and sweeping expired avatar retry
// bookkeeping.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatfeed/pkg/avatars"
	"chatfeed/pkg/backend/pebblestore"
	"chatfeed/pkg/config"
	"chatfeed/pkg/logger"
)

// Start starts the maintenance scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.RetentionConfig, store *pebblestore.Store, cache *avatars.Cache) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	// map empty cron to default hourly
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", cfg.Period.Std())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, cronExpr, store, cache)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runScheduler(ctx context.Context, cfg config.RetentionConfig, cronExpr string, store *pebblestore.Store, cache *avatars.Cache) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := RunOnce(cfg, store, cache); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce performs a single maintenance pass. Exposed so tests and admin
// triggers can run it on demand.
func RunOnce(cfg config.RetentionConfig, store *pebblestore.Store, cache *avatars.Cache) error {
	now := time.Now().UTC()
	if cache != nil {
		swept := cache.Sweep(now)
		if swept > 0 {
			logger.Info("avatar_sweep", "removed", swept)
		}
	}
	if store != nil && cfg.Period.Std() > 0 {
		cutoff := now.Add(-cfg.Period.Std()).UnixNano()
		trimmed, err := store.TrimOlderThan(cutoff)
		if err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
		logger.Info("retention_run_complete", "trimmed", trimmed)
	}
	return nil
}
