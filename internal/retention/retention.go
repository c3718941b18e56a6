package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"threadsync/pkg/config"
	"threadsync/pkg/logger"
	"threadsync/pkg/store"
)

// Tombstones must outlive the longest plausible client offline window,
// otherwise a returning client re-uploads a deleted record as new. The
// period floor guards against configs that would break convergence.
const minPeriod = 24 * time.Hour

// Start starts the tombstone purge scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, eff config.EffectiveConfigResult) (context.CancelFunc, error) {
	ret := eff.Config.Retention

	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	period, err := time.ParseDuration(ret.Period)
	if err != nil {
		logger.Error("retention_invalid_period", "period", ret.Period, "error", err)
		return nil, fmt.Errorf("invalid retention period: %q", ret.Period)
	}
	if period < minPeriod {
		return nil, fmt.Errorf("retention period %s below minimum %s", period, minPeriod)
	}

	// map empty cron to default daily @02:00
	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", ret.Period, "dry_run", ret.DryRun)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, ret, period, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time. Supports full cron syntax.
func runScheduler(ctx context.Context, ret config.RetentionConfig, period time.Duration, cronExpr string) {
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
				logger.Info("retention_scheduler_stopping")
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := RunOnce(ret, period); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce performs a single purge pass. Exposed so operators and tests can
// trigger retention outside the schedule.
func RunOnce(ret config.RetentionConfig, period time.Duration) error {
	cutoff := time.Now().UTC().Add(-period)
	sleep := time.Duration(ret.BatchSleepMs) * time.Millisecond
	removed, err := store.PurgeDeletedBefore(cutoff, ret.BatchSize, sleep, ret.DryRun)
	if err != nil {
		return err
	}
	logger.Info("retention_run_complete", "cutoff", cutoff.Format(time.RFC3339), "removed", removed, "dry_run", ret.DryRun)
	return nil
}
