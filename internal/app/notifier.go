package app

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// CacheBumper invalidates derived report caches.
type CacheBumper interface {
	Bump(ctx context.Context) error
}

// WarmupEnqueuer schedules a background cache warmup.
type WarmupEnqueuer interface {
	EnqueueCacheWarmup(ctx context.Context, reason string) (*asynq.TaskInfo, error)
}

// ReportInvalidator is handed to services whose writes change report inputs.
// It bumps the cache version first and then asks the worker to re-warm.
type ReportInvalidator struct {
	cache  CacheBumper
	warmup WarmupEnqueuer
	reason string
	logger *slog.Logger
}

// NewReportInvalidator builds an invalidator tagged with reason, e.g. "invoice".
func NewReportInvalidator(cache CacheBumper, warmup WarmupEnqueuer, reason string, logger *slog.Logger) *ReportInvalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportInvalidator{cache: cache, warmup: warmup, reason: reason, logger: logger}
}

// Bump implements the services' ChangeNotifier. A failed warmup enqueue is
// only logged; the bump already made stale entries unreachable.
func (n *ReportInvalidator) Bump(ctx context.Context) error {
	if n == nil {
		return nil
	}
	if n.cache != nil {
		if err := n.cache.Bump(ctx); err != nil {
			return err
		}
	}
	if n.warmup == nil {
		return nil
	}
	if _, err := n.warmup.EnqueueCacheWarmup(ctx, n.reason); err != nil {
		n.logger.Warn("enqueue cache warmup", slog.String("reason", n.reason), slog.Any("error", err))
	}
	return nil
}
