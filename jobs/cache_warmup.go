package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/taxdesk/taxdesk/internal/jobs"
)

const warmupTimeout = 20 * time.Second

// Warmer precomputes cached reports.
type Warmer interface {
	WarmUp(ctx context.Context) error
}

// CacheWarmupJob refills the report cache after invoice or rate changes.
type CacheWarmupJob struct {
	Reports Warmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheWarmupJob wires dependencies for the warmup handler.
func NewCacheWarmupJob(reports Warmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheWarmupJob {
	return &CacheWarmupJob{Reports: reports, Logger: logger, Metrics: metrics}
}

// Handle processes warmup tasks.
func (j *CacheWarmupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Reports == nil {
		return errors.New("cache warmup: handler not configured")
	}
	var payload CacheWarmupPayload
	if err := decodePayload(t, &payload); err != nil {
		return asynq.SkipRetry
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskCacheWarmup)
	defer func() {
		err = tracker.End(err)
	}()

	logger := jobLogger(j.Logger, TaskCacheWarmup).With(slog.String("reason", payload.Reason))
	start := time.Now()
	warmCtx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()
	if err := j.Reports.WarmUp(warmCtx); err != nil {
		logger.Error("warm report cache", slog.Any("error", err))
		return err
	}
	logger.Info("report cache warmed", slog.Duration("duration", time.Since(start)))
	return nil
}
