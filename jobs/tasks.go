package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReportSnapshot persists the monthly tax report of a closed month.
	TaskReportSnapshot = "reports:period_snapshot"
	// TaskCacheWarmup recomputes the most requested reports after invalidation.
	TaskCacheWarmup = "reports:cache_warmup"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ReportSnapshotPayload selects the month to snapshot. Zero values select the
// month before the run date.
type ReportSnapshotPayload struct {
	Year  int `json:"year,omitempty"`
	Month int `json:"month,omitempty"`
}

// CacheWarmupPayload describes why a warmup was requested.
type CacheWarmupPayload struct {
	Reason string `json:"reason,omitempty"`
}

// IdempotencyCleanupPayload overrides the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention,omitempty"`
}

// NewReportSnapshotTask constructs a snapshot task.
func NewReportSnapshotTask(payload ReportSnapshotPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportSnapshot, data), nil
}

// NewCacheWarmupTask constructs a warmup task.
func NewCacheWarmupTask(payload CacheWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheWarmup, data), nil
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

func decodePayload(t *asynq.Task, dest any) error {
	if len(t.Payload()) == 0 {
		return nil
	}
	return json.Unmarshal(t.Payload(), dest)
}
