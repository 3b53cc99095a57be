package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/taxdesk/taxdesk/internal/jobs"
	"github.com/taxdesk/taxdesk/internal/reporting"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Snapshotter persists monthly tax reports.
type Snapshotter interface {
	SnapshotMonth(ctx context.Context, year, month int) (reporting.TaxReport, bool, error)
}

// ReportSnapshotJob stores the monthly tax report for a closed month.
type ReportSnapshotJob struct {
	Reports Snapshotter
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReportSnapshotJob wires dependencies for the snapshot handler.
func NewReportSnapshotJob(reports Snapshotter, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportSnapshotJob {
	return &ReportSnapshotJob{
		Reports: reports,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes snapshot tasks.
func (j *ReportSnapshotJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Reports == nil {
		return errors.New("report snapshot: handler not configured")
	}
	var payload ReportSnapshotPayload
	if err := decodePayload(t, &payload); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if payload.Year == 0 || payload.Month == 0 {
		now := j.now()
		prev := now.AddDate(0, 0, -now.Day())
		payload.Year, payload.Month = prev.Year(), int(prev.Month())
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskReportSnapshot)
	defer func() {
		err = tracker.End(err)
	}()

	logger := jobLogger(j.Logger, TaskReportSnapshot).With(slog.Int("year", payload.Year), slog.Int("month", payload.Month))
	rep, created, err := j.Reports.SnapshotMonth(ctx, payload.Year, payload.Month)
	if errors.Is(err, reporting.ErrInvalidRange) {
		logger.Warn("invalid snapshot month", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		logger.Error("snapshot month", slog.Any("error", err))
		return err
	}
	metrics.AddSnapshot(string(reporting.ReportMonthly), created)
	if !created {
		logger.Info("snapshot already stored", slog.Int64("report_id", rep.ID))
		return nil
	}
	logger.Info("stored monthly snapshot", slog.Int64("report_id", rep.ID), slog.Int("invoices", rep.Totals.InvoiceCount))
	return nil
}

func (j *ReportSnapshotJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}
