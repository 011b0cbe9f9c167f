package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/cultiva-erp/cultiva-erp/internal/jobs"
	"github.com/cultiva-erp/cultiva-erp/internal/reporting"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SnapshotBuilder describes the behaviour required to rebuild the stock
// on hand report.
type SnapshotBuilder interface {
	BuildSnapshot(ctx context.Context, requestedBy string) (reporting.Snapshot, error)
}

// SOHSnapshotJob runs the nightly (or on-demand) snapshot rebuild.
type SOHSnapshotJob struct {
	Service SnapshotBuilder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSOHSnapshotJob constructs the job handler.
func NewSOHSnapshotJob(service SnapshotBuilder, logger *slog.Logger, metrics *jobmetrics.Metrics) *SOHSnapshotJob {
	return &SOHSnapshotJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the snapshot rebuild.
func (j *SOHSnapshotJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("soh snapshot: dependencies not configured")
	}
	var payload SOHSnapshotPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RequestedBy == "" {
		payload.RequestedBy = "scheduler"
	}

	tracker := j.metrics().Track(TaskSOHSnapshot)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	snapshot, err := j.Service.BuildSnapshot(ctx, payload.RequestedBy)
	if err != nil {
		resultErr = err
		j.log().Error("build snapshot", slog.String("requested_by", payload.RequestedBy), slog.Any("error", err))
		return resultErr
	}

	j.log().Info("rebuilt stock on hand snapshot",
		slog.Time("taken_at", snapshot.TakenAt),
		slog.Int("products", snapshot.Products),
		slog.String("requested_by", payload.RequestedBy),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *SOHSnapshotJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SOHSnapshotJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSOHSnapshot))
	}
	return slog.Default().With(slog.String("job", TaskSOHSnapshot))
}

func (j *SOHSnapshotJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *SOHSnapshotJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
