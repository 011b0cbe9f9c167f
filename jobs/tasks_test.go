package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/cultiva-erp/cultiva-erp/internal/reporting"
)

type fakeBuilder struct {
	requestedBy []string
	err         error
}

func (f *fakeBuilder) BuildSnapshot(ctx context.Context, requestedBy string) (reporting.Snapshot, error) {
	if f.err != nil {
		return reporting.Snapshot{}, f.err
	}
	f.requestedBy = append(f.requestedBy, requestedBy)
	return reporting.Snapshot{TakenAt: time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC), Products: 3}, nil
}

type fakeCleaner struct {
	olderThan []time.Duration
	err       error
}

func (f *fakeCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.olderThan = append(f.olderThan, olderThan)
	return 7, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSOHSnapshotJobHandle(t *testing.T) {
	builder := &fakeBuilder{}
	job := NewSOHSnapshotJob(builder, testLogger(), nil)

	task, err := NewSOHSnapshotTask("night-audit")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []string{"night-audit"}, builder.requestedBy)
}

func TestSOHSnapshotJobDefaultsRequester(t *testing.T) {
	builder := &fakeBuilder{}
	job := NewSOHSnapshotJob(builder, testLogger(), nil)

	task := asynq.NewTask(TaskSOHSnapshot, []byte(`{}`))
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []string{"scheduler"}, builder.requestedBy)
}

func TestSOHSnapshotJobBadPayloadSkipsRetry(t *testing.T) {
	job := NewSOHSnapshotJob(&fakeBuilder{}, testLogger(), nil)

	task := asynq.NewTask(TaskSOHSnapshot, []byte(`{`))
	err := job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSOHSnapshotJobPropagatesFailure(t *testing.T) {
	builder := &fakeBuilder{err: errors.New("ledger offline")}
	job := NewSOHSnapshotJob(builder, testLogger(), nil)

	task, err := NewSOHSnapshotTask("")
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.ErrorContains(t, err, "ledger offline")
}

func TestSOHSnapshotJobRequiresDependencies(t *testing.T) {
	job := &SOHSnapshotJob{}
	task, err := NewSOHSnapshotTask("")
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}

func TestIdempotencyCleanupJobHandle(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, testLogger(), nil)

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []time.Duration{48 * time.Hour}, cleaner.olderThan)
}

func TestIdempotencyCleanupJobDefaultsRetention(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, testLogger(), nil)

	task := asynq.NewTask(TaskIdempotencyCleanup, []byte(`{}`))
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []time.Duration{24 * time.Hour}, cleaner.olderThan)
}

func TestIdempotencyCleanupJobPropagatesFailure(t *testing.T) {
	cleaner := &fakeCleaner{err: errors.New("db down")}
	job := NewIdempotencyCleanupJob(cleaner, testLogger(), nil)

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.ErrorContains(t, err, "db down")
}
