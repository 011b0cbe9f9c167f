package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSOHSnapshot rebuilds the stock on hand snapshot.
	TaskSOHSnapshot = "reporting:soh_snapshot"
	// TaskIdempotencyCleanup prunes expired idempotency claims.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// SOHSnapshotPayload records who asked for the rebuild.
type SOHSnapshotPayload struct {
	RequestedBy string `json:"requested_by"`
}

// NewSOHSnapshotTask constructs an Asynq task for a snapshot rebuild.
func NewSOHSnapshotTask(requestedBy string) (*asynq.Task, error) {
	if requestedBy == "" {
		requestedBy = "scheduler"
	}
	body, err := json.Marshal(SOHSnapshotPayload{RequestedBy: requestedBy})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSOHSnapshot, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload configures how far back the prune reaches.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for the cleanup run.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	hours := int(retention / time.Hour)
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: hours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
