package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/stockroom-app/stockroom/internal/jobs"
	"github.com/stockroom-app/stockroom/internal/items"
	"github.com/stockroom-app/stockroom/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskImageCleanup removes an item image that is no longer referenced.
	TaskImageCleanup = "items:image_cleanup"
	// TaskIdempotencyCleanup purges expired API idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// ImageCleanupPayload names the image to delete.
type ImageCleanupPayload struct {
	Key string `json:"key"`
}

// NewImageCleanupTask constructs an Asynq task.
func NewImageCleanupTask(key string) (*asynq.Task, error) {
	if key == "" {
		return nil, errors.New("jobs: image key required")
	}
	data, err := json.Marshal(ImageCleanupPayload{Key: key})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskImageCleanup, data, asynq.MaxRetry(5)), nil
}

// NewImageCleanupHandler processes TaskImageCleanup tasks. Missing images
// count as deleted; malformed payloads and keys are not retried.
func NewImageCleanupHandler(store items.ImageStore, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("image_cleanup")
		var payload ImageCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Key == "" {
			return tracker.End(fmt.Errorf("jobs: bad image cleanup payload: %w", asynq.SkipRetry))
		}
		if err := store.Delete(ctx, payload.Key); err != nil {
			if errors.Is(err, shared.ErrValidation) {
				return tracker.End(fmt.Errorf("jobs: %v: %w", err, asynq.SkipRetry))
			}
			logger.Warn("image cleanup", slog.String("key", payload.Key), slog.Any("error", err))
			return tracker.End(err)
		}
		logger.Info("image removed", slog.String("key", payload.Key))
		return tracker.End(nil)
	}
}

// IdempotencyCleanupPayload carries the retention window in hours.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs the periodic purge task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	hours := int(retention / time.Hour)
	if hours <= 0 {
		return nil, errors.New("jobs: retention must be at least one hour")
	}
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: hours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.MaxRetry(3)), nil
}

// IdempotencyCleaner is satisfied by the idempotency stores.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// NewIdempotencyCleanupHandler processes TaskIdempotencyCleanup tasks.
func NewIdempotencyCleanupHandler(store IdempotencyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("idempotency_cleanup")
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.RetentionHours <= 0 {
			return tracker.End(fmt.Errorf("jobs: bad idempotency cleanup payload: %w", asynq.SkipRetry))
		}
		n, err := store.Cleanup(ctx, time.Duration(payload.RetentionHours)*time.Hour)
		if err != nil {
			return tracker.End(err)
		}
		logger.Info("idempotency keys purged", slog.Int64("count", n))
		return tracker.End(nil)
	}
}
