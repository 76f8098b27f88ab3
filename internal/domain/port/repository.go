package port

import (
	"context"
	"time"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	"github.com/google/uuid"
)

type TaskStore interface {
	CreateTask(ctx context.Context, id uuid.UUID, sourceName string) (*entity.Task, error)
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Task, error)
	// SetStatus persists task.Status and its bookkeeping fields. Implementations
	// reject writes whose stored status cannot reach task.Status.
	SetStatus(ctx context.Context, task *entity.Task) error
	// AppendSegments replaces any segments already stored for a task that is
	// still processing.
	AppendSegments(ctx context.Context, id uuid.UUID, segments []entity.Segment) error
	// CompleteTask atomically replaces the task's segments and writes its
	// completed status. It returns entity.ErrInvalidTransition, writing
	// nothing, when the stored task is no longer processing.
	CompleteTask(ctx context.Context, task *entity.Task, segments []entity.Segment) error
	// Heartbeat refreshes updated_at of a processing task so it is not reaped as
	// stale. It returns entity.ErrInvalidTransition once the task left processing.
	Heartbeat(ctx context.Context, id uuid.UUID) error
	AppendRawReading(ctx context.Context, id uuid.UUID, reading entity.FrameReading) error
	ListSegments(ctx context.Context, id uuid.UUID, query string) ([]entity.Segment, error)
	// FailStale marks tasks stuck in processing since before cutoff as failed.
	FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error)
}
