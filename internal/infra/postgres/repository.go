package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const taskColumns = `id, source_name, status, error_message, segment_count, created_at, updated_at, completed_at`

type TaskRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

func (r *TaskRepository) CreateTask(ctx context.Context, id uuid.UUID, sourceName string) (*entity.Task, error) {
	task := entity.NewTask(id, sourceName)
	query := `
		INSERT INTO ocr_tasks (` + taskColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err := r.pool.Exec(ctx, query,
		task.ID, task.SourceName, string(task.Status), task.ErrorMessage,
		task.SegmentCount, task.CreatedAt, task.UpdatedAt, task.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

func (r *TaskRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM ocr_tasks WHERE id=$1`

	task := &entity.Task{}
	var status string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&task.ID, &task.SourceName, &status, &task.ErrorMessage,
		&task.SegmentCount, &task.CreatedAt, &task.UpdatedAt, &task.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("find task %s: %w", id, entity.ErrTaskNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find task by id: %w", err)
	}
	task.Status, err = entity.ParseTaskStatus(status)
	if err != nil {
		return nil, fmt.Errorf("find task by id: %w", err)
	}
	return task, nil
}

// SetStatus writes the task's status fields only if the stored status is one the
// new status can be reached from, so a stale worker cannot move a task backwards.
func (r *TaskRepository) SetStatus(ctx context.Context, task *entity.Task) error {
	query := `
		UPDATE ocr_tasks SET
			status=$2, error_message=$3, segment_count=$4, updated_at=$5, completed_at=$6
		WHERE id=$1 AND status = ANY($7)`

	tag, err := r.pool.Exec(ctx, query,
		task.ID, string(task.Status), task.ErrorMessage, task.SegmentCount,
		task.UpdatedAt, task.CompletedAt, statusStrings(task.Status.Predecessors()),
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, task.ID); err != nil {
			return err
		}
		return fmt.Errorf("set status %s on task %s: %w", task.Status, task.ID, entity.ErrInvalidTransition)
	}
	return nil
}

// AppendSegments replaces the segments of a task that is still processing.
func (r *TaskRepository) AppendSegments(ctx context.Context, id uuid.UUID, segments []entity.Segment) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM ocr_tasks WHERE id=$1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("find task %s: %w", id, entity.ErrTaskNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock task: %w", err)
		}
		if status != string(entity.TaskStatusProcessing) {
			return fmt.Errorf("append segments to %s task %s: %w", status, id, entity.ErrInvalidTransition)
		}
		return replaceSegments(ctx, tx, id, segments)
	})
}

// CompleteTask stores the segments and the completed status in one
// transaction. Nothing is written unless the task is still processing.
func (r *TaskRepository) CompleteTask(ctx context.Context, task *entity.Task, segments []entity.Segment) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE ocr_tasks SET
				status=$2, error_message=$3, segment_count=$4, updated_at=$5, completed_at=$6
			WHERE id=$1 AND status=$7`,
			task.ID, string(task.Status), task.ErrorMessage, task.SegmentCount,
			task.UpdatedAt, task.CompletedAt, string(entity.TaskStatusProcessing),
		)
		if err != nil {
			return fmt.Errorf("update task status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			if _, err := r.FindByID(ctx, task.ID); err != nil {
				return err
			}
			return fmt.Errorf("complete task %s: %w", task.ID, entity.ErrInvalidTransition)
		}
		return replaceSegments(ctx, tx, task.ID, segments)
	})
}

func replaceSegments(ctx context.Context, tx pgx.Tx, id uuid.UUID, segments []entity.Segment) error {
	if _, err := tx.Exec(ctx, `DELETE FROM ocr_segments WHERE task_id=$1`, id); err != nil {
		return fmt.Errorf("clear segments: %w", err)
	}
	if len(segments) == 0 {
		return nil
	}

	rows := make([][]any, len(segments))
	for i, s := range segments {
		rows[i] = []any{id, i, s.StartMs, s.EndMs, s.Text, s.Confidence, s.ReadingCount}
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"ocr_segments"},
		[]string{"task_id", "position", "start_ms", "end_ms", "text", "confidence", "reading_count"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("insert segments: %w", err)
	}
	return nil
}

func (r *TaskRepository) Heartbeat(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE ocr_tasks SET updated_at=$2 WHERE id=$1 AND status=$3`,
		id, time.Now().UTC(), string(entity.TaskStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("task heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("heartbeat task %s: %w", id, entity.ErrInvalidTransition)
	}
	return nil
}

func (r *TaskRepository) AppendRawReading(ctx context.Context, id uuid.UUID, reading entity.FrameReading) error {
	query := `
		INSERT INTO ocr_frames (task_id, frame_index, timestamp_ms, text, confidence)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (task_id, frame_index) DO NOTHING`

	_, err := r.pool.Exec(ctx, query, id, reading.FrameIndex, reading.TimestampMs, reading.Text, reading.Confidence)
	if err != nil {
		return fmt.Errorf("insert frame reading: %w", err)
	}
	return nil
}

// ListSegments returns the task's segments in time order. A non-empty query keeps
// only segments whose text contains it, ignoring case.
func (r *TaskRepository) ListSegments(ctx context.Context, id uuid.UUID, query string) ([]entity.Segment, error) {
	sql := `
		SELECT start_ms, end_ms, text, confidence, reading_count
		FROM ocr_segments WHERE task_id=$1`
	args := []any{id}
	if query != "" {
		sql += ` AND text ILIKE $2`
		args = append(args, "%"+escapeLike(query)+"%")
	}
	sql += ` ORDER BY position`

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	segments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.Segment, error) {
		var s entity.Segment
		err := row.Scan(&s.StartMs, &s.EndMs, &s.Text, &s.Confidence, &s.ReadingCount)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan segments: %w", err)
	}
	return segments, nil
}

func (r *TaskRepository) FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	query := `
		UPDATE ocr_tasks SET
			status=$1, error_message=$2, segment_count=0, updated_at=now(), completed_at=now()
		WHERE status=$3 AND updated_at < $4`

	tag, err := r.pool.Exec(ctx, query,
		string(entity.TaskStatusFailed), reason, string(entity.TaskStatusProcessing), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("fail stale tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func statusStrings(statuses []entity.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
