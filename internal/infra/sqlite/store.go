package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Store is a TaskStore backed by a local sqlite file, used by the CLI modes.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database at path and migrates the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	// a single writer avoids SQLITE_BUSY under the watch pool
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&taskModel{}, &frameModel{}, &segmentModel{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	logger.Debug("sqlite store ready", zap.String("path", path))
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateTask(ctx context.Context, id uuid.UUID, sourceName string) (*entity.Task, error) {
	task := entity.NewTask(id, sourceName)
	m := toTaskModel(task)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*entity.Task, error) {
	var m taskModel
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find task %s: %w", id, entity.ErrTaskNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find task by id: %w", err)
	}
	return m.toEntity()
}

func (s *Store) SetStatus(ctx context.Context, task *entity.Task) error {
	res := s.db.WithContext(ctx).Model(&taskModel{}).
		Where("id = ? AND status IN ?", task.ID.String(), statusStrings(task.Status.Predecessors())).
		Updates(map[string]any{
			"status":        string(task.Status),
			"error_message": task.ErrorMessage,
			"segment_count": task.SegmentCount,
			"updated_at":    task.UpdatedAt,
			"completed_at":  task.CompletedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("update task status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.FindByID(ctx, task.ID); err != nil {
			return err
		}
		return fmt.Errorf("set status %s on task %s: %w", task.Status, task.ID, entity.ErrInvalidTransition)
	}
	return nil
}

// AppendSegments replaces the segments of a task that is still processing.
func (s *Store) AppendSegments(ctx context.Context, id uuid.UUID, segments []entity.Segment) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m taskModel
		err := tx.Select("status").Where("id = ?", id.String()).Take(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("find task %s: %w", id, entity.ErrTaskNotFound)
		}
		if err != nil {
			return fmt.Errorf("find task by id: %w", err)
		}
		if m.Status != string(entity.TaskStatusProcessing) {
			return fmt.Errorf("append segments to %s task %s: %w", m.Status, id, entity.ErrInvalidTransition)
		}
		return replaceSegments(tx, id, segments)
	})
}

// CompleteTask stores the segments and the completed status in one
// transaction. Nothing is written unless the task is still processing.
func (s *Store) CompleteTask(ctx context.Context, task *entity.Task, segments []entity.Segment) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&taskModel{}).
			Where("id = ? AND status = ?", task.ID.String(), string(entity.TaskStatusProcessing)).
			Updates(map[string]any{
				"status":        string(task.Status),
				"error_message": task.ErrorMessage,
				"segment_count": task.SegmentCount,
				"updated_at":    task.UpdatedAt,
				"completed_at":  task.CompletedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("update task status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&taskModel{}).Where("id = ?", task.ID.String()).Count(&n).Error; err != nil {
				return fmt.Errorf("find task by id: %w", err)
			}
			if n == 0 {
				return fmt.Errorf("find task %s: %w", task.ID, entity.ErrTaskNotFound)
			}
			return fmt.Errorf("complete task %s: %w", task.ID, entity.ErrInvalidTransition)
		}
		return replaceSegments(tx, task.ID, segments)
	})
}

func replaceSegments(tx *gorm.DB, id uuid.UUID, segments []entity.Segment) error {
	if err := tx.Where("task_id = ?", id.String()).Delete(&segmentModel{}).Error; err != nil {
		return fmt.Errorf("clear segments: %w", err)
	}
	if len(segments) == 0 {
		return nil
	}
	rows := make([]segmentModel, len(segments))
	for i, seg := range segments {
		rows[i] = segmentModel{
			TaskID:       id.String(),
			Position:     i,
			StartMs:      seg.StartMs,
			EndMs:        seg.EndMs,
			Text:         seg.Text,
			Confidence:   seg.Confidence,
			ReadingCount: seg.ReadingCount,
		}
	}
	if err := tx.CreateInBatches(rows, 200).Error; err != nil {
		return fmt.Errorf("insert segments: %w", err)
	}
	return nil
}

func (s *Store) Heartbeat(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&taskModel{}).
		Where("id = ? AND status = ?", id.String(), string(entity.TaskStatusProcessing)).
		Update("updated_at", time.Now().UTC())
	if res.Error != nil {
		return fmt.Errorf("task heartbeat: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.FindByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("heartbeat task %s: %w", id, entity.ErrInvalidTransition)
	}
	return nil
}

func (s *Store) AppendRawReading(ctx context.Context, id uuid.UUID, reading entity.FrameReading) error {
	row := frameModel{
		TaskID:      id.String(),
		FrameIndex:  reading.FrameIndex,
		TimestampMs: reading.TimestampMs,
		Text:        reading.Text,
		Confidence:  reading.Confidence,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("insert frame reading: %w", err)
	}
	return nil
}

// RawReadings returns the stored per-frame readings of a task in frame order.
func (s *Store) RawReadings(ctx context.Context, id uuid.UUID) ([]entity.FrameReading, error) {
	var rows []frameModel
	if err := s.db.WithContext(ctx).Where("task_id = ?", id.String()).Order("frame_index").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list frame readings: %w", err)
	}
	out := make([]entity.FrameReading, len(rows))
	for i, r := range rows {
		out[i] = entity.FrameReading{FrameIndex: r.FrameIndex, TimestampMs: r.TimestampMs, Text: r.Text, Confidence: r.Confidence}
	}
	return out, nil
}

func (s *Store) ListSegments(ctx context.Context, id uuid.UUID, query string) ([]entity.Segment, error) {
	q := s.db.WithContext(ctx).Where("task_id = ?", id.String())
	if query != "" {
		// sqlite LIKE is case-insensitive for ASCII only
		q = q.Where("LOWER(text) LIKE ? ESCAPE '\\'", "%"+escapeLike(strings.ToLower(query))+"%")
	}
	var rows []segmentModel
	if err := q.Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	out := make([]entity.Segment, len(rows))
	for i, r := range rows {
		out[i] = r.toEntity()
	}
	return out, nil
}

func (s *Store) FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&taskModel{}).
		Where("status = ? AND updated_at < ?", string(entity.TaskStatusProcessing), cutoff.UTC()).
		Updates(map[string]any{
			"status":        string(entity.TaskStatusFailed),
			"error_message": reason,
			"segment_count": 0,
			"updated_at":    now,
			"completed_at":  now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("fail stale tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func statusStrings(statuses []entity.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
