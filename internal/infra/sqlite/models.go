package sqlite

import (
	"time"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	"github.com/google/uuid"
)

type taskModel struct {
	ID           string `gorm:"primaryKey;size:36"`
	SourceName   string `gorm:"not null"`
	Status       string `gorm:"index:idx_tasks_status_updated;not null"`
	ErrorMessage string
	SegmentCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time `gorm:"index:idx_tasks_status_updated;autoUpdateTime:false"`
	CompletedAt  *time.Time
}

func (taskModel) TableName() string { return "ocr_tasks" }

type frameModel struct {
	TaskID      string `gorm:"primaryKey;size:36"`
	FrameIndex  int    `gorm:"primaryKey;autoIncrement:false"`
	TimestampMs int64
	Text        string
	Confidence  float64
}

func (frameModel) TableName() string { return "ocr_frames" }

type segmentModel struct {
	TaskID       string `gorm:"primaryKey;size:36"`
	Position     int    `gorm:"primaryKey;autoIncrement:false"`
	StartMs      int64
	EndMs        int64
	Text         string
	Confidence   float64
	ReadingCount int
}

func (segmentModel) TableName() string { return "ocr_segments" }

func toTaskModel(t *entity.Task) taskModel {
	return taskModel{
		ID:           t.ID.String(),
		SourceName:   t.SourceName,
		Status:       string(t.Status),
		ErrorMessage: t.ErrorMessage,
		SegmentCount: t.SegmentCount,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		CompletedAt:  t.CompletedAt,
	}
}

func (m taskModel) toEntity() (*entity.Task, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	status, err := entity.ParseTaskStatus(m.Status)
	if err != nil {
		return nil, err
	}
	return &entity.Task{
		ID:           id,
		SourceName:   m.SourceName,
		Status:       status,
		ErrorMessage: m.ErrorMessage,
		SegmentCount: m.SegmentCount,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		CompletedAt:  m.CompletedAt,
	}, nil
}

func (m segmentModel) toEntity() entity.Segment {
	return entity.Segment{
		StartMs:      m.StartMs,
		EndMs:        m.EndMs,
		Text:         m.Text,
		Confidence:   m.Confidence,
		ReadingCount: m.ReadingCount,
	}
}
