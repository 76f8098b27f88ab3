package entity

import "github.com/google/uuid"

// TaskProcessingMessage is the inbound message from the ocr.processing queue.
type TaskProcessingMessage struct {
	TaskID      uuid.UUID `json:"task_id"`
	SourceName  string    `json:"source_name"`
	VideoKey    string    `json:"video_key"`
	NotifyEmail string    `json:"notify_email,omitempty"`
}

// TaskStatusMessage is the outbound message published to the ocr.status queue.
type TaskStatusMessage struct {
	TaskID       uuid.UUID  `json:"task_id"`
	SourceName   string     `json:"source_name"`
	Status       TaskStatus `json:"status"`
	VideoKey     string     `json:"video_key"`
	SegmentCount int        `json:"segment_count"`
	ReadingCount int        `json:"reading_count,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}
