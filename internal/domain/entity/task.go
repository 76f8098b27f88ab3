package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// taskTransitions lists the allowed edges of the task state machine.
// Terminal states have no outgoing edges.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusProcessing, TaskStatusFailed},
	TaskStatusProcessing: {TaskStatusCompleted, TaskStatusFailed},
	TaskStatusCompleted:  nil,
	TaskStatusFailed:     nil,
}

// ParseTaskStatus converts a stored status string back into the closed enum.
func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(s)
	if _, ok := taskTransitions[st]; !ok {
		return "", fmt.Errorf("unknown task status %q", s)
	}
	return st, nil
}

// CanTransition reports whether a task may move from s to next.
// Re-applying the current status is allowed and is a no-op.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s == next {
		_, known := taskTransitions[s]
		return known
	}
	for _, to := range taskTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Predecessors returns every status from which s is reachable in one step,
// including s itself.
func (s TaskStatus) Predecessors() []TaskStatus {
	out := []TaskStatus{s}
	for from, tos := range taskTransitions {
		for _, to := range tos {
			if to == s {
				out = append(out, from)
			}
		}
	}
	return out
}

func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task is one video-processing job.
type Task struct {
	ID           uuid.UUID  `json:"id"`
	SourceName   string     `json:"source_name"`
	Status       TaskStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	SegmentCount int        `json:"segment_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func NewTask(id uuid.UUID, sourceName string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:         id,
		SourceName: sourceName,
		Status:     TaskStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// TransitionTo moves the task to next, enforcing the transition table.
func (t *Task) TransitionTo(next TaskStatus) error {
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	now := time.Now().UTC()
	t.Status = next
	t.UpdatedAt = now
	if next.IsTerminal() {
		t.CompletedAt = &now
	}
	return nil
}

func (t *Task) MarkProcessing() error {
	return t.TransitionTo(TaskStatusProcessing)
}

func (t *Task) MarkCompleted(segmentCount int) error {
	if err := t.TransitionTo(TaskStatusCompleted); err != nil {
		return err
	}
	t.SegmentCount = segmentCount
	t.ErrorMessage = ""
	return nil
}

func (t *Task) MarkFailed(errMsg string) error {
	if err := t.TransitionTo(TaskStatusFailed); err != nil {
		return err
	}
	t.ErrorMessage = errMsg
	t.SegmentCount = 0
	return nil
}

func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}
