package usecase

import (
	"context"
	"errors"
	"image"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	"github.com/fiapx/fiapx-ocr-service/internal/domain/port"
	"github.com/google/uuid"
)

type memStore struct {
	mu       sync.Mutex
	tasks    map[uuid.UUID]entity.Task
	segments map[uuid.UUID][]entity.Segment
	raw      map[uuid.UUID][]entity.FrameReading
	history  map[uuid.UUID][]entity.TaskStatus

	failComplete  error
	failHeartbeat error
	heartbeats    int
	failSetStatus map[entity.TaskStatus]error
	failFind      error
}

func newMemStore() *memStore {
	return &memStore{
		tasks:         map[uuid.UUID]entity.Task{},
		segments:      map[uuid.UUID][]entity.Segment{},
		raw:           map[uuid.UUID][]entity.FrameReading{},
		history:       map[uuid.UUID][]entity.TaskStatus{},
		failSetStatus: map[entity.TaskStatus]error{},
	}
}

func (s *memStore) CreateTask(_ context.Context, id uuid.UUID, sourceName string) (*entity.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := entity.NewTask(id, sourceName)
	s.tasks[id] = *task
	s.history[id] = []entity.TaskStatus{task.Status}
	return task, nil
}

func (s *memStore) FindByID(_ context.Context, id uuid.UUID) (*entity.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFind != nil {
		return nil, s.failFind
	}
	task, ok := s.tasks[id]
	if !ok {
		return nil, entity.ErrTaskNotFound
	}
	return &task, nil
}

func (s *memStore) SetStatus(ctx context.Context, task *entity.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failSetStatus[task.Status]; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stored, ok := s.tasks[task.ID]
	if !ok {
		return entity.ErrTaskNotFound
	}
	if !stored.Status.CanTransition(task.Status) {
		return entity.ErrInvalidTransition
	}
	s.tasks[task.ID] = *task
	s.history[task.ID] = append(s.history[task.ID], task.Status)
	return nil
}

func (s *memStore) AppendSegments(_ context.Context, id uuid.UUID, segments []entity.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[id].Status != entity.TaskStatusProcessing {
		return entity.ErrInvalidTransition
	}
	s.segments[id] = append([]entity.Segment(nil), segments...)
	return nil
}

func (s *memStore) CompleteTask(ctx context.Context, task *entity.Task, segments []entity.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failComplete != nil {
		return s.failComplete
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stored, ok := s.tasks[task.ID]
	if !ok {
		return entity.ErrTaskNotFound
	}
	if stored.Status != entity.TaskStatusProcessing {
		return entity.ErrInvalidTransition
	}
	s.tasks[task.ID] = *task
	s.history[task.ID] = append(s.history[task.ID], task.Status)
	s.segments[task.ID] = append([]entity.Segment(nil), segments...)
	return nil
}

func (s *memStore) Heartbeat(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats++
	if s.failHeartbeat != nil {
		return s.failHeartbeat
	}
	if s.tasks[id].Status != entity.TaskStatusProcessing {
		return entity.ErrInvalidTransition
	}
	return nil
}

// failTask moves a task to failed the way the stale reaper does.
func (s *memStore) failTask(id uuid.UUID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[id]
	task.Status = entity.TaskStatusFailed
	task.ErrorMessage = reason
	s.tasks[id] = task
	s.history[id] = append(s.history[id], task.Status)
}

func (s *memStore) heartbeatCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeats
}

func (s *memStore) segmentsOf(id uuid.UUID) []entity.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segments[id]
}

func (s *memStore) AppendRawReading(_ context.Context, id uuid.UUID, r entity.FrameReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw[id] = append(s.raw[id], r)
	return nil
}

func (s *memStore) ListSegments(_ context.Context, id uuid.UUID, query string) ([]entity.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.Segment
	for _, seg := range s.segments[id] {
		if strings.Contains(strings.ToLower(seg.Text), strings.ToLower(query)) {
			out = append(out, seg)
		}
	}
	return out, nil
}

func (s *memStore) FailStale(_ context.Context, cutoff time.Time, reason string) (int64, error) {
	return 0, nil
}

func (s *memStore) status(id uuid.UUID) entity.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id].Status
}

// scriptStream plays back a list of per-frame token sets at 30 fps. Frames not
// listed in script have no text.
type scriptStream struct {
	count   int
	next    int
	failAt  int
	onFrame func(i int)
	onEOF   func()
}

func (s *scriptStream) FrameRate() float64 { return 30 }

func (s *scriptStream) Next(ctx context.Context) (port.Frame, error) {
	if s.failAt > 0 && s.next == s.failAt {
		return port.Frame{}, errors.New("invalid NAL unit")
	}
	if s.next >= s.count {
		if s.onEOF != nil {
			s.onEOF()
		}
		return port.Frame{}, io.EOF
	}
	i := s.next
	s.next++
	if s.onFrame != nil {
		s.onFrame(i)
	}
	return port.Frame{Index: i, TimestampMs: port.UnknownTimestamp, Image: image.NewRGBA(image.Rect(0, 0, 2, 2))}, nil
}

func (s *scriptStream) Close() error { return nil }

type fakeSource struct {
	stream  *scriptStream
	openErr error
	opened  []string
}

func (f *fakeSource) Open(_ context.Context, path string) (port.FrameStream, error) {
	f.opened = append(f.opened, path)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

// scriptRecognizer answers the n-th call with script[n], or no tokens.
type scriptRecognizer struct {
	calls  int
	script map[int][]entity.Token
	errs   map[int]error
}

func (r *scriptRecognizer) Recognize(context.Context, image.Image) ([]entity.Token, error) {
	n := r.calls
	r.calls++
	if err := r.errs[n]; err != nil {
		return nil, err
	}
	return r.script[n], nil
}

type fakeStorage struct {
	err  error
	keys []string
}

func (f *fakeStorage) DownloadVideo(_ context.Context, key, dest string) error {
	f.keys = append(f.keys, key)
	return f.err
}

type fakePublisher struct {
	msgs []entity.TaskStatusMessage
}

func (f *fakePublisher) PublishStatus(_ context.Context, msg entity.TaskStatusMessage) error {
	f.msgs = append(f.msgs, msg)
	return nil
}

type fakeDLQ struct {
	bodies  [][]byte
	reasons []string
}

func (f *fakeDLQ) PublishToDLQ(_ context.Context, body []byte, reason string) error {
	f.bodies = append(f.bodies, body)
	f.reasons = append(f.reasons, reason)
	return nil
}

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) NotifyFailure(_ context.Context, email, taskID, sourceName, errorMsg string) error {
	f.sent = append(f.sent, email+"|"+taskID)
	return nil
}

func tok(text string, conf float64) entity.Token {
	return entity.Token{Text: text, Confidence: conf}
}
