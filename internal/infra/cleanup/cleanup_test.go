package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staleStore struct {
	cutoff  time.Time
	reason  string
	n       int64
	err     error
	tasks   map[uuid.UUID]entity.TaskStatus
	findErr error
}

func (s *staleStore) CreateTask(context.Context, uuid.UUID, string) (*entity.Task, error) {
	return nil, nil
}
func (s *staleStore) FindByID(_ context.Context, id uuid.UUID) (*entity.Task, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	status, ok := s.tasks[id]
	if !ok {
		return nil, entity.ErrTaskNotFound
	}
	return &entity.Task{ID: id, Status: status}, nil
}
func (s *staleStore) SetStatus(context.Context, *entity.Task) error { return nil }
func (s *staleStore) CompleteTask(context.Context, *entity.Task, []entity.Segment) error {
	return nil
}
func (s *staleStore) Heartbeat(context.Context, uuid.UUID) error { return nil }
func (s *staleStore) AppendSegments(context.Context, uuid.UUID, []entity.Segment) error {
	return nil
}
func (s *staleStore) AppendRawReading(context.Context, uuid.UUID, entity.FrameReading) error {
	return nil
}
func (s *staleStore) ListSegments(context.Context, uuid.UUID, string) ([]entity.Segment, error) {
	return nil, nil
}
func (s *staleStore) FailStale(_ context.Context, cutoff time.Time, reason string) (int64, error) {
	s.cutoff, s.reason = cutoff, reason
	return s.n, s.err
}

func TestRunOnceFailsStaleTasks(t *testing.T) {
	store := &staleStore{n: 2}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j := NewJanitor(store, Config{StaleAfter: time.Hour}, zap.NewNop())
	j.now = func() time.Time { return now }

	report, err := j.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), report.StaleTasksFailed)
	assert.Equal(t, now.Add(-time.Hour), store.cutoff)
	assert.Equal(t, staleReason, store.reason)
}

func TestRunOncePrunesOldTempDirs(t *testing.T) {
	dir := t.TempDir()
	oldDir := filepath.Join(dir, uuid.NewString())
	newDir := filepath.Join(dir, uuid.NewString())
	require.NoError(t, os.MkdirAll(oldDir, 0o755))
	require.NoError(t, os.MkdirAll(newDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "input.mp4"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0o644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldDir, old, old))

	j := NewJanitor(&staleStore{}, Config{TempDir: dir, TempMaxAge: 6 * time.Hour}, zap.NewNop())
	report, err := j.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.TempDirsRemoved)
	assert.NoDirExists(t, oldDir)
	assert.DirExists(t, newDir)
	assert.FileExists(t, filepath.Join(dir, "stray.txt"))
}

func TestRunOnceKeepsWorkDirsOfActiveTasks(t *testing.T) {
	dir := t.TempDir()
	running, finished, unknown := uuid.New(), uuid.New(), uuid.New()
	store := &staleStore{tasks: map[uuid.UUID]entity.TaskStatus{
		running:  entity.TaskStatusProcessing,
		finished: entity.TaskStatusFailed,
	}}
	old := time.Now().Add(-48 * time.Hour)
	for _, id := range []uuid.UUID{running, finished, unknown} {
		p := filepath.Join(dir, id.String())
		require.NoError(t, os.MkdirAll(p, 0o755))
		require.NoError(t, os.Chtimes(p, old, old))
	}

	j := NewJanitor(store, Config{TempDir: dir, TempMaxAge: 6 * time.Hour}, zap.NewNop())
	report, err := j.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.TempDirsRemoved)
	assert.DirExists(t, filepath.Join(dir, running.String()))
	assert.NoDirExists(t, filepath.Join(dir, finished.String()))
	assert.NoDirExists(t, filepath.Join(dir, unknown.String()))

	store.findErr = errors.New("connection refused")
	store.tasks = nil
	report, err = j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.TempDirsRemoved)
	assert.DirExists(t, filepath.Join(dir, running.String()))
}

func TestRunOnceMissingTempDir(t *testing.T) {
	j := NewJanitor(&staleStore{}, Config{TempDir: filepath.Join(t.TempDir(), "nope"), TempMaxAge: time.Hour}, zap.NewNop())
	report, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.TempDirsRemoved)
}

func TestRunOnceReportsStoreError(t *testing.T) {
	j := NewJanitor(&staleStore{err: errors.New("db down")}, Config{StaleAfter: time.Hour}, zap.NewNop())
	_, err := j.RunOnce(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestStartRejectsBadSchedule(t *testing.T) {
	j := NewJanitor(&staleStore{}, Config{Schedule: "every tuesday"}, zap.NewNop())
	assert.Error(t, j.Start())
}

func TestStartAndStop(t *testing.T) {
	j := NewJanitor(&staleStore{}, Config{Schedule: "@every 1h"}, zap.NewNop())
	require.NoError(t, j.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	j.Stop(ctx)
	assert.NoError(t, ctx.Err())
}
