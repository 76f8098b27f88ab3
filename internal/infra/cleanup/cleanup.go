package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	"github.com/fiapx/fiapx-ocr-service/internal/domain/port"
	"github.com/fiapx/fiapx-ocr-service/internal/infra/metrics"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const staleReason = "task abandoned: no progress before the stale deadline"

type Config struct {
	Schedule   string
	TempDir    string
	StaleAfter time.Duration
	TempMaxAge time.Duration
	// RunTimeout bounds one maintenance pass.
	RunTimeout time.Duration
}

type Report struct {
	StaleTasksFailed int64
	TempDirsRemoved  int
}

// Janitor periodically fails tasks stuck in processing and removes abandoned
// per-task work directories left by crashed workers.
type Janitor struct {
	store  port.TaskStore
	cfg    Config
	logger *zap.Logger
	cron   *cron.Cron
	now    func() time.Time
}

func NewJanitor(store port.TaskStore, cfg Config, logger *zap.Logger) *Janitor {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = time.Minute
	}
	return &Janitor{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start schedules RunOnce on cfg.Schedule, which accepts standard cron
// expressions and descriptors such as "@every 10m".
func (j *Janitor) Start() error {
	j.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := j.cron.AddFunc(j.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.cfg.RunTimeout)
		defer cancel()
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.Warn("maintenance pass failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule maintenance %q: %w", j.cfg.Schedule, err)
	}
	j.cron.Start()
	j.logger.Info("maintenance scheduled", zap.String("schedule", j.cfg.Schedule))
	return nil
}

// Stop halts the schedule and waits for a running pass to finish or ctx to end.
func (j *Janitor) Stop(ctx context.Context) {
	if j.cron == nil {
		return
	}
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (j *Janitor) RunOnce(ctx context.Context) (Report, error) {
	var (
		report Report
		errs   []error
	)

	if j.cfg.StaleAfter > 0 {
		n, err := j.store.FailStale(ctx, j.now().Add(-j.cfg.StaleAfter), staleReason)
		if err != nil {
			errs = append(errs, err)
		} else {
			report.StaleTasksFailed = n
			metrics.StaleTasksFailedTotal.Add(float64(n))
		}
	}

	if j.cfg.TempDir != "" && j.cfg.TempMaxAge > 0 {
		n, err := j.pruneTempDirs(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		report.TempDirsRemoved = n
	}

	if report.StaleTasksFailed > 0 || report.TempDirsRemoved > 0 {
		j.logger.Info("maintenance pass finished",
			zap.Int64("stale_tasks_failed", report.StaleTasksFailed),
			zap.Int("temp_dirs_removed", report.TempDirsRemoved),
		)
	}
	return report, errors.Join(errs...)
}

// pruneTempDirs removes work directories older than TempMaxAge. A directory
// named after a task that is still pending or processing is kept whatever its
// age; it goes once the task is finished or reaped.
func (j *Janitor) pruneTempDirs(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(j.cfg.TempDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read temp dir: %w", err)
	}

	cutoff := j.now().Add(-j.cfg.TempMaxAge)
	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if j.taskActive(ctx, e.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(j.cfg.TempDir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func (j *Janitor) taskActive(ctx context.Context, name string) bool {
	id, err := uuid.Parse(name)
	if err != nil {
		return false
	}
	task, err := j.store.FindByID(ctx, id)
	if errors.Is(err, entity.ErrTaskNotFound) {
		return false
	}
	if err != nil {
		j.logger.Warn("keeping work dir, task lookup failed", zap.String("dir", name), zap.Error(err))
		return true
	}
	return !task.IsTerminal()
}
