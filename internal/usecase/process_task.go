package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	"github.com/fiapx/fiapx-ocr-service/internal/domain/port"
	"github.com/fiapx/fiapx-ocr-service/internal/infra/metrics"
	"github.com/fiapx/fiapx-ocr-service/internal/ocr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	defaultStatusWriteTimeout = 10 * time.Second
	defaultHeartbeatInterval  = time.Minute
)

var errTaskReleased = errors.New("task left processing while running")

// ProcessResult is the outcome of one task run.
type ProcessResult struct {
	Task     *entity.Task
	Segments []entity.Segment
	Stats    ocr.SampleStats
}

// TaskProcessor drives one task through sampling, aggregation and persistence
// and owns its status transitions. It never retries.
type TaskProcessor struct {
	store              port.TaskStore
	source             port.FrameSource
	sampler            *ocr.Sampler
	params             ocr.Params
	logger             *zap.Logger
	statusWriteTimeout time.Duration
	heartbeatInterval  time.Duration
}

func NewTaskProcessor(
	store port.TaskStore,
	source port.FrameSource,
	recognizer port.TextRecognizer,
	params ocr.Params,
	logger *zap.Logger,
) *TaskProcessor {
	return &TaskProcessor{
		store:              store,
		source:             source,
		sampler:            ocr.NewSampler(recognizer, params, logger),
		params:             params,
		logger:             logger,
		statusWriteTimeout: defaultStatusWriteTimeout,
		heartbeatInterval:  defaultHeartbeatInterval,
	}
}

// Process runs the pipeline for taskID over the video at videoPath.
//
// Segments are persisted all-or-nothing: a failed or cancelled run marks the
// task failed and stores no segments. Store errors are returned as
// entity.ErrStoreFailure and leave the task status as it was.
func (p *TaskProcessor) Process(ctx context.Context, taskID uuid.UUID, videoPath string) (*ProcessResult, error) {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "TaskProcessor.Process")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", taskID.String()))

	log := p.logger.With(zap.String("task_id", taskID.String()))

	task, err := p.store.FindByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, entity.ErrTaskNotFound) {
			return nil, fmt.Errorf("load task: %w", err)
		}
		return nil, entity.NewProcessingError(entity.ErrStoreFailure, "load_task", "", err)
	}
	if task.IsTerminal() {
		return &ProcessResult{Task: task}, fmt.Errorf("%w: %s", entity.ErrTaskFinished, task.Status)
	}
	if task.Status == entity.TaskStatusProcessing {
		log.Warn("resuming task left in processing")
	}

	if err := task.MarkProcessing(); err != nil {
		return nil, err
	}
	if err := p.store.SetStatus(ctx, task); err != nil {
		return nil, entity.NewProcessingError(entity.ErrStoreFailure, "set_processing", "", err)
	}

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	stopHeartbeat := p.startHeartbeat(runCtx, cancelRun, task.ID, log)

	start := time.Now()
	segments, stats, runErr := p.run(runCtx, task, videoPath, log)
	stopHeartbeat()
	metrics.FramesSampledTotal.Add(float64(stats.FramesSampled))
	metrics.ReadingsEmittedTotal.Add(float64(stats.ReadingsEmitted))
	metrics.RecognitionFailuresTotal.Add(float64(stats.RecognitionFailures))
	metrics.TaskDuration.WithLabelValues("sample").Observe(time.Since(start).Seconds())

	result := &ProcessResult{Task: task, Stats: stats}
	if errors.Is(context.Cause(runCtx), errTaskReleased) {
		log.Warn("task was failed elsewhere while running, dropping results")
		return result, fmt.Errorf("%w: %w", entity.ErrTaskFinished, errTaskReleased)
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "pipeline failed")
		return result, p.fail(ctx, task, runErr, log)
	}

	persistStart := time.Now()
	done := *task
	if err := done.MarkCompleted(len(segments)); err != nil {
		return result, err
	}
	if err := p.store.CompleteTask(ctx, &done, segments); err != nil {
		if errors.Is(err, entity.ErrInvalidTransition) {
			log.Warn("task left processing before its segments were stored", zap.Error(err))
			return result, fmt.Errorf("%w: %w", entity.ErrTaskFinished, err)
		}
		if ctx.Err() != nil {
			return result, p.fail(ctx, task, ctx.Err(), log)
		}
		return result, entity.NewProcessingError(entity.ErrStoreFailure, "complete_task", "", err)
	}
	*task = done
	metrics.TaskDuration.WithLabelValues("persist").Observe(time.Since(persistStart).Seconds())
	metrics.SegmentsTotal.Add(float64(len(segments)))
	metrics.TasksProcessedTotal.WithLabelValues(string(entity.TaskStatusCompleted)).Inc()

	result.Segments = segments
	log.Info("task completed",
		zap.Int("frames_decoded", stats.FramesDecoded),
		zap.Int("frames_sampled", stats.FramesSampled),
		zap.Int("readings", stats.ReadingsEmitted),
		zap.Int("recognition_failures", stats.RecognitionFailures),
		zap.Int("segments", len(segments)),
	)
	return result, nil
}

func (p *TaskProcessor) run(
	ctx context.Context,
	task *entity.Task,
	videoPath string,
	log *zap.Logger,
) ([]entity.Segment, ocr.SampleStats, error) {
	stream, err := p.source.Open(ctx, videoPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ocr.SampleStats{}, ctx.Err()
		}
		if !errors.Is(err, entity.ErrSourceUnavailable) {
			err = entity.NewProcessingError(entity.ErrSourceUnavailable, "open", videoPath, err)
		}
		return nil, ocr.SampleStats{}, err
	}
	defer stream.Close()

	agg := ocr.NewAggregator(p.params.SimilarityThreshold)
	stats, err := p.sampler.Sample(ctx, stream, func(r entity.FrameReading) error {
		if err := p.store.AppendRawReading(ctx, task.ID, r); err != nil {
			log.Warn("failed to store raw reading", zap.Int("frame_index", r.FrameIndex), zap.Error(err))
		}
		agg.Add(r)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return agg.Flush(), stats, nil
}

// startHeartbeat keeps the task's updated_at fresh while it runs. When the
// store reports the task is no longer processing, the run is cancelled with
// errTaskReleased. The returned func stops the heartbeat and waits for it.
func (p *TaskProcessor) startHeartbeat(
	ctx context.Context,
	cancel context.CancelCauseFunc,
	id uuid.UUID,
	log *zap.Logger,
) func() {
	if p.heartbeatInterval <= 0 {
		return func() {}
	}
	stop := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(p.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := p.store.Heartbeat(ctx, id)
				switch {
				case err == nil:
				case errors.Is(err, entity.ErrInvalidTransition), errors.Is(err, entity.ErrTaskNotFound):
					cancel(errTaskReleased)
					return
				default:
					log.Warn("task heartbeat failed", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		close(stop)
		<-exited
	}
}

// Fail marks task failed because of cause and returns cause. The status write
// does not depend on ctx still being live.
func (p *TaskProcessor) Fail(ctx context.Context, task *entity.Task, cause error) error {
	return p.fail(ctx, task, cause, p.logger.With(zap.String("task_id", task.ID.String())))
}

func (p *TaskProcessor) fail(ctx context.Context, task *entity.Task, cause error, log *zap.Logger) error {
	if err := task.MarkFailed(cause.Error()); err != nil {
		return errors.Join(cause, err)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.statusWriteTimeout)
	defer cancel()
	if err := p.store.SetStatus(writeCtx, task); err != nil {
		log.Error("failed to persist failed status", zap.Error(err))
		return errors.Join(cause, entity.NewProcessingError(entity.ErrStoreFailure, "set_failed", "", err))
	}

	metrics.TasksProcessedTotal.WithLabelValues(string(entity.TaskStatusFailed)).Inc()
	log.Warn("task failed", zap.Error(cause))
	return cause
}
