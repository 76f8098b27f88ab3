package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	"github.com/fiapx/fiapx-ocr-service/internal/domain/port"
	"github.com/fiapx/fiapx-ocr-service/internal/infra/metrics"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ProcessTaskUseCase handles one ocr.processing delivery: it resolves the task,
// fetches the video and hands it to the TaskProcessor. Returning an error asks
// the consumer to requeue the delivery.
type ProcessTaskUseCase struct {
	store     port.TaskStore
	storage   port.VideoStorage
	processor *TaskProcessor
	publisher port.StatusPublisher
	dlq       port.DLQPublisher
	notifier  port.FailureNotifier
	inflight  *cache.Cache
	logger    *zap.Logger
	tempDir   string
}

type ProcessTaskConfig struct {
	TempDir string
	// InFlightTTL bounds how long a task id blocks duplicate deliveries in this process.
	InFlightTTL time.Duration
}

func NewProcessTaskUseCase(
	store port.TaskStore,
	storage port.VideoStorage,
	processor *TaskProcessor,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg ProcessTaskConfig,
) *ProcessTaskUseCase {
	ttl := cfg.InFlightTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ProcessTaskUseCase{
		store:     store,
		storage:   storage,
		processor: processor,
		publisher: publisher,
		dlq:       dlq,
		notifier:  notifier,
		inflight:  cache.New(ttl, ttl/2),
		logger:    logger,
		tempDir:   cfg.TempDir,
	}
}

func (uc *ProcessTaskUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ProcessTaskUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.TaskProcessingMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}
	if msg.TaskID == uuid.Nil || msg.VideoKey == "" {
		uc.logger.Error("message is missing task_id or video_key", zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "invalid_message: task_id and video_key are required")
		return nil
	}
	if msg.SourceName == "" {
		msg.SourceName = path.Base(msg.VideoKey)
	}

	span.SetAttributes(
		attribute.String("task.id", msg.TaskID.String()),
		attribute.String("task.video_key", msg.VideoKey),
	)

	log := uc.logger.With(zap.String("task_id", msg.TaskID.String()), zap.String("video_key", msg.VideoKey))

	key := msg.TaskID.String()
	if err := uc.inflight.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
		log.Warn("task already in flight in this worker, skipping delivery")
		return nil
	}
	defer uc.inflight.Delete(key)

	task, err := uc.store.FindByID(ctx, msg.TaskID)
	if errors.Is(err, entity.ErrTaskNotFound) {
		task, err = uc.store.CreateTask(ctx, msg.TaskID, msg.SourceName)
		if err != nil {
			log.Error("failed to create task record", zap.Error(err))
			return fmt.Errorf("create task: %w", err)
		}
	} else if err != nil {
		log.Error("failed to load task record", zap.Error(err))
		return fmt.Errorf("find task: %w", err)
	}

	if task.IsTerminal() {
		log.Info("task already finished, acknowledging", zap.String("status", string(task.Status)))
		return nil
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := uc.processTask(ctx, task, msg, rawMsg, log); err != nil {
		return err
	}

	metrics.TaskDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())
	return nil
}

func (uc *ProcessTaskUseCase) processTask(
	ctx context.Context,
	task *entity.Task,
	msg entity.TaskProcessingMessage,
	rawMsg []byte,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.tempDir, task.ID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	dlStart := time.Now()
	ctxDl, spanDl := tracer.Start(ctx, "download_video")
	videoPath := filepath.Join(workDir, "input"+path.Ext(msg.VideoKey))
	err := uc.storage.DownloadVideo(ctxDl, msg.VideoKey, videoPath)
	spanDl.End()
	if err != nil {
		log.Error("failed to download video", zap.Error(err))
		if errors.Is(err, entity.ErrSourceUnavailable) {
			cause := entity.NewProcessingError(entity.ErrSourceUnavailable, "download", msg.VideoKey, err)
			failErr := uc.processor.Fail(ctx, task, cause)
			if errors.Is(failErr, entity.ErrStoreFailure) {
				return uc.retry(failErr, log)
			}
			return uc.handlePermanentFailure(ctx, task, msg, rawMsg, 0)
		}
		return uc.retry(fmt.Errorf("download_video: %w", err), log)
	}
	metrics.TaskDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

	result, err := uc.processor.Process(ctx, task.ID, videoPath)
	switch {
	case err == nil:
		uc.publishStatus(ctx, result.Task, msg, result.Stats.ReadingsEmitted, log)
		return nil
	case errors.Is(err, entity.ErrTaskFinished):
		log.Info("task finished by another worker")
		return nil
	case errors.Is(err, entity.ErrStoreFailure):
		return uc.retry(err, log)
	case result == nil:
		return fmt.Errorf("process task: %w", err)
	case ctx.Err() != nil:
		log.Warn("task cancelled", zap.Error(err))
		uc.publishStatus(context.WithoutCancel(ctx), result.Task, msg, 0, log)
		return nil
	default:
		return uc.handlePermanentFailure(ctx, result.Task, msg, rawMsg, result.Stats.ReadingsEmitted)
	}
}

func (uc *ProcessTaskUseCase) retry(err error, log *zap.Logger) error {
	log.Warn("retryable failure, delivery will be requeued", zap.Error(err))
	return fmt.Errorf("retryable failure: %w", err)
}

func (uc *ProcessTaskUseCase) handlePermanentFailure(
	ctx context.Context,
	task *entity.Task,
	msg entity.TaskProcessingMessage,
	rawMsg []byte,
	readings int,
) error {
	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, task.ErrorMessage)

	uc.publishStatus(ctx, task, msg, readings, uc.logger)

	if msg.NotifyEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, msg.NotifyEmail, task.ID.String(), task.SourceName, task.ErrorMessage)
	}

	return nil
}

func (uc *ProcessTaskUseCase) publishStatus(
	ctx context.Context,
	task *entity.Task,
	msg entity.TaskProcessingMessage,
	readings int,
	log *zap.Logger,
) {
	statusMsg := entity.TaskStatusMessage{
		TaskID:       task.ID,
		SourceName:   task.SourceName,
		Status:       task.Status,
		VideoKey:     msg.VideoKey,
		SegmentCount: task.SegmentCount,
		ReadingCount: readings,
		ErrorMessage: task.ErrorMessage,
	}
	if err := uc.publisher.PublishStatus(ctx, statusMsg); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}
