package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	"github.com/fiapx/fiapx-ocr-service/internal/infra/ffmpeg"
	"github.com/fiapx/fiapx-ocr-service/internal/infra/sqlite"
	"github.com/fiapx/fiapx-ocr-service/internal/infra/watcher"
	"github.com/fiapx/fiapx-ocr-service/internal/usecase"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func watchCmd() *cobra.Command {
	var (
		dbPath    string
		outputDir string
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Process every video dropped into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchDir(cmd.Context(), args[0], dbPath, outputDir)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite database path (default $SQLITE_PATH)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "write <video>.segments.json here (default: next to the video)")
	return cmd
}

func watchDir(ctx context.Context, dir, dbPath, outputDir string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	if dbPath == "" {
		dbPath = cfg.SQLitePath
	}
	if outputDir == "" {
		outputDir = dir
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	store, err := sqlite.Open(dbPath, log)
	if err != nil {
		return err
	}
	defer store.Close()

	processor := usecase.NewTaskProcessor(
		store,
		ffmpeg.NewSource(cfg.FFmpegPath, cfg.FFprobePath, log),
		newRecognizer(cfg, log),
		cfg.OCRParams(),
		log,
	)

	handle := func(ctx context.Context, path string) error {
		task, err := store.CreateTask(ctx, uuid.New(), filepath.Base(path))
		if err != nil {
			return err
		}
		result, err := processor.Process(ctx, task.ID, path)
		if err != nil {
			return fmt.Errorf("task %s: %w", task.ID, err)
		}
		dest := filepath.Join(outputDir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+".segments.json")
		if err := writeSegments(dest, result.Task, result.Segments); err != nil {
			return err
		}
		log.Info("transcript written", zap.String("task_id", task.ID.String()), zap.String("path", dest))
		return nil
	}

	w := watcher.New(watcher.Config{
		Dir:          dir,
		Extensions:   cfg.WatchExtensions,
		Concurrency:  cfg.WatchConcurrency,
		SettleDelay:  cfg.WatchSettleDelay,
		ProcessedDir: cfg.WatchProcessedDir,
	}, handle, log)
	return w.Run(ctx)
}

func writeSegments(path string, task *entity.Task, segments []entity.Segment) error {
	if segments == nil {
		segments = []entity.Segment{}
	}
	data, err := json.MarshalIndent(runOutput{Task: task, Segments: segments}, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return os.Rename(tmp, path)
}
