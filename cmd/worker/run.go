package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	"github.com/fiapx/fiapx-ocr-service/internal/infra/ffmpeg"
	"github.com/fiapx/fiapx-ocr-service/internal/infra/sqlite"
	"github.com/fiapx/fiapx-ocr-service/internal/usecase"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type runOutput struct {
	Task     *entity.Task     `json:"task"`
	Query    string           `json:"query,omitempty"`
	Segments []entity.Segment `json:"segments"`
}

func runCmd() *cobra.Command {
	var (
		dbPath string
		query  string
	)
	cmd := &cobra.Command{
		Use:   "run <video>",
		Short: "Process one local video file and print its text segments as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocal(cmd.Context(), args[0], dbPath, query, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite database path (default $SQLITE_PATH)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "only print segments containing this text (case-insensitive)")
	return cmd
}

func runLocal(ctx context.Context, videoPath, dbPath, query string, out io.Writer) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	if _, err := os.Stat(videoPath); err != nil {
		return fmt.Errorf("video: %w", err)
	}
	if dbPath == "" {
		dbPath = cfg.SQLitePath
	}

	store, err := sqlite.Open(dbPath, log)
	if err != nil {
		return err
	}
	defer store.Close()

	task, err := store.CreateTask(ctx, uuid.New(), filepath.Base(videoPath))
	if err != nil {
		return err
	}

	processor := usecase.NewTaskProcessor(
		store,
		ffmpeg.NewSource(cfg.FFmpegPath, cfg.FFprobePath, log),
		newRecognizer(cfg, log),
		cfg.OCRParams(),
		log,
	)
	result, err := processor.Process(ctx, task.ID, videoPath)
	if err != nil {
		return fmt.Errorf("task %s: %w", task.ID, err)
	}

	segments := result.Segments
	if query != "" {
		segments, err = store.ListSegments(ctx, task.ID, query)
		if err != nil {
			return err
		}
	}
	if segments == nil {
		segments = []entity.Segment{}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(runOutput{Task: result.Task, Query: query, Segments: segments})
}
