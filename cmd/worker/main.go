package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/port"
	"github.com/fiapx/fiapx-ocr-service/internal/infra/config"
	"github.com/fiapx/fiapx-ocr-service/internal/infra/ocrhttp"
	"github.com/fiapx/fiapx-ocr-service/internal/infra/tesseract"
	"github.com/fiapx/fiapx-ocr-service/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:           "worker",
	Short:         "Extracts on-screen text from videos",
	Long:          "fiapx OCR worker: samples video frames, recognizes their text and merges it into timed segments.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(serveCmd(), runCmd(), watchCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Stderr.WriteString("error: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewWithConfig(logger.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newRecognizer(cfg *config.Config, log *zap.Logger) port.TextRecognizer {
	if cfg.Recognizer == "http" {
		return ocrhttp.NewRecognizer(ocrhttp.Config{
			BaseURL:  cfg.OCRHTTPURL,
			Path:     cfg.OCRHTTPPath,
			APIKey:   cfg.OCRHTTPAPIKey,
			Language: cfg.TesseractLanguage,
			Format:   cfg.OCRHTTPFormat,
			Timeout:  cfg.OCRHTTPTimeout,
		}, log)
	}
	return tesseract.NewRecognizer(tesseract.Config{
		BinaryPath: cfg.TesseractPath,
		Language:   cfg.TesseractLanguage,
		PSM:        cfg.TesseractPSM,
	}, log)
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
