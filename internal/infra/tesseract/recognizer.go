package tesseract

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	"go.uber.org/zap"
)

type runner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if cannotStart(err) {
			return nil, fmt.Errorf("%w: %s: %v", entity.ErrRecognizerUnavailable, name, err)
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// cannotStart reports whether err means the binary could not be executed at
// all: not on PATH, missing at an absolute path, or not executable.
func cannotStart(err error) bool {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false
	}
	return errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission)
}

type Config struct {
	BinaryPath string
	Language   string
	PSM        int
}

// Recognizer runs the tesseract CLI on each image and parses its TSV output.
type Recognizer struct {
	cfg    Config
	runner runner
	logger *zap.Logger
}

func NewRecognizer(cfg Config, logger *zap.Logger) *Recognizer {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.PSM == 0 {
		cfg.PSM = 6
	}
	return &Recognizer{cfg: cfg, runner: execRunner{}, logger: logger}
}

// Recognize returns the words tesseract found in img, in reading order.
func (r *Recognizer) Recognize(ctx context.Context, img image.Image) ([]entity.Token, error) {
	var png bytes.Buffer
	if err := imaging.Encode(&png, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	out, err := r.runner.Run(ctx, png.Bytes(), r.cfg.BinaryPath,
		"stdin", "stdout",
		"-l", r.cfg.Language,
		"--psm", strconv.Itoa(r.cfg.PSM),
		"tsv",
	)
	if err != nil {
		return nil, err
	}
	return ParseTSV(out)
}

// ParseTSV extracts word-level tokens from tesseract's TSV output. Rows without a
// confidence (conf -1) are layout rows and are skipped. Confidences are truncated
// to whole numbers.
func ParseTSV(out []byte) ([]entity.Token, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64<<10), 1<<20)

	var (
		tokens  []entity.Token
		confCol = -1
		textCol = -1
	)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if confCol < 0 {
			for i, name := range fields {
				switch name {
				case "conf":
					confCol = i
				case "text":
					textCol = i
				}
			}
			if confCol < 0 || textCol < 0 {
				return nil, fmt.Errorf("tsv header missing conf or text column: %q", line)
			}
			continue
		}
		if len(fields) <= confCol {
			continue
		}

		conf, err := strconv.ParseFloat(strings.TrimSpace(fields[confCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("parse confidence %q: %w", fields[confCol], err)
		}
		if conf < 0 {
			continue
		}
		text := ""
		if len(fields) > textCol {
			text = fields[textCol]
		}
		tokens = append(tokens, entity.Token{Text: text, Confidence: math.Trunc(conf)})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read tsv: %w", err)
	}
	return tokens, nil
}
