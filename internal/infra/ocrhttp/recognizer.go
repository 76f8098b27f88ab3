package ocrhttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	"go.uber.org/zap"
	"golang.org/x/image/bmp"
	"resty.dev/v3"
)

type Config struct {
	BaseURL  string
	Path     string
	APIKey   string
	Language string
	// Format is the upload encoding, "png" or "bmp".
	Format  string
	Timeout time.Duration
}

type wordResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type recognizeResponse struct {
	Words []wordResponse `json:"words"`
}

// Recognizer sends frames to a remote OCR service. The service answers with
// {"words":[{"text":"...","confidence":87.5}]} in reading order.
type Recognizer struct {
	cfg    Config
	client *resty.Client
	logger *zap.Logger
}

func NewRecognizer(cfg Config, logger *zap.Logger) *Recognizer {
	if cfg.Path == "" {
		cfg.Path = "/v1/recognize"
	}
	if cfg.Format == "" {
		cfg.Format = "png"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.Timeout)
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &Recognizer{cfg: cfg, client: client, logger: logger}
}

func (r *Recognizer) Close() error {
	return r.client.Close()
}

func (r *Recognizer) Recognize(ctx context.Context, img image.Image) ([]entity.Token, error) {
	body, contentType, err := r.encode(img)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	var result recognizeResponse
	req := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(body).
		SetResult(&result)
	if r.cfg.Language != "" {
		req.SetQueryParam("lang", r.cfg.Language)
	}

	resp, err := req.Post(r.cfg.Path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if unreachable(err) {
			return nil, fmt.Errorf("%w: ocr service request: %v", entity.ErrRecognizerUnavailable, err)
		}
		return nil, fmt.Errorf("ocr service request: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusServiceUnavailable,
		resp.StatusCode() == http.StatusUnauthorized,
		resp.StatusCode() == http.StatusForbidden,
		resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: ocr service status %d: %s",
			entity.ErrRecognizerUnavailable, resp.StatusCode(), resp.String())
	case resp.StatusCode() != http.StatusOK:
		return nil, fmt.Errorf("ocr service status %d: %s", resp.StatusCode(), resp.String())
	}

	tokens := make([]entity.Token, 0, len(result.Words))
	for _, w := range result.Words {
		tokens = append(tokens, entity.Token{Text: w.Text, Confidence: w.Confidence})
	}
	return tokens, nil
}

// unreachable reports whether a transport error means the service cannot be
// reached at all. Timeouts and broken connections only fail the current frame.
func unreachable(err error) bool {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

func (r *Recognizer) encode(img image.Image) ([]byte, string, error) {
	var buf bytes.Buffer
	switch r.cfg.Format {
	case "bmp":
		if err := bmp.Encode(&buf, img); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/bmp", nil
	case "png":
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	default:
		return nil, "", fmt.Errorf("unsupported upload format %q", r.cfg.Format)
	}
}
