package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	"github.com/fiapx/fiapx-ocr-service/internal/domain/port"
	"go.uber.org/zap"
)

const maxStderr = 8 << 10

// Source decodes video files into raw RGB frames by piping ffmpeg's rawvideo output.
type Source struct {
	ffmpegPath  string
	ffprobePath string
	runner      runner
	logger      *zap.Logger
}

func NewSource(ffmpegPath, ffprobePath string, logger *zap.Logger) *Source {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Source{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      execRunner{},
		logger:      logger,
	}
}

func (s *Source) Open(ctx context.Context, videoPath string) (port.FrameStream, error) {
	info, err := probe(ctx, s.runner, s.ffprobePath, videoPath)
	if err != nil {
		return nil, entity.NewProcessingError(entity.ErrSourceUnavailable, "probe", videoPath, err)
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, s.ffmpegPath,
		"-v", "error",
		"-nostdin",
		"-i", videoPath,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)
	stderr := &limitedBuffer{limit: maxStderr}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, entity.NewProcessingError(entity.ErrSourceUnavailable, "decode", videoPath, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, entity.NewProcessingError(entity.ErrSourceUnavailable, "decode", videoPath, err)
	}

	s.logger.Debug("decoding video",
		zap.String("path", videoPath),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
		zap.Float64("fps", info.FrameRate),
	)

	return newStream(stdout, info, func() error {
		err := cmd.Wait()
		if err != nil && stderr.Len() > 0 {
			return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return err
	}, cancel), nil
}

// stream reads fixed-size rgb24 frames from r. The frame buffer is reused, so a
// returned image is only valid until the next call to Next.
type stream struct {
	r      io.Reader
	info   videoInfo
	buf    []byte
	index  int
	wait   func() error
	cancel context.CancelFunc

	closeOnce sync.Once
	waitErr   error
	done      bool
}

func newStream(r io.Reader, info videoInfo, wait func() error, cancel context.CancelFunc) *stream {
	return &stream{
		r:      r,
		info:   info,
		buf:    make([]byte, info.Width*info.Height*3),
		wait:   wait,
		cancel: cancel,
	}
}

func (s *stream) FrameRate() float64 { return s.info.FrameRate }

func (s *stream) Next(ctx context.Context) (port.Frame, error) {
	if s.done {
		return port.Frame{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return port.Frame{}, err
	}

	_, err := io.ReadFull(s.r, s.buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		s.done = true
		if werr := s.finish(); werr != nil {
			return port.Frame{}, fmt.Errorf("ffmpeg exited after %d frames: %w", s.index, werr)
		}
		return port.Frame{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
		werr := s.finish()
		return port.Frame{}, errors.Join(fmt.Errorf("truncated frame %d", s.index), werr)
	default:
		return port.Frame{}, fmt.Errorf("read frame %d: %w", s.index, err)
	}

	frame := port.Frame{
		Index:       s.index,
		TimestampMs: port.UnknownTimestamp,
		Image:       &rgbImage{pix: s.buf, w: s.info.Width, h: s.info.Height},
	}
	s.index++
	return frame, nil
}

func (s *stream) finish() error {
	s.closeOnce.Do(func() {
		if s.wait != nil {
			s.waitErr = s.wait()
		}
		if s.cancel != nil {
			s.cancel()
		}
	})
	return s.waitErr
}

// Close stops the decoder. Exit errors caused by the kill are not reported.
func (s *stream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.done = true
	_ = s.finish()
	return nil
}

// rgbImage is a read-only view over packed rgb24 pixels.
type rgbImage struct {
	pix  []byte
	w, h int
}

func (m *rgbImage) ColorModel() color.Model { return color.RGBAModel }

func (m *rgbImage) Bounds() image.Rectangle { return image.Rect(0, 0, m.w, m.h) }

func (m *rgbImage) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= m.w || y >= m.h {
		return color.RGBA{}
	}
	i := (y*m.w + x) * 3
	return color.RGBA{R: m.pix[i], G: m.pix[i+1], B: m.pix[i+2], A: 0xff}
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
