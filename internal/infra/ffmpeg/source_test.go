package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"io"
	"testing"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	"github.com/fiapx/fiapx-ocr-service/internal/domain/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func rawFrames(n, w, h int) []byte {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		for p := 0; p < w*h; p++ {
			buf.Write([]byte{byte(i), byte(p), 0x10})
		}
	}
	return buf.Bytes()
}

func TestStreamReadsFramesInOrder(t *testing.T) {
	info := videoInfo{Width: 2, Height: 2, FrameRate: 25}
	s := newStream(bytes.NewReader(rawFrames(3, 2, 2)), info, func() error { return nil }, nil)
	ctx := context.Background()

	assert.Equal(t, 25.0, s.FrameRate())
	for i := 0; i < 3; i++ {
		f, err := s.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, f.Index)
		assert.Equal(t, port.UnknownTimestamp, f.TimestampMs)
		assert.Equal(t, 2, f.Image.Bounds().Dx())
		assert.Equal(t, color.RGBA{R: byte(i), G: 3, B: 0x10, A: 0xff}, f.Image.At(1, 1))
	}

	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, s.Close())
}

func TestStreamReportsDecoderExitError(t *testing.T) {
	info := videoInfo{Width: 2, Height: 2}
	s := newStream(bytes.NewReader(rawFrames(1, 2, 2)), info, func() error {
		return errors.New("exit status 1: Invalid data found when processing input")
	}, nil)

	_, err := s.Next(context.Background())
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "after 1 frames")
}

func TestStreamTruncatedFrame(t *testing.T) {
	data := rawFrames(1, 2, 2)
	s := newStream(bytes.NewReader(data[:len(data)-2]), videoInfo{Width: 2, Height: 2}, nil, nil)

	_, err := s.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated frame 0")
}

func TestStreamHonoursCancelledContext(t *testing.T) {
	s := newStream(bytes.NewReader(rawFrames(1, 2, 2)), videoInfo{Width: 2, Height: 2}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRGBImageOutOfBounds(t *testing.T) {
	img := &rgbImage{pix: make([]byte, 12), w: 2, h: 2}
	assert.Equal(t, color.RGBA{}, img.At(-1, 0))
	assert.Equal(t, color.RGBA{}, img.At(2, 0))
}

func TestOpenMissingFileIsSourceUnavailable(t *testing.T) {
	src := NewSource("ffmpeg", "ffprobe", zap.NewNop())
	src.runner = &stubRunner{err: errors.New("ffprobe: exit status 1: No such file or directory")}

	_, err := src.Open(context.Background(), "/does/not/exist.mp4")
	assert.ErrorIs(t, err, entity.ErrSourceUnavailable)
}

func TestLimitedBufferTruncates(t *testing.T) {
	b := &limitedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, _ = b.Write([]byte("gh"))
	assert.Equal(t, "abcd", b.String())
}
