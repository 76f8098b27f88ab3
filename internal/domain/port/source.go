package port

import (
	"context"
	"image"
)

// UnknownTimestamp marks a frame whose source could not report a presentation time.
const UnknownTimestamp int64 = -1

// Frame is one decoded video frame. Image is only valid until the next call to Next.
type Frame struct {
	Index       int
	TimestampMs int64
	Image       image.Image
}

// FrameStream yields decoded frames in presentation order.
type FrameStream interface {
	// FrameRate returns the reported frame rate, or 0 when the source has none.
	FrameRate() float64
	// Next returns io.EOF once the stream is exhausted.
	Next(ctx context.Context) (Frame, error)
	Close() error
}

type FrameSource interface {
	Open(ctx context.Context, path string) (FrameStream, error)
}
