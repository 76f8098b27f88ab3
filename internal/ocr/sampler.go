package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	"github.com/fiapx/fiapx-ocr-service/internal/domain/port"
	"go.uber.org/zap"
)

// SampleStats summarizes one pass over a frame stream.
type SampleStats struct {
	FramesDecoded       int
	FramesSampled       int
	ReadingsEmitted     int
	RecognitionFailures int
}

// Sampler decimates a frame stream and turns every kept frame into a FrameReading.
type Sampler struct {
	recognizer port.TextRecognizer
	params     Params
	logger     *zap.Logger
}

func NewSampler(recognizer port.TextRecognizer, params Params, logger *zap.Logger) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{recognizer: recognizer, params: params, logger: logger}
}

// Sample pulls frames from stream in order and calls emit for every reading that
// has at least one surviving token. It stops at the end of the stream, on a
// source error, on an unavailable recognizer, on an emit error or when ctx is done.
// A recognizer error on a single frame skips that frame.
func (s *Sampler) Sample(
	ctx context.Context,
	stream port.FrameStream,
	emit func(entity.FrameReading) error,
) (SampleStats, error) {
	var stats SampleStats

	fps := stream.FrameRate()
	if fps <= 0 {
		fps = s.params.FallbackFrameRate
	}

	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		frame, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stats, ctxErr
			}
			return stats, entity.NewProcessingError(entity.ErrSourceUnavailable, "decode",
				fmt.Sprintf("frame %d", index), err)
		}
		stats.FramesDecoded++

		if index%s.params.Stride != 0 {
			continue
		}
		stats.FramesSampled++

		ts := frame.TimestampMs
		if ts == port.UnknownTimestamp {
			ts = int64(float64(index) * 1000 / fps)
		}

		reading, ok, err := s.read(ctx, index, ts, frame)
		if err != nil {
			if errors.Is(err, entity.ErrRecognitionFailure) {
				stats.RecognitionFailures++
				s.logger.Warn("skipping frame after recognition failure",
					zap.Int("frame_index", index), zap.Error(err))
				continue
			}
			return stats, err
		}
		if !ok {
			continue
		}

		if err := emit(reading); err != nil {
			return stats, err
		}
		stats.ReadingsEmitted++
	}
}

func (s *Sampler) read(ctx context.Context, index int, ts int64, frame port.Frame) (entity.FrameReading, bool, error) {
	binary := Binarize(frame.Image)

	tokens, err := s.recognizer.Recognize(ctx, binary)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return entity.FrameReading{}, false, ctxErr
		}
		if errors.Is(err, entity.ErrRecognizerUnavailable) {
			return entity.FrameReading{}, false, entity.NewProcessingError(
				entity.ErrRecognizerUnavailable, "recognize", fmt.Sprintf("frame %d", index), err)
		}
		return entity.FrameReading{}, false, entity.NewProcessingError(
			entity.ErrRecognitionFailure, "recognize", fmt.Sprintf("frame %d", index), err)
	}

	kept := FilterTokens(tokens, s.params.ConfidenceFloor, s.params.MinTokenLength)
	if len(kept) == 0 {
		return entity.FrameReading{}, false, nil
	}

	text, conf := JoinTokens(kept)
	return entity.FrameReading{
		FrameIndex:  index,
		TimestampMs: ts,
		Text:        text,
		Confidence:  conf,
	}, true, nil
}
