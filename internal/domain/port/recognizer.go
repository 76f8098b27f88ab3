package port

import (
	"context"
	"image"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
)

// TextRecognizer returns the tokens found in a preprocessed frame, in detection
// order. An image without text yields an empty slice and no error.
type TextRecognizer interface {
	Recognize(ctx context.Context, img image.Image) ([]entity.Token, error)
}
