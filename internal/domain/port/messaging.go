package port

import (
	"context"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
)

type StatusPublisher interface {
	PublishStatus(ctx context.Context, msg entity.TaskStatusMessage) error
}

// DLQPublisher parks undeliverable raw messages together with the reason.
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, body []byte, reason string) error
}
