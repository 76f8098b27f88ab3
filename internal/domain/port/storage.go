package port

import "context"

// VideoStorage fetches source videos. Errors that retrying cannot fix, such as a
// missing object, wrap entity.ErrSourceUnavailable.
type VideoStorage interface {
	DownloadVideo(ctx context.Context, objectKey string, destPath string) error
}
