package port

import "context"

// FailureNotifier tells the submitter that a task failed permanently.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, to string, taskID string, sourceName string, errorMsg string) error
}
