package verify

import (
	"context"

	"github.com/autoall/lacedore-verifier/internal/platform/lacedore"
)

// VerificationClient abstracts the lacedore API for testability.
type VerificationClient interface {
	GetUpstreamStatus(ctx context.Context) (lacedore.UpstreamStatus, error)
	GetQuota(ctx context.Context) (int, error)
	SubmitVerification(ctx context.Context, verificationID string) (string, error)
	GetTaskStatus(ctx context.Context, taskID string) (lacedore.TaskStatus, error)
	SubmitBatch(ctx context.Context, verificationIDs []string) (lacedore.BatchResponse, error)
	Redeem(ctx context.Context, code string) (lacedore.RedeemResponse, error)
	Cancel(ctx context.Context, verificationID string) (map[string]any, error)
}

// SettingsStore persists small named values, such as the cached quota record.
type SettingsStore interface {
	Set(ctx context.Context, key, value string) error
}

// ProgressSink receives human-readable progress updates. id is empty for
// batch-level messages. Returning false requests cooperative cancellation of
// the operation emitting the update.
type ProgressSink interface {
	OnProgress(id, text string) bool
}

// ProgressFunc adapts a function to the ProgressSink interface.
type ProgressFunc func(id, text string) bool

func (f ProgressFunc) OnProgress(id, text string) bool { return f(id, text) }

// notify emits a progress update on a possibly-nil sink. It returns false
// only when the sink explicitly requested cancellation.
func notify(sink ProgressSink, id, text string) bool {
	if sink == nil {
		return true
	}
	return sink.OnProgress(id, text)
}
