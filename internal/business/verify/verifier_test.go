package verify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoall/lacedore-verifier/internal/platform/lacedore"
	"github.com/autoall/lacedore-verifier/pkg/model"
)

// fakeClient implements VerificationClient with overridable behavior and
// call counters.
type fakeClient struct {
	mu sync.Mutex

	upstreamFn   func() (lacedore.UpstreamStatus, error)
	quotaFn      func() (int, error)
	submitFn     func(id string) (string, error)
	taskStatusFn func(taskID string) (lacedore.TaskStatus, error)
	batchFn      func(ids []string) (lacedore.BatchResponse, error)
	redeemFn     func(code string) (lacedore.RedeemResponse, error)
	cancelFn     func(id string) (map[string]any, error)

	upstreamCalls int
	quotaCalls    int
	submitCalls   int
	pollCalls     int
	batchCalls    int
}

func (f *fakeClient) GetUpstreamStatus(ctx context.Context) (lacedore.UpstreamStatus, error) {
	f.mu.Lock()
	f.upstreamCalls++
	f.mu.Unlock()
	if f.upstreamFn != nil {
		return f.upstreamFn()
	}
	return lacedore.UpstreamStatus{Available: true}, nil
}

func (f *fakeClient) GetQuota(ctx context.Context) (int, error) {
	f.mu.Lock()
	f.quotaCalls++
	f.mu.Unlock()
	if f.quotaFn != nil {
		return f.quotaFn()
	}
	return 100, nil
}

func (f *fakeClient) SubmitVerification(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	f.submitCalls++
	f.mu.Unlock()
	if f.submitFn != nil {
		return f.submitFn(id)
	}
	return "task-" + id, nil
}

func (f *fakeClient) GetTaskStatus(ctx context.Context, taskID string) (lacedore.TaskStatus, error) {
	f.mu.Lock()
	f.pollCalls++
	f.mu.Unlock()
	if f.taskStatusFn != nil {
		return f.taskStatusFn(taskID)
	}
	return lacedore.TaskStatus{Status: "completed", CurrentStep: "success"}, nil
}

func (f *fakeClient) SubmitBatch(ctx context.Context, ids []string) (lacedore.BatchResponse, error) {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()
	if f.batchFn != nil {
		return f.batchFn(ids)
	}
	return lacedore.BatchResponse{}, nil
}

func (f *fakeClient) Redeem(ctx context.Context, code string) (lacedore.RedeemResponse, error) {
	if f.redeemFn != nil {
		return f.redeemFn(code)
	}
	return lacedore.RedeemResponse{}, nil
}

func (f *fakeClient) Cancel(ctx context.Context, id string) (map[string]any, error) {
	if f.cancelFn != nil {
		return f.cancelFn(id)
	}
	return map[string]any{"cancelled": true}, nil
}

func (f *fakeClient) counts() (upstream, quota, submit, poll, batch int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upstreamCalls, f.quotaCalls, f.submitCalls, f.pollCalls, f.batchCalls
}

// fakeSettings records persisted settings values.
type fakeSettings struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{values: make(map[string]string)}
}

func (f *fakeSettings) Set(ctx context.Context, key, value string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *fakeSettings) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

func fastOptions() Options {
	return Options{
		ChunkSize:       50,
		ChunkPause:      time.Millisecond,
		SubmitDelay:     time.Millisecond,
		PollBase:        time.Millisecond,
		PollIncrement:   time.Millisecond,
		PollMax:         3 * time.Millisecond,
		PollMaxAttempts: 5,
	}
}

func newTestVerifier(client *fakeClient, settings SettingsStore, opts Options) *Verifier {
	return NewVerifier(client, settings, opts, zerolog.Nop())
}

func TestProbeFailFastOnTransportError(t *testing.T) {
	client := &fakeClient{
		upstreamFn: func() (lacedore.UpstreamStatus, error) {
			return lacedore.UpstreamStatus{}, errors.New("dial tcp: connection refused")
		},
	}
	v := newTestVerifier(client, nil, fastOptions())

	rec := v.Probe(context.Background())

	assert.Equal(t, "error", rec.Status)
	assert.Contains(t, rec.Message, "Connection error")
	_, quota, _, _, _ := client.counts()
	assert.Zero(t, quota, "quota endpoint must not be called when upstream is dead")
}

func TestProbeFailFastOnUnavailableUpstream(t *testing.T) {
	client := &fakeClient{
		upstreamFn: func() (lacedore.UpstreamStatus, error) {
			return lacedore.UpstreamStatus{Available: false, Error: "maintenance window"}, nil
		},
	}
	v := newTestVerifier(client, nil, fastOptions())

	rec := v.Probe(context.Background())

	assert.Equal(t, "error", rec.Status)
	assert.Equal(t, "maintenance window", rec.Message)
	_, quota, _, _, _ := client.counts()
	assert.Zero(t, quota)
}

func TestProbePersistsQuota(t *testing.T) {
	client := &fakeClient{
		quotaFn: func() (int, error) { return 42, nil },
	}
	settings := newFakeSettings()
	v := newTestVerifier(client, settings, fastOptions())

	rec := v.Probe(context.Background())

	require.Equal(t, "ok", rec.Status)
	require.NotNil(t, rec.CurrentQuota)
	assert.Equal(t, 42, *rec.CurrentQuota)
	assert.Equal(t, 42, v.Quota().CurrentQuota)

	raw, ok := settings.get("lacedore_quota")
	require.True(t, ok, "quota record must be persisted")
	var persisted model.QuotaRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	assert.Equal(t, 42, persisted.CurrentQuota)
	assert.NotZero(t, persisted.UpdatedAt)
	_, ok = settings.get("lacedore_quota_time")
	assert.True(t, ok)
}

func TestProbeQuotaFailureIsNonFatal(t *testing.T) {
	client := &fakeClient{
		quotaFn: func() (int, error) { return 0, errors.New("quota endpoint down") },
	}
	v := newTestVerifier(client, newFakeSettings(), fastOptions())

	rec := v.Probe(context.Background())

	assert.Equal(t, "ok", rec.Status)
	assert.Nil(t, rec.CurrentQuota)
}

func TestVerifySingleCompletesOnFirstPoll(t *testing.T) {
	client := &fakeClient{
		submitFn: func(id string) (string, error) { return "t1", nil },
		taskStatusFn: func(taskID string) (lacedore.TaskStatus, error) {
			return lacedore.TaskStatus{
				Status:      "completed",
				CurrentStep: "success",
				Message:     "done",
				Fields: map[string]any{
					"status":      "completed",
					"currentStep": "success",
					"message":     "done",
					"task_id":     "t1",
					"school":      "Example University",
				},
			}, nil
		},
	}
	v := newTestVerifier(client, nil, fastOptions())

	res := v.VerifySingle(context.Background(), "x", nil)

	assert.Equal(t, "x", res.VerificationID)
	assert.Equal(t, model.StepSuccess, res.Step)
	assert.Equal(t, "done", res.Message)
	assert.Equal(t, "Example University", res.Extra["school"])
	assert.NotContains(t, res.Extra, "task_id")
	assert.NotContains(t, res.Extra, "status")
	_, _, _, polls, _ := client.counts()
	assert.Equal(t, 1, polls, "exactly one poll expected")
}

func TestVerifySingleSubmissionTransportError(t *testing.T) {
	client := &fakeClient{
		submitFn: func(id string) (string, error) { return "", errors.New("connection reset") },
	}
	v := newTestVerifier(client, nil, fastOptions())

	res := v.VerifySingle(context.Background(), "x", nil)

	assert.Equal(t, model.StepError, res.Step)
	assert.Contains(t, res.Message, "Connection error")
	_, _, _, polls, _ := client.counts()
	assert.Zero(t, polls, "no polling after failed submission")
}

func TestVerifySingleRemoteErrorMessage(t *testing.T) {
	client := &fakeClient{
		submitFn: func(id string) (string, error) {
			return "", &lacedore.RemoteError{StatusCode: 402, Body: "Payment Required"}
		},
	}
	v := newTestVerifier(client, nil, fastOptions())

	res := v.VerifySingle(context.Background(), "x", nil)

	assert.Equal(t, model.StepError, res.Step)
	assert.Equal(t, "HTTP 402: Payment Required", res.Message)
}

func TestVerifySingleMissingTaskID(t *testing.T) {
	client := &fakeClient{
		submitFn: func(id string) (string, error) { return "", lacedore.ErrMissingTaskID },
	}
	v := newTestVerifier(client, nil, fastOptions())

	res := v.VerifySingle(context.Background(), "x", nil)

	assert.Equal(t, model.StepError, res.Step)
	assert.Equal(t, "missing task id", res.Message)
}

func TestVerifySingleTimesOut(t *testing.T) {
	client := &fakeClient{
		taskStatusFn: func(taskID string) (lacedore.TaskStatus, error) {
			return lacedore.TaskStatus{Status: "running", CurrentStep: "pending"}, nil
		},
	}
	opts := fastOptions()
	opts.PollMaxAttempts = 3
	v := newTestVerifier(client, nil, opts)

	res := v.VerifySingle(context.Background(), "x", nil)

	assert.Equal(t, model.StepTimeout, res.Step)
	assert.Contains(t, res.Message, "3 polls")
	_, _, _, polls, _ := client.counts()
	assert.Equal(t, 3, polls)
}

func TestVerifySinglePollFailuresAreTransient(t *testing.T) {
	polls := 0
	client := &fakeClient{
		taskStatusFn: func(taskID string) (lacedore.TaskStatus, error) {
			polls++
			if polls < 3 {
				return lacedore.TaskStatus{}, errors.New("timeout")
			}
			return lacedore.TaskStatus{Status: "completed", CurrentStep: "success", Message: "ok"}, nil
		},
	}
	v := newTestVerifier(client, nil, fastOptions())

	res := v.VerifySingle(context.Background(), "x", nil)

	assert.Equal(t, model.StepSuccess, res.Step)
	assert.Equal(t, 3, polls, "loop must survive transient poll failures")
}

func TestVerifySingleSinkRequestsCancellation(t *testing.T) {
	client := &fakeClient{
		taskStatusFn: func(taskID string) (lacedore.TaskStatus, error) {
			return lacedore.TaskStatus{Status: "running", CurrentStep: "pending"}, nil
		},
	}
	v := newTestVerifier(client, nil, fastOptions())

	sink := ProgressFunc(func(id, text string) bool {
		return id == "" || text == "submitted"
	})
	res := v.VerifySingle(context.Background(), "x", sink)

	assert.Equal(t, model.StepError, res.Step)
	assert.Equal(t, "cancelled by caller", res.Message)
}

func TestRedeemPersistsQuotaTotal(t *testing.T) {
	added, total := 10, 50
	client := &fakeClient{
		redeemFn: func(code string) (lacedore.RedeemResponse, error) {
			return lacedore.RedeemResponse{
				CreditsAdded: &added,
				CreditsTotal: &total,
				Raw:          map[string]any{"credits_added": float64(10), "credits_total": float64(50)},
			}, nil
		},
	}
	settings := newFakeSettings()
	v := newTestVerifier(client, settings, fastOptions())

	res := v.RedeemCode(context.Background(), "ABC")

	require.True(t, res.Success)
	assert.Equal(t, 50, v.Quota().CurrentQuota)

	raw, ok := settings.get("lacedore_quota")
	require.True(t, ok)
	var persisted model.QuotaRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	assert.Equal(t, 50, persisted.CurrentQuota)
}

func TestRedeemErrorSurfacesDetail(t *testing.T) {
	client := &fakeClient{
		redeemFn: func(code string) (lacedore.RedeemResponse, error) {
			return lacedore.RedeemResponse{}, &lacedore.RemoteError{StatusCode: 400, Body: "{}", Detail: "invalid code"}
		},
	}
	v := newTestVerifier(client, nil, fastOptions())

	res := v.RedeemCode(context.Background(), "BAD")

	assert.False(t, res.Success)
	assert.Equal(t, "HTTP 400: invalid code", res.Message)
}

func TestCancelVerification(t *testing.T) {
	client := &fakeClient{}
	v := newTestVerifier(client, nil, fastOptions())

	out := v.CancelVerification(context.Background(), "v1")
	assert.Equal(t, true, out["cancelled"])

	client.cancelFn = func(id string) (map[string]any, error) {
		return nil, errors.New("no route to host")
	}
	out = v.CancelVerification(context.Background(), "v1")
	assert.Equal(t, "error", out["status"])
}

func TestQuotaPersistenceFailureIsSwallowed(t *testing.T) {
	client := &fakeClient{quotaFn: func() (int, error) { return 9, nil }}
	settings := newFakeSettings()
	settings.err = errors.New("firestore unavailable")
	v := newTestVerifier(client, settings, fastOptions())

	rec := v.Probe(context.Background())

	assert.Equal(t, "ok", rec.Status)
	assert.Equal(t, 9, v.Quota().CurrentQuota, "in-memory record still updated")
}

func TestNextPollIntervalLinearWithCeiling(t *testing.T) {
	base := 2 * time.Second
	increment := time.Second
	max := 5 * time.Second

	intervals := []time.Duration{base}
	current := base
	for i := 0; i < 6; i++ {
		current = nextPollInterval(current, increment, max)
		intervals = append(intervals, current)
	}

	for i := 1; i < len(intervals); i++ {
		assert.GreaterOrEqual(t, intervals[i], intervals[i-1], "backoff must be monotonic")
		assert.LessOrEqual(t, intervals[i], max, "backoff must honor the ceiling")
	}
	assert.Equal(t, max, intervals[len(intervals)-1])
}
