package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/autoall/lacedore-verifier/internal/platform/lacedore"
	"github.com/autoall/lacedore-verifier/pkg/model"
)

// Settings keys under which the quota record and its timestamp are persisted.
const (
	quotaSettingKey     = "lacedore_quota"
	quotaTimeSettingKey = "lacedore_quota_time"
)

// transportFields are response keys never merged into a result's open map:
// task/transport internals, the raw status, and any embedded key material.
var transportFields = map[string]bool{
	"task_id":     true,
	"taskId":      true,
	"status":      true,
	"api_key":     true,
	"apiKey":      true,
	"credentials": true,
	// Known fields handled explicitly by the result type.
	"verificationId": true,
	"currentStep":    true,
	"message":        true,
	"success":        true,
}

// Options tunes chunking, polling, and throttling behavior.
type Options struct {
	ChunkSize       int
	ChunkPause      time.Duration
	SubmitDelay     time.Duration
	PollBase        time.Duration
	PollIncrement   time.Duration
	PollMax         time.Duration
	PollMaxAttempts int
}

func (o *Options) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 50
	}
	if o.PollBase <= 0 {
		o.PollBase = 2 * time.Second
	}
	if o.PollIncrement < 0 {
		o.PollIncrement = 0
	}
	if o.PollMax < o.PollBase {
		o.PollMax = 5 * time.Second
	}
	if o.PollMaxAttempts <= 0 {
		o.PollMaxAttempts = 60
	}
}

// Verifier drives verification identifiers through their remote lifecycle.
// All failure modes on the verify path collapse into result records; the
// methods never return errors to the caller.
type Verifier struct {
	client   VerificationClient
	settings SettingsStore
	opts     Options
	log      zerolog.Logger

	mu    sync.Mutex
	quota model.QuotaRecord
}

// NewVerifier creates a Verifier. settings may be nil, in which case quota
// records are cached in memory only.
func NewVerifier(client VerificationClient, settings SettingsStore, opts Options, log zerolog.Logger) *Verifier {
	opts.applyDefaults()
	return &Verifier{
		client:   client,
		settings: settings,
		opts:     opts,
		log:      log,
	}
}

// Quota returns the most recently observed quota record.
func (v *Verifier) Quota() model.QuotaRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.quota
}

// Probe queries upstream health and remaining credits, returning a normalized
// status record. A dead upstream fails fast: the quota endpoint is not called
// because its number would be meaningless for planning. Quota failures are
// non-fatal and only logged.
func (v *Verifier) Probe(ctx context.Context) model.StatusRecord {
	rec := model.StatusRecord{Status: "unknown", CheckedAt: time.Now().UTC()}

	up, err := v.client.GetUpstreamStatus(ctx)
	if err != nil {
		rec.Status = "error"
		rec.Message = errorMessage(err)
		return rec
	}
	if !up.Available {
		rec.Status = "error"
		rec.Message = up.Error
		if rec.Message == "" {
			rec.Message = "Upstream unavailable"
		}
		return rec
	}

	rec.Status = "ok"
	rec.UpstreamLatencyMS = up.LatencyMS

	credits, err := v.client.GetQuota(ctx)
	if err != nil {
		v.log.Warn().Err(err).Msg("failed to fetch quota")
		return rec
	}
	rec.CurrentQuota = &credits
	v.updateQuota(ctx, credits)
	return rec
}

// VerifySingle drives one identifier through submission and polling,
// blocking until a terminal step is reached.
func (v *Verifier) VerifySingle(ctx context.Context, id string, sink ProgressSink) model.Result {
	res := v.verifyOne(ctx, id, sink)
	v.refreshQuotaAfter(ctx)
	return res
}

func (v *Verifier) verifyOne(ctx context.Context, id string, sink ProgressSink) model.Result {
	res := model.Result{VerificationID: id, Step: model.StepPending}

	taskID, err := v.client.SubmitVerification(ctx, id)
	if err != nil {
		res.Step = model.StepError
		res.Message = errorMessage(err)
		notify(sink, id, res.Message)
		return res
	}
	notify(sink, id, "submitted")

	interval := v.opts.PollBase
	for attempt := 0; attempt < v.opts.PollMaxAttempts; attempt++ {
		if err := sleepCtx(ctx, interval); err != nil {
			res.Step = model.StepError
			res.Message = "cancelled: " + err.Error()
			return res
		}
		interval = nextPollInterval(interval, v.opts.PollIncrement, v.opts.PollMax)

		st, err := v.client.GetTaskStatus(ctx, taskID)
		if err != nil {
			// Transient poll failures never abort the loop.
			v.log.Warn().Err(err).Str("verificationId", id).Msg("poll failed")
			continue
		}

		applyTaskStatus(&res, st)
		if !notify(sink, id, fmt.Sprintf("Step: %s | Msg: %s", res.Step, res.Message)) {
			res.Step = model.StepError
			res.Message = "cancelled by caller"
			return res
		}
		if st.Status == "completed" || st.Status == "error" {
			return res
		}
	}

	res.Step = model.StepTimeout
	res.Message = fmt.Sprintf("no terminal status after %d polls", v.opts.PollMaxAttempts)
	notify(sink, id, res.Message)
	return res
}

// RedeemResult reports a credit code redemption.
type RedeemResult struct {
	Success      bool           `json:"success"`
	CreditsAdded *int           `json:"creditsAdded,omitempty"`
	CreditsTotal *int           `json:"creditsTotal,omitempty"`
	Message      string         `json:"message,omitempty"`
	Raw          map[string]any `json:"raw,omitempty"`
}

// RedeemCode exchanges a credit code. A returned total refreshes and persists
// the quota record.
func (v *Verifier) RedeemCode(ctx context.Context, code string) RedeemResult {
	resp, err := v.client.Redeem(ctx, code)
	if err != nil {
		return RedeemResult{Message: errorMessage(err)}
	}
	res := RedeemResult{
		Success:      resp.CreditsAdded != nil,
		CreditsAdded: resp.CreditsAdded,
		CreditsTotal: resp.CreditsTotal,
		Raw:          resp.Raw,
	}
	if resp.CreditsTotal != nil {
		v.updateQuota(ctx, *resp.CreditsTotal)
	}
	return res
}

// CancelVerification asks the remote service to abandon an identifier. Any
// in-flight poll loop observes the terminal status on its next poll;
// cancellation is cooperative.
func (v *Verifier) CancelVerification(ctx context.Context, id string) map[string]any {
	out, err := v.client.Cancel(ctx, id)
	if err != nil {
		return map[string]any{"status": "error", "message": errorMessage(err)}
	}
	return out
}

// updateQuota refreshes the in-memory record and persists it. Persistence is
// advisory: failures are logged, never surfaced.
func (v *Verifier) updateQuota(ctx context.Context, credits int) {
	rec := model.QuotaRecord{CurrentQuota: credits, UpdatedAt: time.Now().Unix()}
	v.mu.Lock()
	v.quota = rec
	v.mu.Unlock()

	if v.settings == nil {
		return
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		v.log.Warn().Err(err).Msg("encode quota record")
		return
	}
	if err := v.settings.Set(ctx, quotaSettingKey, string(encoded)); err != nil {
		v.log.Warn().Err(err).Msg("failed to save quota record")
		return
	}
	if err := v.settings.Set(ctx, quotaTimeSettingKey, strconv.FormatInt(rec.UpdatedAt, 10)); err != nil {
		v.log.Warn().Err(err).Msg("failed to save quota timestamp")
	}
}

// refreshQuotaAfter runs a best-effort probe once an operation finishes. It
// must never mask the verification result.
func (v *Verifier) refreshQuotaAfter(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_ = v.Probe(ctx)
}

// applyTaskStatus folds one poll observation into the result: step and
// message from the known fields, everything else into the open map.
func applyTaskStatus(res *model.Result, st lacedore.TaskStatus) {
	switch {
	case st.CurrentStep != "":
		res.Step = model.Step(st.CurrentStep)
	case st.Status != "":
		res.Step = model.Step(st.Status)
	}
	if st.Message != "" {
		res.Message = st.Message
	}
	res.MergeExtra(st.Fields, transportFields)
}

// errorMessage converts client errors into the result message taxonomy.
func errorMessage(err error) string {
	var remote *lacedore.RemoteError
	if errors.As(err, &remote) {
		return remote.Error()
	}
	if errors.Is(err, lacedore.ErrMissingTaskID) {
		return lacedore.ErrMissingTaskID.Error()
	}
	return "Connection error: " + err.Error()
}

// nextPollInterval advances the linear backoff: base plus a fixed increment
// per poll, capped at max.
func nextPollInterval(current, increment, max time.Duration) time.Duration {
	next := current + increment
	if next > max {
		return max
	}
	return next
}

// sleepCtx pauses for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
