package model

import "time"

// Step is the lifecycle step reported for a verification identifier.
type Step string

const (
	StepPending   Step = "pending"
	StepSuccess   Step = "success"
	StepError     Step = "error"
	StepCompleted Step = "completed"
	StepTimeout   Step = "timeout"
)

// Terminal reports whether a step will not change further.
func (s Step) Terminal() bool {
	switch s {
	case StepSuccess, StepError, StepCompleted, StepTimeout:
		return true
	}
	return false
}

// Result is the outcome recorded for a single verification identifier.
// Extra holds uninterpreted fields returned by the upstream service; transport
// keys (task id, raw status, key material) are never copied into it.
type Result struct {
	VerificationID string         `json:"verificationId,omitempty" firestore:"verificationId,omitempty"`
	Step           Step           `json:"currentStep,omitempty" firestore:"currentStep,omitempty"`
	Message        string         `json:"message,omitempty" firestore:"message,omitempty"`
	Extra          map[string]any `json:"extra,omitempty" firestore:"extra,omitempty"`
}

// MergeExtra copies upstream fields into the result's open map, skipping
// excluded transport keys.
func (r *Result) MergeExtra(fields map[string]any, excluded map[string]bool) {
	for k, v := range fields {
		if excluded[k] {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]any, len(fields))
		}
		r.Extra[k] = v
	}
}

// QuotaRecord caches the remaining credit count reported by the service.
type QuotaRecord struct {
	CurrentQuota int   `json:"current_quota" firestore:"current_quota"`
	UpdatedAt    int64 `json:"updated_at" firestore:"updated_at"`
}

// StatusRecord is the normalized output of the status/quota probe.
type StatusRecord struct {
	Status            string    `json:"status" firestore:"status"` // ok | error | unknown
	Message           string    `json:"message,omitempty" firestore:"message,omitempty"`
	CurrentQuota      *int      `json:"currentQuota,omitempty" firestore:"currentQuota,omitempty"`
	UpstreamLatencyMS *float64  `json:"upstreamLatencyMs,omitempty" firestore:"upstreamLatencyMs,omitempty"`
	CheckedAt         time.Time `json:"checkedAt,omitempty" firestore:"checkedAt,omitempty"`
}

// RunStats stores aggregated counters for a batch verification run.
type RunStats struct {
	Total     int `json:"total,omitempty" firestore:"total,omitempty"`
	Succeeded int `json:"succeeded,omitempty" firestore:"succeeded,omitempty"`
	Failed    int `json:"failed,omitempty" firestore:"failed,omitempty"`
	TimedOut  int `json:"timedOut,omitempty" firestore:"timedOut,omitempty"`
}

// VerificationRun tracks the lifecycle of a batch verification execution.
type VerificationRun struct {
	RunID      string            `json:"runId,omitempty" firestore:"runId,omitempty"`
	Status     string            `json:"status,omitempty" firestore:"status,omitempty"`
	Polled     bool              `json:"polled,omitempty" firestore:"polled,omitempty"`
	Stats      RunStats          `json:"stats,omitempty" firestore:"stats,omitempty"`
	Results    map[string]Result `json:"results,omitempty" firestore:"results,omitempty"`
	StartedAt  time.Time         `json:"startedAt,omitempty" firestore:"startedAt,omitempty"`
	FinishedAt time.Time         `json:"finishedAt,omitempty" firestore:"finishedAt,omitempty"`
}

// AggregateRunStats derives run counters from a result mapping.
func AggregateRunStats(results map[string]Result) RunStats {
	stats := RunStats{Total: len(results)}
	for _, res := range results {
		switch res.Step {
		case StepSuccess, StepCompleted:
			stats.Succeeded++
		case StepTimeout:
			stats.TimedOut++
		default:
			stats.Failed++
		}
	}
	return stats
}
