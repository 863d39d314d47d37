package lacedore

import (
	"context"
	"net/http"
	"net/url"
)

// UpstreamStatus is the health report of the upstream verification provider.
type UpstreamStatus struct {
	Available bool     `json:"available"`
	LatencyMS *float64 `json:"latency_ms"`
	Error     string   `json:"error"`
}

// TaskStatus is one poll observation for a remote verification task. Fields
// carries the raw response so callers can merge uninterpreted keys.
type TaskStatus struct {
	Status      string
	CurrentStep string
	Message     string
	Fields      map[string]any
}

// BatchResponse is the result set of a whole-chunk batch submission.
type BatchResponse struct {
	Results         []map[string]any `json:"results"`
	CreditsDeducted *int             `json:"credits_deducted"`
}

// RedeemResponse reports a credit code redemption.
type RedeemResponse struct {
	CreditsAdded *int `json:"credits_added"`
	CreditsTotal *int `json:"credits_total"`
	Raw          map[string]any
}

// GetUpstreamStatus checks whether the upstream provider is reachable.
func (c *Client) GetUpstreamStatus(ctx context.Context) (UpstreamStatus, error) {
	var out UpstreamStatus
	if err := c.doJSON(ctx, http.MethodGet, "/upstream/status", nil, &out); err != nil {
		return UpstreamStatus{}, err
	}
	return out, nil
}

// GetQuota returns the remaining credit count.
func (c *Client) GetQuota(ctx context.Context) (int, error) {
	var out struct {
		Credits int `json:"credits"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/quota", nil, &out); err != nil {
		return 0, err
	}
	return out.Credits, nil
}

// SubmitVerification creates a remote task for one verification identifier.
func (c *Client) SubmitVerification(ctx context.Context, verificationID string) (string, error) {
	var out struct {
		TaskID string `json:"task_id"`
	}
	payload := map[string]string{"verification_id": verificationID}
	if err := c.doJSON(ctx, http.MethodPost, "/verify", payload, &out); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		return "", ErrMissingTaskID
	}
	return out.TaskID, nil
}

// GetTaskStatus polls the state of a submitted task.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	fields := make(map[string]any)
	if err := c.doJSON(ctx, http.MethodGet, "/verify/status/"+url.PathEscape(taskID), nil, &fields); err != nil {
		return TaskStatus{}, err
	}
	st := TaskStatus{Fields: fields}
	st.Status, _ = fields["status"].(string)
	st.CurrentStep, _ = fields["currentStep"].(string)
	st.Message, _ = fields["message"].(string)
	return st, nil
}

// SubmitBatch submits a whole chunk of identifiers in one request.
func (c *Client) SubmitBatch(ctx context.Context, verificationIDs []string) (BatchResponse, error) {
	var out BatchResponse
	payload := map[string][]string{"verification_ids": verificationIDs}
	if err := c.doJSON(ctx, http.MethodPost, "/verify/batch", payload, &out); err != nil {
		return BatchResponse{}, err
	}
	return out, nil
}

// Redeem exchanges a credit code for additional quota.
func (c *Client) Redeem(ctx context.Context, code string) (RedeemResponse, error) {
	raw := make(map[string]any)
	payload := map[string]string{"code": code}
	if err := c.doJSON(ctx, http.MethodPost, "/redeem", payload, &raw); err != nil {
		return RedeemResponse{}, err
	}
	out := RedeemResponse{Raw: raw}
	if v, ok := raw["credits_added"].(float64); ok {
		n := int(v)
		out.CreditsAdded = &n
	}
	if v, ok := raw["credits_total"].(float64); ok {
		n := int(v)
		out.CreditsTotal = &n
	}
	return out, nil
}

// Cancel asks the service to abandon a verification. The response shape is
// service-defined, so it is returned verbatim.
func (c *Client) Cancel(ctx context.Context, verificationID string) (map[string]any, error) {
	out := make(map[string]any)
	payload := map[string]string{"verification_id": verificationID}
	if err := c.doJSON(ctx, http.MethodPost, "/cancel", payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}
