package verify

import (
	"context"
	"fmt"

	"github.com/autoall/lacedore-verifier/pkg/model"
)

// chunkFn resolves one chunk of identifiers into the shared result mapping.
type chunkFn func(ctx context.Context, chunk []string, results map[string]model.Result, sink ProgressSink)

// VerifyBatch partitions identifiers into chunks and submits each chunk as a
// single batch request, sequentially. One chunk's failure never aborts the
// rest; the returned mapping is total over the input and every entry is in a
// terminal step.
func (v *Verifier) VerifyBatch(ctx context.Context, ids []string, sink ProgressSink) map[string]model.Result {
	return v.runChunks(ctx, ids, sink, v.verifyChunkBatch)
}

// VerifyBatchPolled is the incremental variant: within each chunk every
// identifier is submitted as its own remote task, then a single shared loop
// polls all outstanding tasks until none remain.
func (v *Verifier) VerifyBatchPolled(ctx context.Context, ids []string, sink ProgressSink) map[string]model.Result {
	return v.runChunks(ctx, ids, sink, v.verifyChunkPolled)
}

func (v *Verifier) runChunks(ctx context.Context, ids []string, sink ProgressSink, fn chunkFn) map[string]model.Result {
	results := make(map[string]model.Result, len(ids))
	if len(ids) == 0 {
		return results
	}

	chunks := chunkIDs(ids, v.opts.ChunkSize)
	v.log.Info().Int("ids", len(ids)).Int("chunks", len(chunks)).Msg("submitting batch verification")
	if !notify(sink, "", fmt.Sprintf("Starting batch verification for %d items (%d chunks)...", len(ids), len(chunks))) {
		markAll(results, ids, "cancelled by caller")
		return results
	}

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			markMissing(results, flatten(chunks[i:]), "cancelled: "+err.Error())
			break
		}
		if !notify(sink, "", fmt.Sprintf("chunk %d/%d (%d items)", i+1, len(chunks), len(chunk))) {
			markMissing(results, flatten(chunks[i:]), "cancelled by caller")
			break
		}

		fn(ctx, chunk, results, sink)

		// The mapping must stay total over the input even when the remote
		// response omits identifiers.
		markMissing(results, chunk, "No response from API")

		if i < len(chunks)-1 {
			if err := sleepCtx(ctx, v.opts.ChunkPause); err != nil {
				markMissing(results, flatten(chunks[i+1:]), "cancelled: "+err.Error())
				break
			}
		}
	}

	v.refreshQuotaAfter(ctx)
	return results
}

// verifyChunkBatch submits the whole chunk in one request. An HTTP-level
// failure marks every member of the chunk with the failure detail.
func (v *Verifier) verifyChunkBatch(ctx context.Context, chunk []string, results map[string]model.Result, sink ProgressSink) {
	resp, err := v.client.SubmitBatch(ctx, chunk)
	if err != nil {
		msg := errorMessage(err)
		v.log.Error().Str("error", msg).Int("ids", len(chunk)).Msg("chunk submission failed")
		markMissing(results, chunk, msg)
		return
	}

	if resp.CreditsDeducted != nil {
		v.log.Info().Int("credits", *resp.CreditsDeducted).Msg("credits deducted")
	}

	for _, raw := range resp.Results {
		vid, _ := raw["verificationId"].(string)
		if vid == "" {
			continue
		}
		res := model.Result{VerificationID: vid}
		if step, ok := raw["currentStep"].(string); ok && step != "" {
			res.Step = model.Step(step)
		} else if success, ok := raw["success"].(bool); ok {
			if success {
				res.Step = model.StepSuccess
			} else {
				res.Step = model.StepError
			}
		} else {
			res.Step = model.StepError
		}
		res.Message, _ = raw["message"].(string)
		res.MergeExtra(raw, transportFields)
		results[vid] = res
		notify(sink, vid, fmt.Sprintf("Step: %s | Msg: %s", res.Step, res.Message))
	}
}

// taskHandle pairs an identifier with its remote task while polling is in
// flight; it is discarded once the task reaches a terminal state.
type taskHandle struct {
	id     string
	taskID string
}

// verifyChunkPolled submits every identifier in the chunk one at a time with
// a small inter-submission delay, then polls all outstanding tasks from a
// single loop, amortizing sleep time across the chunk.
func (v *Verifier) verifyChunkPolled(ctx context.Context, chunk []string, results map[string]model.Result, sink ProgressSink) {
	active := make([]taskHandle, 0, len(chunk))
	for i, id := range chunk {
		if i > 0 {
			if err := sleepCtx(ctx, v.opts.SubmitDelay); err != nil {
				return
			}
		}
		taskID, err := v.client.SubmitVerification(ctx, id)
		if err != nil {
			results[id] = model.Result{VerificationID: id, Step: model.StepError, Message: errorMessage(err)}
			notify(sink, id, results[id].Message)
			continue
		}
		results[id] = model.Result{VerificationID: id, Step: model.StepPending}
		active = append(active, taskHandle{id: id, taskID: taskID})
		notify(sink, id, "submitted")
	}

	interval := v.opts.PollBase
	for attempt := 0; attempt < v.opts.PollMaxAttempts && len(active) > 0; attempt++ {
		if err := sleepCtx(ctx, interval); err != nil {
			for _, h := range active {
				results[h.id] = model.Result{VerificationID: h.id, Step: model.StepError, Message: "cancelled: " + err.Error()}
			}
			return
		}
		interval = nextPollInterval(interval, v.opts.PollIncrement, v.opts.PollMax)

		remaining := active[:0]
		for _, h := range active {
			st, err := v.client.GetTaskStatus(ctx, h.taskID)
			if err != nil {
				v.log.Warn().Err(err).Str("verificationId", h.id).Msg("poll failed")
				remaining = append(remaining, h)
				continue
			}
			res := results[h.id]
			applyTaskStatus(&res, st)
			results[h.id] = res
			if !notify(sink, h.id, fmt.Sprintf("Step: %s | Msg: %s", res.Step, res.Message)) {
				res.Step = model.StepError
				res.Message = "cancelled by caller"
				results[h.id] = res
				continue
			}
			if st.Status == "completed" || st.Status == "error" {
				continue
			}
			remaining = append(remaining, h)
		}
		active = remaining
	}

	for _, h := range active {
		results[h.id] = model.Result{
			VerificationID: h.id,
			Step:           model.StepTimeout,
			Message:        fmt.Sprintf("no terminal status after %d polls", v.opts.PollMaxAttempts),
		}
	}
}

// chunkIDs splits ids into contiguous chunks of at most size, in input order.
func chunkIDs(ids []string, size int) [][]string {
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func flatten(chunks [][]string) []string {
	var out []string
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// markMissing records a terminal error for every id not yet in the mapping.
func markMissing(results map[string]model.Result, ids []string, message string) {
	for _, id := range ids {
		if res, ok := results[id]; ok && res.Step.Terminal() {
			continue
		}
		results[id] = model.Result{VerificationID: id, Step: model.StepError, Message: message}
	}
}

func markAll(results map[string]model.Result, ids []string, message string) {
	for _, id := range ids {
		results[id] = model.Result{VerificationID: id, Step: model.StepError, Message: message}
	}
}
