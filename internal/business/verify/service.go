package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/autoall/lacedore-verifier/pkg/model"
)

// RunStore persists verification run lifecycle records.
type RunStore interface {
	CreateRun(ctx context.Context, run model.VerificationRun) error
	UpdateRun(ctx context.Context, run model.VerificationRun) error
}

// Service runs batch verifications asynchronously and records their
// lifecycle. Cancellation is cooperative via the JobManager.
type Service struct {
	verifier *Verifier
	runs     RunStore
	jobs     *JobManager
	log      zerolog.Logger
}

func NewService(verifier *Verifier, runs RunStore, log zerolog.Logger) *Service {
	return &Service{
		verifier: verifier,
		runs:     runs,
		jobs:     NewJobManager(),
		log:      log,
	}
}

// Start kicks off a batch verification run asynchronously and returns its ID.
func (s *Service) Start(ctx context.Context, ids []string, polled bool) (string, error) {
	if len(ids) == 0 {
		return "", fmt.Errorf("no verification ids provided")
	}

	runID := uuid.NewString()
	run := model.VerificationRun{
		RunID:     runID,
		Status:    "running",
		Polled:    polled,
		Stats:     model.RunStats{Total: len(ids)},
		StartedAt: time.Now().UTC(),
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.jobs.Register(runID, cancel)
	go s.execute(runCtx, runID, ids, polled)
	return runID, nil
}

func (s *Service) execute(ctx context.Context, runID string, ids []string, polled bool) {
	defer s.jobs.Unregister(runID)

	startedAt := time.Now().UTC()
	updates := 0
	sink := ProgressFunc(func(id, text string) bool {
		s.log.Debug().Str("runId", runID).Str("verificationId", id).Msg(text)
		if id != "" {
			updates++
			// Periodic run refresh so pollers see progress without a write
			// per identifier.
			if updates%25 == 0 {
				_ = s.runs.UpdateRun(ctx, model.VerificationRun{
					RunID:     runID,
					Status:    "running",
					Polled:    polled,
					Stats:     model.RunStats{Total: len(ids)},
					StartedAt: startedAt,
				})
			}
		}
		return true
	})

	var results map[string]model.Result
	if polled {
		results = s.verifier.VerifyBatchPolled(ctx, ids, sink)
	} else {
		results = s.verifier.VerifyBatch(ctx, ids, sink)
	}

	status := "success"
	if ctx.Err() != nil {
		status = "cancelled"
	}

	// Run updates outlive a cancelled run context.
	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.runs.UpdateRun(finishCtx, model.VerificationRun{
		RunID:      runID,
		Status:     status,
		Polled:     polled,
		Stats:      model.AggregateRunStats(results),
		Results:    results,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
	}); err != nil {
		s.log.Error().Err(err).Str("runId", runID).Msg("failed to finalize run")
	}
}

// CancelRun abandons a running batch. Remote tasks already submitted keep
// their server-side lifecycle; use Verifier.CancelVerification for those.
func (s *Service) CancelRun(runID string) bool {
	return s.jobs.Cancel(runID)
}

// IsRunning reports whether a run is still executing.
func (s *Service) IsRunning(runID string) bool {
	return s.jobs.IsRunning(runID)
}
