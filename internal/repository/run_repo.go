package repository

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/autoall/lacedore-verifier/pkg/model"
)

// RunRepository manages verification run lifecycle records.
type RunRepository struct {
	client *firestore.Client
}

func NewRunRepository(client *firestore.Client) *RunRepository {
	return &RunRepository{client: client}
}

func (r *RunRepository) CreateRun(ctx context.Context, run model.VerificationRun) error {
	if run.RunID == "" {
		return fmt.Errorf("runId is required")
	}
	ref := r.client.Collection("verification_runs").Doc(run.RunID)
	if _, err := ref.Set(ctx, run); err != nil {
		return fmt.Errorf("create run %s: %w", run.RunID, err)
	}
	return nil
}

func (r *RunRepository) UpdateRun(ctx context.Context, run model.VerificationRun) error {
	if run.RunID == "" {
		return fmt.Errorf("runId is required")
	}
	ref := r.client.Collection("verification_runs").Doc(run.RunID)
	if _, err := ref.Set(ctx, run); err != nil {
		return fmt.Errorf("update run %s: %w", run.RunID, err)
	}
	return nil
}

func (r *RunRepository) GetRun(ctx context.Context, runID string) (model.VerificationRun, error) {
	ref := r.client.Collection("verification_runs").Doc(runID)
	snap, err := ref.Get(ctx)
	if err != nil {
		return model.VerificationRun{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	var run model.VerificationRun
	if err := snap.DataTo(&run); err != nil {
		return model.VerificationRun{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return run, nil
}

func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]model.VerificationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	iter := r.client.Collection("verification_runs").
		OrderBy("startedAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)

	var runs []model.VerificationRun
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate runs: %w", err)
		}
		var run model.VerificationRun
		if err := doc.DataTo(&run); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", doc.Ref.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}
