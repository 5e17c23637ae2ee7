package datastore

import (
	"context"

	"github.com/tphakala/carnet-go/internal/trainer"
)

// RunRecorder persists training progress as a trainer observer.
type RunRecorder struct {
	store Interface
}

// NewRunRecorder returns an observer writing to store.
func NewRunRecorder(store Interface) *RunRecorder {
	return &RunRecorder{store: store}
}

func (r *RunRecorder) OnRunStart(ctx context.Context, info trainer.RunInfo) error {
	return r.store.StartRun(ctx, info)
}

func (r *RunRecorder) OnEpoch(ctx context.Context, rec trainer.EpochRecord) error {
	return r.store.SaveEpoch(ctx, rec)
}

func (r *RunRecorder) OnRunComplete(ctx context.Context, summary trainer.RunSummary) error {
	return r.store.FinishRun(ctx, summary)
}

var (
	_ trainer.Observer      = (*RunRecorder)(nil)
	_ trainer.StartObserver = (*RunRecorder)(nil)
)
