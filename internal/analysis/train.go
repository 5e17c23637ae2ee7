package analysis

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/services"
	"github.com/tphakala/carnet-go/internal/trainer"
)

// Train runs a training job with every enabled output attached and writes
// the run summary to w.
func Train(ctx context.Context, settings *conf.Settings, w io.Writer, opts ...Option) (trainer.RunSummary, error) {
	svc, err := services.Open(settings)
	if err != nil {
		return trainer.RunSummary{}, err
	}
	defer svc.Close(context.WithoutCancel(ctx))

	opts = append(opts, WithObservers(svc.TrainingObservers()...))
	t, err := NewTrainer(ctx, settings, opts...)
	if err != nil {
		return trainer.RunSummary{}, err
	}

	ts := &settings.Train
	summary, err := t.Train(ctx, ts.Epochs, ts.DecayEpoch, ts.SaveBest)
	printRunSummary(w, summary)
	return summary, err
}

// Test loads the checkpoint and evaluates it on the test set. A missing
// checkpoint is an error.
func Test(ctx context.Context, settings *conf.Settings, showDiagnostics bool, w io.Writer, opts ...Option) (float64, error) {
	s := *settings
	s.Train.ReTrain = false

	t, err := NewTrainer(ctx, &s, opts...)
	if err != nil {
		return 0, err
	}
	if !t.Loaded() {
		return 0, errors.Newf("no checkpoint at %s", s.Train.Checkpoint).
			Component("analysis").
			Category(errors.CategoryNotFound).
			Context("checkpoint", s.Train.Checkpoint).
			Build()
	}

	loss, err := t.Test(ctx, showDiagnostics)
	if err != nil {
		return 0, err
	}
	fmt.Fprintf(w, "test loss: %.6g\n", loss)
	if showDiagnostics {
		fmt.Fprintf(w, "diagnostics: %s\n", s.Train.DiagnosticsDir)
	}
	return loss, nil
}

func printRunSummary(w io.Writer, s trainer.RunSummary) {
	fmt.Fprintf(w, "run %s %s after %d epochs in %s\n", s.RunID, s.Status, s.Epochs, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  final test loss: %.6g\n", s.FinalTestLoss)
	fmt.Fprintf(w, "  best loss:       %.6g (%d improvements)\n", s.BestLoss, s.Improvements)
	fmt.Fprintf(w, "  learning rate:   %.6g\n", s.LearningRate)
	fmt.Fprintf(w, "  checkpoint:      %s\n", s.CheckpointPath)
	if s.BestPath != "" {
		fmt.Fprintf(w, "  best checkpoint: %s\n", s.BestPath)
	}
	if s.Err != nil {
		fmt.Fprintf(w, "  error:           %v\n", s.Err)
	}
}
