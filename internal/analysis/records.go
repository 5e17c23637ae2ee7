package analysis

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/datastore"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/logger"
)

// Record listings.
const (
	RecordsRuns   = "runs"
	RecordsLabels = "labels"
)

// Records writes the most recent training runs or label records from the
// datastore to w as a table. A run id lists that run's epochs instead.
func Records(ctx context.Context, settings *conf.Settings, kind, runID string, limit int, w io.Writer) error {
	store := datastore.New(settings)
	if store == nil {
		return errors.Newf("no datastore enabled, set output.sqlite or output.mysql").
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			GetLogger().Warn("failed to close datastore", logger.Error(err))
		}
	}()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	switch {
	case runID != "":
		run, err := store.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "run %s\t%s\t%s\t%s\n", run.RunID, run.Status, run.Model, run.Loss)
		fmt.Fprintln(tw, "EPOCH\tTEST LOSS\tBEST LOSS\tLR\tIMPROVED\tDURATION")
		for _, e := range run.EpochRecords {
			fmt.Fprintf(tw, "%d\t%.6g\t%.6g\t%.3g\t%t\t%s\n",
				e.Epoch, e.TestLoss, e.BestLoss, e.LearningRate, e.Improved,
				(time.Duration(e.DurationMs) * time.Millisecond).String())
		}
	case kind == RecordsLabels:
		rows, err := store.ListLabels(ctx, limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "TIME\tSTATUS\tFIRST\tSCORE\tSECOND\tSCORE\tPATH")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.4g\t%s\t%.4g\t%s\n",
				r.CreatedAt.Format(time.DateTime), r.Status,
				r.FirstLabel, r.FirstScore, r.SecondLabel, r.SecondScore,
				r.OriginalPath)
		}
	case kind == RecordsRuns || kind == "":
		runs, err := store.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "RUN\tSTATUS\tMODEL\tEPOCHS\tBEST LOSS\tFINAL LOSS\tSTARTED")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%.6g\t%.6g\t%s\n",
				r.RunID, r.Status, r.Model, r.EpochsCompleted, r.PlannedEpochs,
				r.BestLoss, r.FinalTestLoss, r.StartedAt.Format(time.DateTime))
		}
	default:
		return errors.Newf("unknown record kind %q, want runs or labels", kind).
			Component("analysis").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}
