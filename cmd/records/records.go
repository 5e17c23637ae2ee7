package records

import (

	"github.com/spf13/cobra"

	"github.com/tphakala/carnet-go/internal/analysis"
	"github.com/tphakala/carnet-go/internal/conf"
)

// Command creates the records command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		limit int
		runID string
	)

	cmd := &cobra.Command{
		Use:       "records [runs|labels]",
		Short:     "List training runs or label records from the datastore",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{analysis.RecordsRuns, analysis.RecordsLabels},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := analysis.RecordsRuns
			if len(args) == 1 {
				kind = args[0]
			}
			return analysis.Records(cmd.Context(), settings, kind, runID, limit, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum rows, 0 for all")
	cmd.Flags().StringVar(&runID, "run", "", "Show the epochs of one run")

	return cmd
}
