package label

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/carnet-go/internal/analysis"
	"github.com/tphakala/carnet-go/internal/conf"
)

// Command creates the label command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "label [root]",
		Short: "Label car images with vehicle recognition results",
		Long: `Walk root and rename every image that does not carry a label yet to
<stem>_baidu_<label1>_<score1>_<year1>_<label2>_<score2>_<year2>.<ext>.
Tokens are used in order; the walk stops when the last one runs out of quota.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			root := ""
			if len(args) == 1 {
				root = args[0]
			}
			_, err := analysis.Label(ctx, settings, root, cmd.OutOrStdout())
			return err
		},
	}

	setupFlags(cmd, settings)

	return cmd
}

// setupFlags configures flags specific to the label command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	f := cmd.Flags()
	f.BoolVarP(&settings.Label.DryRun, "dry-run", "n", settings.Label.DryRun, "Log planned renames without renaming")
	f.StringSliceVar(&settings.Label.Extensions, "ext", settings.Label.Extensions, "Only label files with these extensions")
	f.StringSliceVar(&settings.Baidu.Tokens, "token", settings.Baidu.Tokens, "Access token, repeat for a pool")
	f.BoolVar(&settings.Label.Records, "records", settings.Label.Records, "Write label records to the datastore")

	for key, name := range map[string]string{
		"label.dryrun":     "dry-run",
		"label.extensions": "ext",
		"baidu.tokens":     "token",
		"label.records":    "records",
	} {
		_ = viper.BindPFlag(key, f.Lookup(name))
	}
}
