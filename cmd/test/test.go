package test

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/carnet-go/internal/analysis"
	"github.com/tphakala/carnet-go/internal/conf"
)

// Command creates the test command.
func Command(settings *conf.Settings) *cobra.Command {
	var diagnostics bool

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Evaluate the checkpoint on the test set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, err := analysis.Test(ctx, settings, diagnostics, cmd.OutOrStdout())
			return err
		},
	}

	setupFlags(cmd, &settings.Train)
	cmd.Flags().BoolVar(&diagnostics, "diagnostics", false, "Draw predictions over every test image")

	return cmd
}

// setupFlags configures the settings-backed flags of the test command.
func setupFlags(cmd *cobra.Command, s *conf.TrainSettings) {
	f := cmd.Flags()
	f.StringVar(&s.TestPath, "testpath", s.TestPath, "Test set directory")
	f.StringVarP(&s.Checkpoint, "checkpoint", "c", s.Checkpoint, "Checkpoint path")
	f.StringVar(&s.DiagnosticsDir, "diagnosticsdir", s.DiagnosticsDir, "Diagnostics output directory")

	for _, name := range []string{"testpath", "checkpoint", "diagnosticsdir"} {
		_ = viper.BindPFlag("train."+name, f.Lookup(name))
	}
}
