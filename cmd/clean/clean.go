package clean

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/tphakala/carnet-go/internal/analysis"
	"github.com/tphakala/carnet-go/internal/conf"
)

// Command creates the clean command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "clean [root]",
		Short: "Restore the dot in names like abcjpg",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := settings.Label.Root
			if len(args) == 1 {
				root = args[0]
			}
			_, err := analysis.Clean(afero.NewOsFs(), root, cmd.OutOrStdout())
			return err
		},
	}
}
