package token

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/carnet-go/internal/analysis"
	"github.com/tphakala/carnet-go/internal/conf"
)

// Command creates the token command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Exchange the API key and secret for an access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return analysis.Token(ctx, settings, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&settings.Baidu.APIKey, "apikey", settings.Baidu.APIKey, "API key")
	cmd.Flags().StringVar(&settings.Baidu.SecretKey, "secretkey", settings.Baidu.SecretKey, "Secret key")
	_ = viper.BindPFlag("baidu.apikey", cmd.Flags().Lookup("apikey"))
	_ = viper.BindPFlag("baidu.secretkey", cmd.Flags().Lookup("secretkey"))

	return cmd
}
