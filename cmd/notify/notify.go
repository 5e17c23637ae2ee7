package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/notification"
)

// Command returns a cobra command that sends a test notification through
// the configured push services.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		typ     string
		title   string
		message string
	)

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a test notification",
		Long: `Send a test notification through every configured push service.

Examples:
  carnet notify --type=info --title="Test" --message="Hello"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ntype notification.Type
			switch typ {
			case "error":
				ntype = notification.TypeError
			case "warning":
				ntype = notification.TypeWarning
			case "info":
				ntype = notification.TypeInfo
			default:
				return fmt.Errorf("invalid type: %s", typ)
			}

			service, err := notification.NewService(&settings.Notify)
			if err != nil {
				return err
			}
			if !service.Enabled() {
				return errors.Newf("no notification urls configured").
					Component("notify").
					Category(errors.CategoryConfiguration).
					Build()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := service.Notify(ctx, notification.New(ntype, title, message)); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Notification sent: type=%s title=%q\n", ntype, title)
			return nil
		},
	}

	cmd.Flags().StringVar(&typ, "type", "info", "Notification type: error|warning|info")
	cmd.Flags().StringVar(&title, "title", "Test Notification", "Notification title")
	cmd.Flags().StringVar(&message, "message", "This is a test push notification", "Notification message")

	return cmd
}
