package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/carnet-go/cmd/clean"
	"github.com/tphakala/carnet-go/cmd/label"
	"github.com/tphakala/carnet-go/cmd/notify"
	"github.com/tphakala/carnet-go/cmd/records"
	"github.com/tphakala/carnet-go/cmd/test"
	"github.com/tphakala/carnet-go/cmd/token"
	"github.com/tphakala/carnet-go/cmd/train"
	"github.com/tphakala/carnet-go/internal/buildinfo"
	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/logger"
	"github.com/tphakala/carnet-go/internal/telemetry"
)

const telemetryFlushTimeout = 2 * time.Second

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, build buildinfo.BuildInfo) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "carnet",
		Short:        "Car image model trainer and labelling agent",
		Version:      build.GetVersion(),
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate(fmt.Sprintf("carnet %s\n", buildinfo.NewContext(build.GetVersion(), build.GetBuildDate(), build.GetCommit())))

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Println(err)
	}

	rootCmd.AddCommand(
		train.Command(settings),
		test.Command(settings),
		label.Command(settings),
		clean.Command(settings),
		token.Command(settings),
		records.Command(settings),
		notify.Command(settings),
	)

	var central *logger.CentralLogger
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cl, err := initialize(settings)
		if err != nil {
			return err
		}
		central = cl

		// One trace id per invocation.
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cmd.SetContext(logger.WithTraceID(ctx, uuid.NewString()))
		return nil
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		telemetry.Shutdown(telemetryFlushTimeout)
		if central != nil {
			_ = central.Flush()
		}
	}

	return rootCmd
}

// initialize sets up logging and error reporting before any subcommand
// runs.
func initialize(settings *conf.Settings) (*logger.CentralLogger, error) {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = "debug"
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = "debug"
			cfg.Console = &console
		}
	}

	cl, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)

	if err := telemetry.Init(settings); err != nil {
		return nil, err
	}
	return cl, nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
