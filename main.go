package main

import (
	"fmt"
	"os"

	"github.com/tphakala/carnet-go/cmd"
	"github.com/tphakala/carnet-go/internal/buildinfo"
	"github.com/tphakala/carnet-go/internal/conf"
)

// buildDate, version and commit are set at build time with -ldflags
var (
	buildDate string
	version   string
	commit    string
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	build := buildinfo.NewContext(version, buildDate, commit)
	settings.Version = build.GetVersion()

	rootCmd := cmd.RootCommand(settings, build)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
