package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/mklimuk/sensorpipe/cmd/dev/cmd"
)

func newLogger(debug bool) *slog.Logger {
	charm := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "dev",
	})
	charm.SetColorProfile(termenv.TrueColor)
	charm.SetLevel(log.InfoLevel)
	if debug {
		charm.SetLevel(log.DebugLevel)
		charm.SetReportCaller(true)
	}
	return slog.New(charm)
}

func main() {
	var debug bool
	root := &cobra.Command{
		Use:           "dev",
		Short:         "sensorpipe build and test tool",
		Long:          "Builds sensorpipe for the supported boards and runs the quality gates.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			slog.SetDefault(newLogger(debug))
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.AddCommand(
		cmd.BuildCmd(),
		cmd.TestCmd(),
		cmd.LintCmd(),
		cmd.IntegrationTestCmd(),
		cmd.CheckCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("dev failed", "error", err)
		os.Exit(1)
	}
}
