package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sensorpipe/config"
	"github.com/mklimuk/sensorpipe/snsctx"
)

var version string
var commit string
var date string

// logger is the charm handler behind slog.Default, kept to adjust the level
// once the configuration is known.
var logger *chlog.Logger

func main() {
	os.Exit(run())
}

func run() int {
	app := cli.NewApp()
	app.Name = "sensorpipe"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", version, date, commit)
	app.Usage = "sample I2C sensors and publish them to Signal K"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "configuration file; defaults to the built-in engine room pipeline",
			EnvVars: []string{config.EnvPrefix + "_CONFIG"},
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging and adapter traffic dumps",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		logger = chlog.NewWithOptions(os.Stdout, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		logger.SetColorProfile(termenv.TrueColor)
		logger.SetLevel(chlog.InfoLevel)
		if ctx.Bool("verbose") {
			logger.SetLevel(chlog.DebugLevel)
		}
		slog.SetDefault(slog.New(logger))
		return nil
	}
	app.Commands = cli.Commands{
		&runCmd,
		&validateCmd,
		&sampleCmd,
		&injectCmd,
		&adapterCmd,
	}
	err := app.Run(os.Args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			log.Printf("unexpected error: %v", err)
			return exerr.ExitCode()
		}
		log.Printf("error: %v", err)
		return 1
	}
	return 0
}

// loadConfig loads the --config file and applies its log settings unless
// --verbose already forced debug output.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if logger != nil && !c.Bool("verbose") && cfg.Log.Level != "" {
		level, err := chlog.ParseLevel(cfg.Log.Level)
		if err == nil {
			logger.SetLevel(level)
		}
	}
	return cfg, nil
}

func verbose(c *cli.Context, cfg *config.Config) bool {
	return c.Bool("verbose") || (cfg != nil && cfg.Log.Verbose)
}

// commandContext is the command's context tagged with the verbose flag.
func commandContext(c *cli.Context, cfg *config.Config) context.Context {
	return snsctx.SetVerbose(c.Context, verbose(c, cfg))
}
