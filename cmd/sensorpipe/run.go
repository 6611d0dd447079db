package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sensorpipe/cmd/sensorpipe/console"
	"github.com/mklimuk/sensorpipe/metrics"
	"github.com/mklimuk/sensorpipe/pipeline"
)

var runCmd = cli.Command{
	Name:  "run",
	Usage: "sample configured pipelines until interrupted",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "log readings instead of sending them to Signal K",
		},
		&cli.DurationFlag{
			Name:  "tick",
			Usage: "scheduler resolution, overrides the configuration",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}
		ctx, stop := signal.NotifyContext(commandContext(c, cfg), os.Interrupt, syscall.SIGTERM)
		defer stop()

		bus, closeBus, err := openBus(ctx, cfg.Bus)
		if err != nil {
			return console.Exit(1, "bus initialization error: %s", console.Red(err))
		}
		defer func() {
			if err := closeBus(); err != nil {
				console.Errorf("error closing bus: %s", console.Red(err))
			}
		}()

		transport, runTransport, err := newTransport(ctx, cfg.SignalK, c.Bool("dry-run"))
		if err != nil {
			return console.Exit(1, "signalk error: %s", console.Red(err))
		}
		pipelines, err := buildPipelines(cfg, bus, transport)
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}

		collector := metrics.New()
		sched := pipeline.NewScheduler(pipeline.WithObserver(collector))
		for _, p := range pipelines {
			if err := sched.Register(p); err != nil {
				return console.Exit(2, "%s", console.Red(err))
			}
		}
		if err := collector.WatchSinks(sched.Sinks()); err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}

		var wg sync.WaitGroup
		background := func(name string, fn func(ctx context.Context) error) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := fn(ctx); err != nil {
					console.Errorf("%s stopped: %s", name, console.Red(err))
					stop()
				}
			}()
		}
		if runTransport != nil {
			console.PInfof(console.PictoKey, "publishing to %s", console.White(cfg.SignalK.URL))
			background("signalk", runTransport)
		} else {
			console.Infof("no Signal K server, values are logged only")
		}
		if cfg.Metrics.Listen != "" {
			console.Infof("metrics on %s/metrics", cfg.Metrics.Listen)
			background("metrics", func(ctx context.Context) error {
				return collector.Serve(ctx, cfg.Metrics.Listen)
			})
		}

		tick := cfg.Tick
		if c.IsSet("tick") {
			tick = c.Duration("tick")
		}
		console.PInfof(console.PictoPlug, "running %d pipeline(s), tick %s", len(pipelines), tick)
		err = sched.Run(ctx, tick)
		stop()
		wg.Wait()
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}
		console.PInfof(console.PictoFinish, "stopped")
		return nil
	},
}
