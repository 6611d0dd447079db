package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sensorpipe"
	"github.com/mklimuk/sensorpipe/cmd/sensorpipe/console"
	"github.com/mklimuk/sensorpipe/config"
)

var sampleCmd = cli.Command{
	Name:      "sample",
	Aliases:   []string{"read", "rd"},
	Usage:     "read a pipeline's source once and print the transformed value",
	ArgsUsage: "[pipeline]",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "count",
			Usage: "number of samples",
			Value: 1,
		},
		&cli.DurationFlag{
			Name:  "every",
			Usage: "delay between samples, defaults to the pipeline interval",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}
		ctx := commandContext(c, cfg)
		pc, err := findPipeline(cfg, c.Args().First())
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}
		bus, closeBus, err := openBus(ctx, cfg.Bus)
		if err != nil {
			return console.Exit(1, "bus initialization error: %s", console.Red(err))
		}
		defer func() {
			if err := closeBus(); err != nil {
				console.Errorf("error closing bus: %s", console.Red(err))
			}
		}()
		src, err := newSource(bus, pc)
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}
		transforms, err := pc.BuildTransforms()
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}
		chain := sensorpipe.Chain(transforms...)
		every := pc.Interval
		if c.IsSet("every") {
			every = c.Duration("every")
		}

		failed := 0
		for i := 0; i < c.Int("count"); i++ {
			if i > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(every):
				}
			}
			raw, err := src.Sample(ctx)
			if err != nil {
				failed++
				console.Errorf("error reading %s: %s", pc.Name, console.Red(err))
				continue
			}
			console.PInfof(picto(pc), "%s raw %s -> %s", pc.Name, console.Faint(raw), console.White(chain(raw)))
		}
		if failed > 0 {
			return console.Exit(1, "%d of %d samples failed", failed, c.Int("count"))
		}
		return nil
	},
}

func picto(p config.PipelineConfig) string {
	switch p.Measures() {
	case config.QuantityHumidity:
		return console.PictoHumidity
	case config.QuantityIlluminance:
		return console.PictoLight
	case config.QuantityPressure:
		return console.PictoGauge
	default:
		return console.PictoThermometer
	}
}
