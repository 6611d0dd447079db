package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sensorpipe/cmd/sensorpipe/console"
	"github.com/mklimuk/sensorpipe/config"
)

var validateCmd = cli.Command{
	Name:  "validate",
	Usage: "check the configuration and list pipelines",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}
		printPipelines(console.Output(), cfg)
		console.Printf("%s\n", console.Green("configuration ok"))
		return nil
	},
}

func printPipelines(out io.Writer, cfg *config.Config) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "NAME\tSENSOR\tADDRESS\tQUANTITY\tINTERVAL\tTRANSFORMS\tSINKS\n")
	for _, p := range cfg.Pipelines {
		transforms := make([]string, 0, len(p.Transforms))
		for _, t := range p.Transforms {
			if t.Arg != 0 {
				transforms = append(transforms, fmt.Sprintf("%s(%v)", t.Name, t.Arg))
				continue
			}
			transforms = append(transforms, t.Name)
		}
		sinks := make([]string, 0, len(p.Sinks))
		for _, s := range p.Sinks {
			policy := s.Policy
			if policy == "" {
				policy = "drop"
			}
			sinks = append(sinks, fmt.Sprintf("%s[%s]", s.Path, policy))
		}
		address := "-"
		if p.Address != 0 {
			address = fmt.Sprintf("%#x", p.Address)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Name, p.Sensor, address, p.Measures(), p.Interval, strings.Join(transforms, ","), strings.Join(sinks, ","))
	}
	_ = w.Flush()
}
