package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/sensorpipe/adapter"
	"github.com/mklimuk/sensorpipe/cmd/sensorpipe/console"
	"github.com/mklimuk/sensorpipe/snsctx"
)

var adapterCmd = cli.Command{
	Name:  "adapter",
	Usage: "MCP2221 USB-I2C adapter utilities",
	Subcommands: cli.Commands{
		&adapterLsCmd,
		&adapterStatusCmd,
		&adapterReleaseCmd,
	},
}

var adapterIndexFlag = &cli.IntFlag{
	Name:  "index",
	Usage: "adapter index from 'adapter ls'; -1 picks the only one attached",
	Value: -1,
}

var adapterLsCmd = cli.Command{
	Name:  "ls",
	Usage: "list attached adapters",
	Action: func(c *cli.Context) error {
		devices := adapter.Enumerate()
		if len(devices) == 0 {
			console.Warnf("no MCP2221 adapter found")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 8, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "INDEX\tPATH\tSERIAL\tPRODUCT\n")
		for _, dev := range devices {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", dev.Index, dev.Path, dev.Serial, dev.Product)
		}
		_ = w.Flush()
		return nil
	},
}

var adapterStatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the I2C engine status",
	Flags: []cli.Flag{adapterIndexFlag},
	Action: func(c *cli.Context) error {
		return withAdapter(c, func(ctx context.Context, a *adapter.MCP2221) (*adapter.MCP2221Status, error) {
			return a.Status(ctx)
		})
	},
}

var adapterReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current transfer and free the bus",
	Flags: []cli.Flag{adapterIndexFlag},
	Action: func(c *cli.Context) error {
		return withAdapter(c, func(ctx context.Context, a *adapter.MCP2221) (*adapter.MCP2221Status, error) {
			return a.ReleaseBus(ctx)
		})
	},
}

func withAdapter(c *cli.Context, fn func(ctx context.Context, a *adapter.MCP2221) (*adapter.MCP2221Status, error)) error {
	ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))
	a, err := adapter.Open(c.Int("index"))
	if err != nil {
		return console.Exit(1, "adapter initialization error: %s", console.Red(err))
	}
	defer func() { _ = a.Close() }()
	status, err := fn(ctx, a)
	if err != nil {
		return console.Exit(1, "adapter communication error: %s", console.Red(err))
	}
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	if err := enc.Encode(status); err != nil {
		return console.Exit(1, "encoding error: %s", console.Red(err))
	}
	return nil
}
