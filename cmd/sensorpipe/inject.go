package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sensorpipe"
	"github.com/mklimuk/sensorpipe/cmd/sensorpipe/console"
	"github.com/mklimuk/sensorpipe/config"
	"github.com/mklimuk/sensorpipe/sink"
)

var injectCmd = cli.Command{
	Name:  "inject",
	Usage: "publish values typed at a prompt, for testing the Signal K link",
	Description: "Each line is either a value, published at the current path, or\n" +
		"'<path> <value>'. 'path <path>' changes the current path; 'exit' quits.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "path",
			Usage: "initial path, defaults to the first configured sink",
		},
		&cli.DurationFlag{
			Name:  "wait",
			Usage: "how long to wait for the connection",
			Value: 10 * time.Second,
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}
		ctx, cancel := context.WithCancel(commandContext(c, cfg))
		defer cancel()

		transport, runTransport, err := newTransport(ctx, cfg.SignalK, false)
		if err != nil {
			return console.Exit(1, "signalk error: %s", console.Red(err))
		}
		done := make(chan struct{})
		if runTransport != nil {
			go func() {
				defer close(done)
				_ = runTransport(ctx)
			}()
		} else {
			close(done)
		}
		defer func() {
			cancel()
			<-done
		}()
		if err := awaitConnected(ctx, transport, c.Duration("wait")); err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}

		paths := configuredPaths(cfg)
		session := &injectSession{transport: transport, known: paths, path: c.String("path")}
		if session.path == "" && len(paths) > 0 {
			session.path = paths[0]
		}
		shell, err := console.NewShell("> ", append([]string{"path", "exit"}, paths...)...)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		defer shell.Close()
		console.PInfof(console.PictoPin, "publishing to %s", console.White(session.path))
		for {
			line, err := shell.Readline()
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) || line == "exit" {
				console.PInfof(console.PictoStop, "bye")
				return nil
			}
			if err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			if line == "" {
				continue
			}
			msg, err := session.handle(ctx, line, confirmUnknownPath)
			if err != nil {
				console.Errorf("%s", err)
				continue
			}
			if msg != "" {
				console.PInfof(console.PictoPin, "%s", msg)
			}
		}
	},
}

func awaitConnected(ctx context.Context, transport sink.Transport, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for !transport.Connected() {
		if time.Now().After(deadline) {
			return fmt.Errorf("not connected after %s", wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

func configuredPaths(cfg *config.Config) []string {
	var paths []string
	for _, p := range cfg.Pipelines {
		for _, s := range p.Sinks {
			if !slices.Contains(paths, s.Path) {
				paths = append(paths, s.Path)
			}
		}
	}
	return paths
}

func confirmUnknownPath(path string) bool {
	answer, err := console.YesOrNo(fmt.Sprintf("%s is not a configured path, publish anyway?", path))
	return err == nil && answer == console.Yes
}

// injectSession interprets prompt lines.
type injectSession struct {
	transport sink.Transport
	known     []string
	path      string
}

func (s *injectSession) handle(ctx context.Context, line string, confirm func(path string) bool) (string, error) {
	fields := strings.Fields(line)
	if fields[0] == "path" {
		if len(fields) != 2 {
			return "", fmt.Errorf("usage: path <path>")
		}
		s.path = fields[1]
		return "publishing to " + s.path, nil
	}
	path := s.path
	raw := fields[0]
	if len(fields) == 2 {
		path, raw = fields[0], fields[1]
	} else if len(fields) > 2 {
		return "", fmt.Errorf("expected '<value>' or '<path> <value>'")
	}
	if path == "" {
		return "", fmt.Errorf("no path set, use 'path <path>'")
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", fmt.Errorf("invalid value %q", raw)
	}
	if !slices.Contains(s.known, path) && !confirm(path) {
		return "", nil
	}
	err = s.transport.Publish(ctx, path, sensorpipe.Reading{Value: value, Timestamp: time.Now()})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s = %v", path, value), nil
}
