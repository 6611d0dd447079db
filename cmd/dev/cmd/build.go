package cmd

import (
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

const (
	binary      = "dist/sensorpipe"
	mainPackage = "./cmd/sensorpipe"
	buildImage  = "gophertribe/gobuild:1.25-bookworm"
)

type platform struct {
	os   string
	arch string
}

// boards maps the supported single board computers to their platforms.
var boards = map[string]platform{
	"nanopi-neo": {os: "linux", arch: "arm"},
	"nanopi-r2s": {os: "linux", arch: "arm64"},
	"rpi4":       {os: "linux", arch: "arm64"},
}

func boardNames() string {
	names := make([]string, 0, len(boards))
	for name := range boards {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func BuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the sensorpipe binary",
		Long: "Build the sensorpipe binary natively or, for a foreign platform, inside\n" +
			"the build container. cgo stays enabled for the MCP2221 HID driver.",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := platform{
				os:   cmd.Flag("os").Value.String(),
				arch: cmd.Flag("arch").Value.String(),
			}
			version := cmd.Flag("version").Value.String()
			if board := cmd.Flag("board").Value.String(); board != "" {
				p, ok := boards[board]
				if !ok {
					return fmt.Errorf("unknown board %q, expected one of: %s", board, boardNames())
				}
				target = p
			}
			crossOs := cmd.Flag("cross-os").Value.String()
			crossArch := cmd.Flag("cross-arch").Value.String()

			if target.os == runtime.GOOS && target.arch == runtime.GOARCH {
				if crossOs != "" && crossArch != "" {
					target = platform{os: crossOs, arch: crossArch}
				}
				slog.Info("building", "output", binary, "os", target.os, "arch", target.arch, "version", version)
				return build.GoBuild(binary, mainPackage, build.GoBuildOpts{
					Version:       version,
					InjectVersion: true,
					ConfigPackage: "main",
					EnableCgo:     true,
					Arch:          target.arch,
					OS:            target.os,
				})
			}

			noCache, err := cmd.Flags().GetBool("no-cache")
			if err != nil {
				return fmt.Errorf("could not get no-cache flag: %w", err)
			}
			// the container runs this tool natively and cross compiles from there
			slog.Info("building in container", "image", buildImage, "os", target.os, "arch", target.arch)
			return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", target.os, target.arch),
				[]string{"build", "--version", version, "--cross-os", target.os, "--cross-arch", target.arch},
				build.DockerBuildOpts{
					NoCache: noCache,
					Image:   buildImage,
				})
		},
	}
	cmd.Flags().Bool("no-cache", false, "do not use cache when building in the container")
	cmd.Flags().String("version", "latest", "version of the binary")
	cmd.Flags().String("os", runtime.GOOS, "os to build for")
	cmd.Flags().String("arch", runtime.GOARCH, "arch to build for")
	cmd.Flags().String("board", "", "board preset, one of: "+boardNames())
	cmd.Flags().String("cross-os", "", "os to cross-compile for")
	cmd.Flags().String("cross-arch", "", "arch to cross-compile for")

	return cmd
}
