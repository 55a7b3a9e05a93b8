package cmd

import (
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

// board is a deployment target for the poller.
type board struct {
	os   string
	arch string
}

var boards = map[string]board{
	"nanopi": {os: "linux", arch: "arm64"},
	"rpi":    {os: "linux", arch: "arm"},
	"rpi64":  {os: "linux", arch: "arm64"},
	"amd64":  {os: "linux", arch: "amd64"},
}

func boardNames() []string {
	names := make([]string, 0, len(boards))
	for name := range boards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func BuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the magmux poller",
		Long: `Build the magmux poller natively or for one of the supported boards.

The MCP2221 USB bridge backend needs cgo; --no-usb builds a pure Go binary
that only talks to the kernel i2c-dev, periph and gobot backends.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			os := cmd.Flag("os").Value.String()
			arch := cmd.Flag("arch").Value.String()
			version := cmd.Flag("version").Value.String()
			crossOs := cmd.Flag("cross-os").Value.String()
			crossArch := cmd.Flag("cross-arch").Value.String()
			output := cmd.Flag("output").Value.String()
			noUSB, err := cmd.Flags().GetBool("no-usb")
			if err != nil {
				return fmt.Errorf("could not get no-usb flag: %w", err)
			}

			if name := cmd.Flag("board").Value.String(); name != "" {
				b, ok := boards[name]
				if !ok {
					return fmt.Errorf("unknown board %q, known boards: %v", name, boardNames())
				}
				crossOs, crossArch = b.os, b.arch
				if output == "" {
					output = "dist/magmux-" + name
				}
			}
			if output == "" {
				output = "dist/magmux"
			}

			// native toolchain, possibly cross-compiling a pure Go binary
			if os == runtime.GOOS && arch == runtime.GOARCH {
				if crossOs != "" && crossArch != "" {
					os = crossOs
					arch = crossArch
				}
				cgo := !noUSB && os == runtime.GOOS && arch == runtime.GOARCH
				if !cgo && !noUSB {
					slog.Warn("cross-compiling without cgo, the mcp2221 backend will not be available", "os", os, "arch", arch)
				}
				slog.Info("building magmux", "output", output, "os", os, "arch", arch, "cgo", cgo)
				return build.GoBuild(output, "./cmd/magmux", build.GoBuildOpts{
					Version:       version,
					InjectVersion: true,
					ConfigPackage: "main",
					EnableCgo:     cgo,
					Arch:          arch,
					OS:            os,
				})
			}

			noCache, err := cmd.Flags().GetBool("no-cache")
			if err != nil {
				return fmt.Errorf("could not get no-cache flag: %w", err)
			}
			dockerArgs := []string{"build", "--version", version, "--cross-os", crossOs, "--cross-arch", crossArch, "--output", output}
			if noUSB {
				dockerArgs = append(dockerArgs, "--no-usb")
			}
			return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", os, arch), dockerArgs, build.DockerBuildOpts{
				NoCache: noCache,
				Image:   "gophertribe/gobuild:1.25-bookworm",
			})
		},
	}
	cmd.Flags().Bool("no-cache", false, "do not use cache when building in docker")
	cmd.Flags().Bool("no-usb", false, "build without cgo and the mcp2221 usb backend")
	cmd.Flags().String("board", "", fmt.Sprintf("target board, one of %v", boardNames()))
	cmd.Flags().String("output", "", "binary path (default dist/magmux or dist/magmux-<board>)")
	cmd.Flags().String("version", "latest", "version of the poller")
	cmd.Flags().String("os", runtime.GOOS, "os of the build host")
	cmd.Flags().String("arch", runtime.GOARCH, "arch of the build host")
	cmd.Flags().String("cross-os", "", "os to cross-compile for")
	cmd.Flags().String("cross-arch", "", "arch to cross-compile for")

	return cmd
}
