package cmd

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

// boards maps the supported single board computers to their GOOS/GOARCH.
var boards = map[string][2]string{
	"nanopi-neo": {"linux", "arm"},
	"rpi":        {"linux", "arm64"},
}

func BuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the newjoy cli",
		Long: `Build dist/newjoy. Native builds run go build directly, anything else
runs the same command inside the cross compilation image.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			goos, _ := flags.GetString("os")
			goarch, _ := flags.GetString("arch")
			version, _ := flags.GetString("version")
			crossOS, _ := flags.GetString("cross-os")
			crossArch, _ := flags.GetString("cross-arch")
			if board, _ := flags.GetString("board"); board != "" {
				target, ok := boards[board]
				if !ok {
					return fmt.Errorf("unknown board %q", board)
				}
				crossOS, crossArch = target[0], target[1]
			}

			if goos == runtime.GOOS && goarch == runtime.GOARCH {
				if crossOS != "" && crossArch != "" {
					goos, goarch = crossOS, crossArch
				}
				slog.Info("building", "os", goos, "arch", goarch, "version", version)
				// hid and periph need cgo
				return build.GoBuild("dist/newjoy", "./cmd/newjoy", build.GoBuildOpts{
					Version:       version,
					InjectVersion: true,
					ConfigPackage: "github.com/mklimuk/newjoy/pkg/config",
					EnableCgo:     true,
					Arch:          goarch,
					OS:            goos,
				})
			}

			noCache, err := flags.GetBool("no-cache")
			if err != nil {
				return fmt.Errorf("could not get no-cache flag: %w", err)
			}
			return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", goos, goarch),
				[]string{"build", "--version", version, "--cross-os", crossOS, "--cross-arch", crossArch},
				build.DockerBuildOpts{
					NoCache: noCache,
					Image:   "gophertribe/gobuild:1.25-bookworm",
				})
		},
	}
	cmd.Flags().Bool("no-cache", false, "do not use cache when building the image")
	cmd.Flags().String("version", "latest", "version stamped into the binary")
	cmd.Flags().String("os", runtime.GOOS, "os to build for")
	cmd.Flags().String("arch", runtime.GOARCH, "arch to build for")
	cmd.Flags().String("cross-os", "", "os to cross-compile for")
	cmd.Flags().String("cross-arch", "", "arch to cross-compile for")
	cmd.Flags().String("board", "", "cross-compile for a board: nanopi-neo or rpi")
	return cmd
}
