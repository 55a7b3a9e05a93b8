package cmd

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"
)

func SimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run magmux against the simulated bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			muxes, err := cmd.Flags().GetInt("muxes")
			if err != nil {
				return fmt.Errorf("could not get muxes flag: %w", err)
			}
			sensors, err := cmd.Flags().GetInt("sensors")
			if err != nil {
				return fmt.Errorf("could not get sensors flag: %w", err)
			}
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("could not get format flag: %w", err)
			}
			runArgs := []string{"run", "./cmd/magmux", "run",
				"--backend", "sim",
				"--muxes", strconv.Itoa(muxes),
				"--sensors", strconv.Itoa(sensors),
				"--format", format,
				"--interval", "500ms",
			}
			slog.Info("starting simulated poller", "muxes", muxes, "sensors", sensors, "format", format)
			if err := goCommand(cmd.Context(), runArgs...); err != nil {
				return fmt.Errorf("simulated poller failed: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().Int("muxes", 2, "number of simulated multiplexers")
	cmd.Flags().Int("sensors", 4, "sensors per multiplexer")
	cmd.Flags().String("format", "plain", "output format")
	return cmd
}
