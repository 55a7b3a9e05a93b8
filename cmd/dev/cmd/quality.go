package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

// simulatedTests are the end-to-end tests running the whole pipeline against the
// simulated bus.
var simulatedTests = []string{"-run", "Simulated|SimPipeline", "./poll", "./cmd/magmux"}

func TestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run unit tests, optionally only for the given packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				if err := test.Test(); err != nil {
					return fmt.Errorf("failed to run tests: %w", err)
				}
				return nil
			}
			race, err := cmd.Flags().GetBool("race")
			if err != nil {
				return fmt.Errorf("could not get race flag: %w", err)
			}
			goArgs := []string{"test", "-count=1"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			if err := goCommand(cmd.Context(), append(goArgs, args...)...); err != nil {
				return fmt.Errorf("failed to run tests for %v: %w", args, err)
			}
			return nil
		},
	}
	cmd.Flags().Bool("race", false, "enable the race detector for package tests")
	return cmd
}

func LintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Run linting",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := test.Lint()
			if err != nil {
				return fmt.Errorf("failed to run linting: %w", err)
			}
			return nil
		},
	}
	return cmd
}

func IntegrationTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integration-test",
		Short: "Run the end-to-end tests against the simulated bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				return fmt.Errorf("could not get verbose flag: %w", err)
			}
			goArgs := []string{"test", "-count=1"}
			if verbose {
				goArgs = append(goArgs, "-v")
			}
			slog.Info("running simulated bus tests", "packages", simulatedTests[2:])
			if err := goCommand(cmd.Context(), append(goArgs, simulatedTests...)...); err != nil {
				return fmt.Errorf("failed to run integration testing: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().Bool("verbose", false, "print every test")
	return cmd
}

// goCommand runs the go tool with the terminal attached.
func goCommand(ctx context.Context, args ...string) error {
	slog.Debug("go", "args", args)
	run := exec.CommandContext(ctx, "go", args...)
	run.Stdin = os.Stdin
	run.Stdout = os.Stdout
	run.Stderr = os.Stderr
	return run.Run()
}
