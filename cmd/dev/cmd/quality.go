package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func TestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Run unit tests, drivers run against the simulated bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Test(); err != nil {
				return fmt.Errorf("failed to run tests: %w", err)
			}
			return nil
		},
	}
}

func LintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Run linting",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Lint(); err != nil {
				return fmt.Errorf("failed to run linting: %w", err)
			}
			return nil
		},
	}
}

// smokeRuns lists the busdev invocations checked by the smoke command.
// Adapter specific commands are added for real hardware.
func smokeRuns(adapter string) [][]string {
	busdev := func(args ...string) []string {
		return append([]string{"--adapter", adapter}, args...)
	}
	runs := [][]string{busdev("scan")}
	switch adapter {
	case "sim":
		runs = append(runs, busdev("temperature"), busdev("gpio", "status"))
	case "mcp2221":
		runs = append(runs, busdev("mcp2221", "status"))
	}
	return runs
}

// SmokeCmd runs the built busdev binary against a bus, the simulated one
// unless an adapter is given.
func SmokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run the built busdev binary against a bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, _ := cmd.Flags().GetString("adapter")
			if _, err := os.Stat(binaryPath); err != nil {
				return fmt.Errorf("busdev binary not found, run dev build first: %w", err)
			}
			for _, run := range smokeRuns(adapter) {
				slog.Info("running busdev", "args", run)
				busdev := exec.CommandContext(cmd.Context(), binaryPath, run...)
				busdev.Stdout = os.Stdout
				busdev.Stderr = os.Stderr
				if err := busdev.Run(); err != nil {
					return fmt.Errorf("busdev %v failed: %w", run, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().String("adapter", "sim", "bus adapter: sim, mcp2221, generic or nanopi")
	return cmd
}
