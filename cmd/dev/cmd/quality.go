package cmd

import (
	"fmt"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func run(use, short string, fn func() error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fn(); err != nil {
				return fmt.Errorf("%s failed: %w", use, err)
			}
			return nil
		},
	}
}

// TestCmd runs the unit tests, which use the simulated radio and buses only.
func TestCmd() *cobra.Command {
	return run("test", "Run unit tests", test.Test)
}

func LintCmd() *cobra.Command {
	return run("lint", "Run linters", test.Lint)
}

// IntegrationTestCmd needs sensors and radios attached to the host.
func IntegrationTestCmd() *cobra.Command {
	return run("integration-test", "Run hardware integration tests", test.Integ)
}
