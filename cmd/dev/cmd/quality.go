package cmd

import (
	"fmt"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

// checks bundles the quality gates run before a release.
var checks = []struct {
	name string
	run  func() error
}{
	{"lint", test.Lint},
	{"unit tests", test.Test},
}

func TestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Run unit tests of every package",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Test(); err != nil {
				return fmt.Errorf("unit tests failed: %w", err)
			}
			return nil
		},
	}
}

func LintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Run linters",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Lint(); err != nil {
				return fmt.Errorf("lint failed: %w", err)
			}
			return nil
		},
	}
}

// IntegrationTestCmd runs the tests that need a sensor attached through an
// MCP2221 adapter or a board I2C bus.
func IntegrationTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "integration-test",
		Short: "Run hardware integration tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Integ(); err != nil {
				return fmt.Errorf("integration tests failed: %w", err)
			}
			return nil
		},
	}
}

func CheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run lint and unit tests, stopping at the first failure",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, c := range checks {
				if err := c.run(); err != nil {
					return fmt.Errorf("%s failed: %w", c.name, err)
				}
			}
			return nil
		},
	}
}
