package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/inference-sim/inference-scheduler/scheduler"
)

var failUnhealthy bool // Exit non-zero when the cluster is unhealthy

// healthCmd runs one health check and prints the report.
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run one cluster health check and print the report as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHealth(cmd.Context(), configPath, failUnhealthy, cmd.OutOrStdout())
	},
}

func init() {
	healthCmd.Flags().BoolVar(&failUnhealthy, "fail-unhealthy", false, "Exit with an error when the cluster status is unhealthy")
}

func runHealth(ctx context.Context, path string, failOnUnhealthy bool, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	bundle, err := loadBundle(path)
	if err != nil {
		return err
	}
	s, err := buildStack(bundle, stackOptions{})
	if err != nil {
		return err
	}
	report, err := s.health.CheckHealth(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(w, report); err != nil {
		return err
	}
	if failOnUnhealthy && report.Status == scheduler.HealthUnhealthy {
		return fmt.Errorf("cluster is unhealthy: %d issue(s)", len(report.Issues))
	}
	return nil
}
