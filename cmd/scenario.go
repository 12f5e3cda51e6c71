package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/emsdispatch/infra/logger"
	"github.com/kilianp07/emsdispatch/qa/scenarios"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario [file...]",
	Short: "Replay dispatch scenarios against an in-memory store",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runScenarios,
}

func init() {
	rootCmd.AddCommand(scenarioCmd)
}

func runScenarios(cmd *cobra.Command, args []string) error {
	failed := 0
	for _, path := range args {
		sc, err := scenarios.Load(path)
		if err != nil {
			return err
		}
		res, err := scenarios.Run(context.Background(), sc, logger.NopLogger{})
		if err != nil {
			return fmt.Errorf("%s: %w", sc.Name, err)
		}
		if res.Passed() {
			fmt.Fprintf(cmd.OutOrStdout(), "PASS %s (%d steps)\n", res.Name, res.Steps)
			continue
		}
		failed++
		fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s\n", res.Name)
		for _, f := range res.Failures {
			fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", f)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d scenario(s) failed", failed)
	}
	return nil
}
