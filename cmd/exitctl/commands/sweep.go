package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// sweepCmd runs exactly one cycle
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "1회 평가 (가격 갱신 → 전체 포지션 평가)",
	Long: `스케줄러 없이 한 번만 평가합니다. 운영 점검/장애 복구용.

Example:
  go run ./cmd/exitctl sweep`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	updated, err := c.poller.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh prices: %w", err)
	}

	res, err := c.engine.Sweep(ctx)
	if err != nil {
		return err
	}

	printHeader("Exit Sweep")
	printRow("Mode", string(res.Mode))
	printRow("Prices updated", updated)
	printRow("Positions", res.Positions)
	printRow("Evaluated", res.Evaluated)
	printRow("Intents", res.Intents)
	printRow("Skipped", res.Skipped)
	printRow("Errors", res.Errors)
	printRow("Archived", res.Archived)
	printRow("Duration", res.Duration.String())
	printFooter()
	return nil
}
