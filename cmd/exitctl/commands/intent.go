package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/exit"
)

// intentCmd groups order intent commands
var intentCmd = &cobra.Command{
	Use:   "intent",
	Short: "order intent 조회/승인/취소",
	Long: `order intent를 조회하거나 승인/취소합니다.

Example:
  go run ./cmd/exitctl intent list --active
  go run ./cmd/exitctl intent approve 7f1c...
  go run ./cmd/exitctl intent cancel 7f1c...`,
}

var intentListCmd = &cobra.Command{
	Use:   "list",
	Short: "최근 intent 조회",
	Args:  cobra.NoArgs,
	RunE:  runIntentList,
}

var intentApproveCmd = &cobra.Command{
	Use:   "approve <intent-id>",
	Short: "PENDING_APPROVAL → NEW",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIntentTransition(cmd, args[0], func(c *components, id uuid.UUID) error {
			return c.emitter.Approve(cmd.Context(), id, operatorName())
		})
	},
}

var intentCancelCmd = &cobra.Command{
	Use:   "cancel <intent-id>",
	Short: "active intent 취소",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIntentTransition(cmd, args[0], func(c *components, id uuid.UUID) error {
			return c.emitter.Cancel(cmd.Context(), id, operatorName())
		})
	},
}

var (
	intentActiveOnly bool
	intentLimit      int
)

func init() {
	rootCmd.AddCommand(intentCmd)
	intentCmd.AddCommand(intentListCmd, intentApproveCmd, intentCancelCmd)

	intentListCmd.Flags().BoolVar(&intentActiveOnly, "active", false, "active intent만 (PENDING_APPROVAL, NEW, ACK)")
	intentListCmd.Flags().IntVar(&intentLimit, "limit", 20, "최대 개수")
}

func runIntentList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	f := exit.IntentFilter{Limit: intentLimit}
	if intentActiveOnly {
		f.Statuses = contracts.ActiveIntentStatuses[:]
	}
	intents, err := c.st.ListIntents(ctx, f)
	if err != nil {
		return err
	}

	printHeader(fmt.Sprintf("Order Intents (%d)", len(intents)))
	for _, in := range intents {
		fmt.Printf("  %s  %-16s %-10s %-14s qty=%-6d %s\n",
			in.IntentID, in.Status, in.Symbol, in.ReasonCode, in.Qty, in.CreatedTS.Format("01-02 15:04:05"))
	}
	printFooter()
	return nil
}

func runIntentTransition(cmd *cobra.Command, rawID string, apply func(*components, uuid.UUID) error) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("❌ invalid intent id: %w", err)
	}

	c, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	if err := apply(c, id); err != nil {
		return fmt.Errorf("❌ %w", err)
	}
	in, err := c.st.GetIntent(cmd.Context(), id)
	if err != nil {
		return err
	}
	fmt.Printf("✅ %s → %s\n", in.IntentID, in.Status)
	return nil
}
