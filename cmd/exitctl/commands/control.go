package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

// controlCmd groups kill switch commands
var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "전역 청산 제어 모드 (kill switch)",
	Long: `전역 제어 모드를 조회/변경합니다.

Modes:
  RUNNING            정상
  PAUSE_ALL          HARDSTOP만 허용
  PAUSE_PROFIT       익절 계열 차단, 손절 허용
  EMERGENCY_FLATTEN  모든 포지션 전량 청산 intent

Example:
  go run ./cmd/exitctl control get
  go run ./cmd/exitctl control set PAUSE_ALL --reason "broker outage"`,
}

var controlGetCmd = &cobra.Command{
	Use:   "get",
	Short: "현재 모드 조회",
	Args:  cobra.NoArgs,
	RunE:  runControlGet,
}

var controlSetCmd = &cobra.Command{
	Use:   "set <mode>",
	Short: "모드 변경",
	Args:  cobra.ExactArgs(1),
	RunE:  runControlSet,
}

var controlReason string

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.AddCommand(controlGetCmd, controlSetCmd)

	controlSetCmd.Flags().StringVar(&controlReason, "reason", "", "변경 사유")
}

func printControl(ctrl *contracts.ExitControl) {
	printHeader("Exit Control")
	printRow("Mode", string(ctrl.Mode))
	printRow("Reason", ctrl.Reason)
	printRow("Updated by", ctrl.UpdatedBy)
	if !ctrl.UpdatedTS.IsZero() {
		printRow("Updated at", ctrl.UpdatedTS.Format("2006-01-02 15:04:05"))
	}
	printFooter()
}

func runControlGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	ctrl, err := c.st.GetControl(ctx)
	if err != nil {
		return err
	}
	printControl(ctrl)
	return nil
}

func runControlSet(cmd *cobra.Command, args []string) error {
	mode := contracts.ControlMode(strings.ToUpper(args[0]))
	if !mode.Valid() {
		return fmt.Errorf("❌ unknown mode %q", args[0])
	}

	ctx := cmd.Context()
	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	ctrl, err := c.governor.Set(ctx, mode, controlReason, operatorName())
	if err != nil {
		return err
	}
	printControl(ctrl)
	return nil
}
