package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	envFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "exitctl",
	Short: "Aegis exit engine - 포지션 청산 리스크 컨트롤러",
	Long: `Aegis Exit Engine CLI

보유 포지션을 주기적으로 평가해 손절/익절/트레일링/타임스탑 조건이
충족되면 order intent를 생성합니다. 포지션당 active intent는 최대 1개.

Usage:
  go run ./cmd/exitctl [command]

Examples:
  go run ./cmd/exitctl run
  go run ./cmd/exitctl profile validate profiles.yaml
  go run ./cmd/exitctl control set PAUSE_PROFIT --reason "earnings"
  go run ./cmd/exitctl intent approve <intent-id>`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			return loadEnvFile(envFile)
		}
		return nil
	},
}

// Execute runs the root command; SIGINT/SIGTERM cancel the command context
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load before config (default: .env search)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
