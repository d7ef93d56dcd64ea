package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "스키마 적용 (idempotent)",
	Long: `trade/market/data 스키마의 청산 엔진 테이블을 생성합니다.
여러 번 실행해도 안전합니다.

Example:
  go run ./cmd/exitctl migrate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.st.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("✅ Schema applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
