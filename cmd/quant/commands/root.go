package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	tablesFile string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quant",
	Short: "Aegis Backtest - 전략 신호 forward return 채우기",
	Long: `Aegis Backtest CLI

전략 신호 테이블의 rate_1..rate_100 컬럼을 일봉 종가로 채웁니다.
가격 패널 1회 로드 → 테이블별 병렬 처리 → 테이블당 배치 1회 쓰기.

Usage:
  go run ./cmd/quant [command]

Examples:
  go run ./cmd/quant backtest run
  go run ./cmd/quant backtest run --table cn_stock_strategy_buy --dry-run
  go run ./cmd/quant backtest status
  go run ./cmd/quant test-db`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&tablesFile, "tables", "", "table layout YAML (default is BACKTEST_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug log level)")
}
