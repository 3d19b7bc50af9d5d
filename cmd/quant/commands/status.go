package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-backtest/internal/contracts"
	"github.com/wonny/aegis-backtest/internal/data/repos"
)

// backtestStatusCmd represents the backtest status subcommand
var backtestStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "테이블별 미완료 행 수",
	Long: `각 신호 테이블의 backlog(rate_100 IS NULL) 행 수를 표시합니다.

Features:
- 테이블별 pending 카운트
- --watch: 주기적 갱신 (--refresh 간격)
- Ctrl+C로 종료

Example:
  go run ./cmd/quant backtest status
  go run ./cmd/quant backtest status --watch --refresh 5s`,
	RunE: runBacktestStatus,
}

var (
	// Status flags
	statusWatch   bool
	statusRefresh time.Duration
)

func init() {
	backtestCmd.AddCommand(backtestStatusCmd)

	// Flags
	backtestStatusCmd.Flags().StringSliceVar(&backtestTables, "table", nil, "대상 테이블 (기본: 전체)")
	backtestStatusCmd.Flags().BoolVar(&statusWatch, "watch", false, "주기적으로 갱신")
	backtestStatusCmd.Flags().DurationVar(&statusRefresh, "refresh", 3*time.Second, "갱신 간격")
}

func runBacktestStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := initBacktestEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	tables, err := selectTables(env.layout, backtestTables)
	if err != nil {
		return err
	}

	signals := repos.NewSignalRepository(env.db.Pool)

	fmt.Println("=== Backtest Backlog Status ===")
	displayBacklog(ctx, signals, tables)

	if !statusWatch {
		return nil
	}

	ticker := time.NewTicker(statusRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\n✅ Status monitor stopped")
			return nil

		case <-ticker.C:
			// Clear screen (ANSI escape code)
			fmt.Print("\033[H\033[2J")

			fmt.Println("=== Backtest Backlog Status ===")
			fmt.Printf("Refresh: %v | Last update: %s\n", statusRefresh, time.Now().Format("15:04:05"))

			displayBacklog(ctx, signals, tables)
		}
	}
}

func displayBacklog(ctx context.Context, signals contracts.SignalRepository, tables []contracts.TableSpec) {
	widths := []int{28, 10}
	fmt.Println()
	PrintTableHeader([]string{"TABLE", "PENDING"}, widths)

	total := 0
	for _, t := range tables {
		n, err := signals.CountPending(ctx, t)
		if err != nil {
			PrintTableRow([]string{t.Name, "error"}, widths)
			PrintError(err.Error())
			continue
		}
		total += n
		PrintTableRow([]string{t.Name, strconv.Itoa(n)}, widths)
	}

	PrintSeparator()
	PrintTableRow([]string{"total", strconv.Itoa(total)}, widths)
	fmt.Println()
}
