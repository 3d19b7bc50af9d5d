package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-backtest/internal/backtest"
	"github.com/wonny/aegis-backtest/internal/backtestconfig"
	"github.com/wonny/aegis-backtest/internal/cache"
	"github.com/wonny/aegis-backtest/internal/contracts"
	"github.com/wonny/aegis-backtest/internal/data/repos"
	"github.com/wonny/aegis-backtest/internal/s0_data"
	"github.com/wonny/aegis-backtest/internal/s0_data/quality"
	"github.com/wonny/aegis-backtest/pkg/config"
	"github.com/wonny/aegis-backtest/pkg/database"
	"github.com/wonny/aegis-backtest/pkg/logger"
)

// backtestCmd represents the backtest command
var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "전략 신호 forward return 채우기",
	Long: `신호 테이블의 미완료 행(rate_100 IS NULL)에 대해
신호일 종가 대비 1..100 거래일 후 수익률(%)을 계산하여 기록합니다.

Example:
  go run ./cmd/quant backtest run
  go run ./cmd/quant backtest run --lookback 200
  go run ./cmd/quant backtest status`,
}

var (
	backtestRunCmd = &cobra.Command{
		Use:   "run",
		Short: "forward return 채우기 실행",
		Long: `가격 패널을 1회 로드한 뒤 대상 테이블을 병렬로 처리합니다.

Flags:
  --table      대상 테이블 (반복 가능, 기본: 설정된 전체)
  --dry-run    계산만 하고 쓰지 않음
  --lookback   패널 조회 기간 (일, 기본: BACKTEST_LOOKBACK_DAYS)

테이블 단위 실패는 결과 표에만 표시되고 종료 코드는 0입니다.
작업 자체를 시작할 수 없을 때만 실패로 종료합니다.

Example:
  go run ./cmd/quant backtest run
  go run ./cmd/quant backtest run --table cn_stock_strategy_buy --dry-run`,
		RunE: runBacktest,
	}

	// Flags
	backtestTables   []string
	backtestDryRun   bool
	backtestLookback int
)

func init() {
	rootCmd.AddCommand(backtestCmd)
	backtestCmd.AddCommand(backtestRunCmd)

	// Flags
	backtestRunCmd.Flags().StringSliceVar(&backtestTables, "table", nil, "대상 테이블 (기본: 전체)")
	backtestRunCmd.Flags().BoolVar(&backtestDryRun, "dry-run", false, "계산만 하고 쓰지 않음")
	backtestRunCmd.Flags().IntVar(&backtestLookback, "lookback", 0, "패널 조회 기간 (일)")
}

// backtestEnv bundles everything a backtest subcommand needs
type backtestEnv struct {
	cfg    *config.Config
	log    *logger.Logger
	db     *database.DB
	layout *backtestconfig.Config
}

func (e *backtestEnv) Close() {
	if e.db != nil {
		e.db.Close()
	}
}

// initBacktestEnv loads config, logger, table layout and the pool
func initBacktestEnv(ctx context.Context) (*backtestEnv, error) {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	// 3. Load table layout
	path := cfg.Backtest.ConfigPath
	if tablesFile != "" {
		path = tablesFile
	}
	layout, err := backtestconfig.Load(path)
	if err != nil {
		log.WithError(err).Error("table layout load failed")
		return nil, fmt.Errorf("load table layout: %w", err)
	}
	log.WithFields(map[string]interface{}{
		"path":        path,
		"price_table": layout.PriceTable,
		"tables":      len(layout.Tables),
		"horizon":     layout.Horizon,
	}).Info("table layout loaded")

	// 4. Connect to database
	db, err := database.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("database connection failed")
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &backtestEnv{cfg: cfg, log: log, db: db, layout: layout}, nil
}

// selectTables applies --table; unknown names are an error
func selectTables(layout *backtestconfig.Config, names []string) ([]contracts.TableSpec, error) {
	specs := layout.Filter(names)
	if len(names) > 0 && len(specs) != len(names) {
		return nil, fmt.Errorf("unknown table in %v", names)
	}
	if len(specs) == 0 {
		return nil, errors.New("no target tables")
	}
	return specs, nil
}

func runBacktest(cmd *cobra.Command, args []string) error {
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

	lookback := env.cfg.Backtest.LookbackDays
	if backtestLookback > 0 {
		lookback = backtestLookback
	}

	orchestrator := initOrchestrator(env, tables, lookback)

	PrintJobHeader(JobMetadata{
		JobType:  "Forward Return Fill",
		Tag:      "Backtest",
		Tables:   len(tables),
		Lookback: lookback,
		DryRun:   backtestDryRun,
	})

	result, err := orchestrator.Run(ctx)
	if err != nil {
		return fmt.Errorf("backtest fill failed: %w", err)
	}

	printRunResult(result)
	return nil
}

func initOrchestrator(env *backtestEnv, tables []contracts.TableSpec, lookback int) *backtest.Orchestrator {
	priceRepo := s0_data.NewPriceRepository(env.db.Pool, env.layout.PriceTable)
	panels := cache.NewPanelCache(priceRepo, env.cfg.Location(), env.log.Component("cache.panel"))

	signals := repos.NewSignalRepository(env.db.Pool)
	writer := repos.NewReturnWriter(env.db.Pool, repos.RetryConfig{
		MaxRetries:   env.cfg.Backtest.MaxRetries,
		InitialDelay: env.cfg.Backtest.RetryDelay,
		MaxDelay:     env.cfg.Backtest.RetryMaxWait,
	}, env.log.Component("repos.return_writer"))

	return backtest.NewOrchestrator(panels, signals, writer, tables, backtest.Options{
		LookbackDays: lookback,
		TaskTimeout:  env.cfg.Backtest.TaskTimeout,
		Horizon:      env.layout.Horizon,
		DryRun:       backtestDryRun,
	}, env.log.Component("backtest.orchestrator")).WithQualityGate(quality.NewGate(*env.layout.Quality))
}

func printRunResult(result *backtest.RunResult) {
	fmt.Println()
	if result.DataUnavailable {
		PrintWarning("가격 패널을 불러오지 못했습니다. 모든 테이블을 건너뜁니다 (쓰기 0건)")
	} else {
		PrintKeyValue("Panel bars", strconv.Itoa(result.PanelBars), 12)
		PrintKeyValue("Instruments", strconv.Itoa(result.PanelInstruments), 12)
		if q := result.Quality; q != nil {
			PrintKeyValue("Quality", fmt.Sprintf("%.4f (missing close %d)", q.QualityScore, q.MissingClose), 12)
			for _, f := range q.Failures {
				PrintWarning(f)
			}
		}
		fmt.Println()
	}

	columns := []string{"TABLE", "PENDING", "COMPUTED", "DEGRADED", "SHORT", "WRITTEN", "STATUS"}
	widths := []int{28, 8, 8, 8, 8, 8, 10}
	PrintTableHeader(columns, widths)

	for _, t := range result.Tables {
		status := "ok"
		switch {
		case t.Skipped:
			status = "skipped"
		case t.Err != nil:
			status = "failed"
		}
		PrintTableRow([]string{
			t.Table,
			strconv.Itoa(t.Pending),
			strconv.Itoa(t.Computed),
			strconv.Itoa(t.Degraded),
			strconv.Itoa(t.Short),
			strconv.Itoa(t.Written),
			status,
		}, widths)
	}

	failed := result.Failed()
	for _, t := range failed {
		if !t.Skipped {
			PrintError(fmt.Sprintf("%s: %v", t.Table, t.Err))
		}
	}

	fmt.Println()
	if len(failed) == 0 {
		PrintSuccess(fmt.Sprintf("Completed in %.2fs (%d rows written)", result.Duration.Seconds(), result.Written()))
	} else {
		PrintWarning(fmt.Sprintf("%d/%d tables did not complete", len(failed), len(result.Tables)))
	}
}
