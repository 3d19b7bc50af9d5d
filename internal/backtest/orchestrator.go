package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wonny/aegis-backtest/internal/cache"
	"github.com/wonny/aegis-backtest/internal/contracts"
	"github.com/wonny/aegis-backtest/internal/forward"
	"github.com/wonny/aegis-backtest/internal/s0_data/quality"
)

// PanelLoader loads the shared price panel (cache.PanelCache)
type PanelLoader interface {
	Load(ctx context.Context, lookbackDays int) (*cache.Panel, error)
}

// Options holds per-run knobs
type Options struct {
	LookbackDays int
	TaskTimeout  time.Duration
	LoadTimeout  time.Duration // 패널 로드 데드라인 (기본: TaskTimeout)
	Horizon      int
	DryRun       bool // 계산만 하고 쓰지 않음
}

// Orchestrator runs backlog → resolve/compute → write per target table
// ⭐ SSOT: 테이블 단위 파이프라인 조율은 여기서만
type Orchestrator struct {
	panels  PanelLoader
	signals contracts.SignalRepository
	writer  contracts.ReturnWriter
	tables  []contracts.TableSpec
	opts    Options
	gate    *quality.Gate
	log     zerolog.Logger
}

// RunResult holds the results of one fill run
type RunResult struct {
	Tables           []contracts.TableResult
	PanelBars        int
	PanelInstruments int
	DataUnavailable  bool
	Quality          *quality.Snapshot // 게이트 미설정 시 nil
	Duration         time.Duration
}

// Failed returns the tables that ended with a table-level error
func (r *RunResult) Failed() []contracts.TableResult {
	var out []contracts.TableResult
	for _, t := range r.Tables {
		if !t.OK() {
			out = append(out, t)
		}
	}
	return out
}

// Written returns the total number of rows written across tables
func (r *RunResult) Written() int {
	n := 0
	for _, t := range r.Tables {
		n += t.Written
	}
	return n
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(
	panels PanelLoader,
	signals contracts.SignalRepository,
	writer contracts.ReturnWriter,
	tables []contracts.TableSpec,
	opts Options,
	log zerolog.Logger,
) *Orchestrator {
	if opts.Horizon <= 0 {
		opts.Horizon = contracts.Horizon
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 10 * time.Minute
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = opts.TaskTimeout
	}
	return &Orchestrator{
		panels:  panels,
		signals: signals,
		writer:  writer,
		tables:  tables,
		opts:    opts,
		log:     log,
	}
}

// WithQualityGate scores each loaded panel; failures are logged, not fatal
func (o *Orchestrator) WithQualityGate(g *quality.Gate) *Orchestrator {
	o.gate = g
	return o
}

// Run loads the panel once and processes every table concurrently.
// 테이블 단위 실패는 격리되고 RunResult에만 기록됨; error는 실행 자체가 불가능할 때만
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	if len(o.tables) == 0 {
		return nil, errors.New("no target tables configured")
	}

	start := time.Now()
	result := &RunResult{Tables: make([]contracts.TableResult, len(o.tables))}

	o.log.Info().
		Int("tables", len(o.tables)).
		Int("lookback_days", o.opts.LookbackDays).
		Bool("dry_run", o.opts.DryRun).
		Msg("Starting forward return fill")

	loadCtx, cancel := context.WithTimeout(ctx, o.opts.LoadTimeout)
	panel, err := o.panels.Load(loadCtx, o.opts.LookbackDays)
	cancel()
	if err != nil {
		// 패널 없음 → 계산 가능한 것이 없으므로 쓰기 0건으로 종료
		if !errors.Is(err, contracts.ErrDataUnavailable) {
			err = fmt.Errorf("%w: %w", contracts.ErrDataUnavailable, err)
		}
		o.log.Warn().Err(err).Msg("price panel unavailable, skipping all tables")

		result.DataUnavailable = true
		for i, t := range o.tables {
			result.Tables[i] = contracts.TableResult{Table: t.Name, Skipped: true, Err: err}
		}
		result.Duration = time.Since(start)
		return result, nil
	}
	result.PanelBars = panel.Len()
	result.PanelInstruments = panel.Instruments()

	if o.gate != nil {
		snap := o.gate.Check(panel)
		result.Quality = snap

		ev := o.log.Info()
		if !snap.Passed {
			ev = o.log.Warn().Strs("failures", snap.Failures)
		}
		ev.Int("bars", snap.Bars).
			Int("missing_close", snap.MissingClose).
			Int("duplicates", snap.Duplicates).
			Float64("score", snap.QualityScore).
			Msg("price panel quality")
	}

	calc := forward.NewCalculator(panel, o.opts.Horizon, o.log)

	// 테이블 수만큼의 워커, 테이블마다 결과 채널 1개
	g := new(errgroup.Group)
	g.SetLimit(len(o.tables))

	results := make([]chan contracts.TableResult, len(o.tables))
	for i, table := range o.tables {
		ch := make(chan contracts.TableResult, 1)
		results[i] = ch

		table := table
		g.Go(func() error {
			ch <- o.runTable(ctx, table, calc)
			return nil
		})
	}
	_ = g.Wait()

	for i, ch := range results {
		result.Tables[i] = <-ch
	}
	result.Duration = time.Since(start)

	o.log.Info().
		Int("tables", len(result.Tables)).
		Int("failed", len(result.Failed())).
		Int("written", result.Written()).
		Dur("duration", result.Duration).
		Msg("Forward return fill finished")

	return result, nil
}

// runTable executes one table task under its own deadline
func (o *Orchestrator) runTable(parent context.Context, table contracts.TableSpec, calc *forward.Calculator) (res contracts.TableResult) {
	start := time.Now()
	res.Table = table.Name
	log := o.log.With().Str("table", table.Name).Logger()

	ctx, cancel := context.WithTimeout(parent, o.opts.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("table task panicked: %v", r)
			log.Error().Interface("panic", r).Msg("table task panicked")
		}
		res.Duration = time.Since(start)
	}()

	rows, err := o.signals.FetchPending(ctx, table)
	if err != nil {
		res.Err = err
		log.Error().Err(err).Msg("backlog query failed")
		return res
	}
	res.Pending = len(rows)

	if len(rows) == 0 {
		log.Info().Int("pending", 0).Msg("no pending rows")
		return res
	}

	updates := make([]contracts.ReturnUpdate, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			res.Err = fmt.Errorf("table task aborted: %w", err)
			log.Error().Err(err).Int("computed", len(updates)).Msg("table task deadline exceeded before write")
			return res
		}

		vec, err := calc.Vector(row)
		if err != nil {
			res.Degraded++
		} else {
			res.Computed++
		}
		if vec.Last() == nil {
			res.Short++
		}

		updates = append(updates, contracts.ReturnUpdate{Row: row, Vector: vec})
	}

	log.Info().
		Int("pending", res.Pending).
		Int("computed", res.Computed).
		Int("degraded", res.Degraded).
		Int("short", res.Short).
		Msg("vectors computed")

	if o.opts.DryRun {
		log.Info().Msg("dry run, skipping write")
		return res
	}

	written, err := o.writer.Write(ctx, table, updates)
	if err != nil {
		res.Err = err
		log.Error().Err(err).Msg("batch write abandoned")
		return res
	}
	res.Written = written

	log.Info().
		Int("pending", res.Pending).
		Int("written", res.Written).
		Int("short", res.Short).
		Msg("table processed")

	return res
}
