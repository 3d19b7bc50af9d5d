package backtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-backtest/internal/cache"
	"github.com/wonny/aegis-backtest/internal/contracts"
	"github.com/wonny/aegis-backtest/internal/s0_data/quality"
)

type fakePanels struct {
	panel *cache.Panel
	err   error
	calls int
}

func (f *fakePanels) Load(ctx context.Context, lookbackDays int) (*cache.Panel, error) {
	f.calls++
	return f.panel, f.err
}

// blockingPanels hangs until its context ends, like a stalled price query
type blockingPanels struct{}

func (blockingPanels) Load(ctx context.Context, lookbackDays int) (*cache.Panel, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type key struct {
	table   string
	code    string
	dateInt int
}

// fakeStore keeps signal rows and written vectors, honouring the pending predicate
type fakeStore struct {
	mu        sync.Mutex
	rows      map[string][]contracts.SignalRow
	vectors   map[key]contracts.ReturnVector
	fetchErr  map[string]error
	writeErr  map[string]error
	block     map[string]bool
	fetches   int
	writes    int
	writeRows int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:     map[string][]contracts.SignalRow{},
		vectors:  map[key]contracts.ReturnVector{},
		fetchErr: map[string]error{},
		writeErr: map[string]error{},
		block:    map[string]bool{},
	}
}

func (s *fakeStore) FetchPending(ctx context.Context, table contracts.TableSpec) ([]contracts.SignalRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++

	if err := s.fetchErr[table.Name]; err != nil {
		return nil, &contracts.BacklogQueryError{Table: table.Name, Err: err}
	}

	var pending []contracts.SignalRow
	for _, r := range s.rows[table.Name] {
		vec, ok := s.vectors[key{table.Name, r.Code, r.DateInt}]
		if !ok || vec.Last() == nil {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

func (s *fakeStore) CountPending(ctx context.Context, table contracts.TableSpec) (int, error) {
	rows, err := s.FetchPending(ctx, table)
	return len(rows), err
}

func (s *fakeStore) Write(ctx context.Context, table contracts.TableSpec, updates []contracts.ReturnUpdate) (int, error) {
	if s.block[table.Name] {
		<-ctx.Done()
		return 0, &contracts.BatchWriteError{Table: table.Name, Attempts: 1, Size: len(updates), Err: ctx.Err()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++

	if err := s.writeErr[table.Name]; err != nil {
		return 0, &contracts.BatchWriteError{Table: table.Name, Attempts: 4, Size: len(updates), Err: err}
	}

	for _, u := range updates {
		s.vectors[key{table.Name, u.Row.Code, u.Row.DateInt}] = u.Vector
	}
	s.writeRows += len(updates)
	return len(updates), nil
}

var (
	buyTable  = contracts.TableSpec{Name: "cn_stock_strategy_buy", KeyByStrategy: true, SlotPrefix: "rate_", Horizon: 100}
	sellTable = contracts.TableSpec{Name: "cn_stock_strategy_sell", KeyByStrategy: true, SlotPrefix: "rate_", Horizon: 100}
)

func bars(code string, start int, closes ...float64) []contracts.PriceBar {
	out := make([]contracts.PriceBar, len(closes))
	for i, c := range closes {
		out[i] = contracts.PriceBar{DateInt: start + i, Code: code, Close: c}
	}
	return out
}

func newOrchestrator(panels PanelLoader, store *fakeStore, opts Options, tables ...contracts.TableSpec) *Orchestrator {
	return NewOrchestrator(panels, store, store, tables, opts, zerolog.Nop())
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	panel := cache.NewPanel(bars("X", 20240101, 10, 11, 9, 12), 0, 0)
	store := newFakeStore()
	store.rows[buyTable.Name] = []contracts.SignalRow{{Code: "X", DateInt: 20240101, Strategy: "s"}}
	store.rows[sellTable.Name] = []contracts.SignalRow{{Code: "Y", DateInt: 20240101, Strategy: "s"}}

	res, err := newOrchestrator(&fakePanels{panel: panel}, store, Options{}, buyTable, sellTable).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Tables, 2)

	buy := res.Tables[0]
	assert.Equal(t, buyTable.Name, buy.Table)
	assert.Equal(t, 1, buy.Pending)
	assert.Equal(t, 1, buy.Computed)
	assert.Equal(t, 1, buy.Written)
	assert.True(t, buy.OK())

	vec := store.vectors[key{buyTable.Name, "X", 20240101}]
	assert.Equal(t, 10.00, *vec.Slot(1))
	assert.Equal(t, -10.00, *vec.Slot(2))
	assert.Equal(t, 20.00, *vec.Slot(3))
	for i := 4; i <= 100; i++ {
		assert.Nil(t, vec.Slot(i))
	}

	// 일치하는 bar 없음 → 전부 null로 기록 (processed with no data)
	sell := res.Tables[1]
	assert.Equal(t, 1, sell.Degraded)
	assert.Equal(t, 1, sell.Written)
	nullVec, ok := store.vectors[key{sellTable.Name, "Y", 20240101}]
	require.True(t, ok, "row is still written")
	assert.True(t, nullVec.IsEmpty())
	assert.Len(t, nullVec.Values, 100)
}

func TestOrchestrator_PanelFailure(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
	}{
		{"query error", errors.New("connection refused")},
		{"empty panel", contracts.ErrDataUnavailable},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			store.rows[buyTable.Name] = []contracts.SignalRow{{Code: "X", DateInt: 1}}

			res, err := newOrchestrator(&fakePanels{panel: cache.NewPanel(nil, 0, 0), err: tc.err}, store, Options{}, buyTable, sellTable).
				Run(context.Background())
			require.NoError(t, err, "panel failure never reaches the caller as an error")

			assert.True(t, res.DataUnavailable)
			assert.Zero(t, store.writes)
			assert.Zero(t, store.fetches)
			assert.Zero(t, res.Written())
			for _, tr := range res.Tables {
				assert.True(t, tr.Skipped)
				assert.ErrorIs(t, tr.Err, contracts.ErrDataUnavailable)
			}
		})
	}
}

func TestOrchestrator_PanelLoadDeadline(t *testing.T) {
	store := newFakeStore()
	store.rows[buyTable.Name] = []contracts.SignalRow{{Code: "X", DateInt: 1}}

	o := newOrchestrator(blockingPanels{}, store, Options{TaskTimeout: 50 * time.Millisecond}, buyTable, sellTable)

	start := time.Now()
	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.True(t, res.DataUnavailable)
	assert.Zero(t, store.fetches)
	assert.Zero(t, store.writes)
	for _, tr := range res.Tables {
		assert.True(t, tr.Skipped)
		assert.ErrorIs(t, tr.Err, contracts.ErrDataUnavailable)
		assert.ErrorIs(t, tr.Err, context.DeadlineExceeded)
	}
}

func TestOrchestrator_BacklogErrorIsolated(t *testing.T) {
	panel := cache.NewPanel(bars("X", 1, 10, 11), 0, 0)
	store := newFakeStore()
	store.fetchErr[buyTable.Name] = errors.New("relation does not exist")
	store.rows[sellTable.Name] = []contracts.SignalRow{{Code: "X", DateInt: 1}}

	res, err := newOrchestrator(&fakePanels{panel: panel}, store, Options{}, buyTable, sellTable).Run(context.Background())
	require.NoError(t, err)

	var bqErr *contracts.BacklogQueryError
	assert.ErrorAs(t, res.Tables[0].Err, &bqErr)
	assert.True(t, res.Tables[1].OK())
	assert.Equal(t, 1, res.Tables[1].Written)
	assert.Len(t, res.Failed(), 1)
}

func TestOrchestrator_WriteErrorIsolated(t *testing.T) {
	panel := cache.NewPanel(bars("X", 1, 10, 11), 0, 0)
	store := newFakeStore()
	store.rows[buyTable.Name] = []contracts.SignalRow{{Code: "X", DateInt: 1}}
	store.rows[sellTable.Name] = []contracts.SignalRow{{Code: "X", DateInt: 1}}
	store.writeErr[sellTable.Name] = errors.New("deadlock detected")

	res, err := newOrchestrator(&fakePanels{panel: panel}, store, Options{}, buyTable, sellTable).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Tables[0].OK())
	var bwErr *contracts.BatchWriteError
	assert.ErrorAs(t, res.Tables[1].Err, &bwErr)
	assert.Zero(t, res.Tables[1].Written)
}

func TestOrchestrator_Idempotent(t *testing.T) {
	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 50 + float64(i%7)
	}
	panel := cache.NewPanel(bars("X", 1, closes...), 0, 0)

	store := newFakeStore()
	store.rows[buyTable.Name] = []contracts.SignalRow{{Code: "X", DateInt: 1}, {Code: "X", DateInt: 5}}

	o := newOrchestrator(&fakePanels{panel: panel}, store, Options{}, buyTable)

	first, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Written())
	assert.Zero(t, first.Tables[0].Short)

	second, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Tables[0].Pending)
	assert.Zero(t, second.Written())
	assert.Equal(t, 1, store.writes, "no additional writes for resolved rows")
}

func TestOrchestrator_ShortWindowStaysPending(t *testing.T) {
	// 마지막 슬롯이 채워질 수 없는 행은 매 실행마다 다시 계산됨
	panel := cache.NewPanel(bars("X", 1, 10, 11, 12), 0, 0)
	store := newFakeStore()
	store.rows[buyTable.Name] = []contracts.SignalRow{{Code: "X", DateInt: 1}}

	o := newOrchestrator(&fakePanels{panel: panel}, store, Options{}, buyTable)

	for run := 0; run < 2; run++ {
		res, err := o.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, res.Tables[0].Pending)
		assert.Equal(t, 1, res.Tables[0].Short)
		assert.Equal(t, 1, res.Tables[0].Written)
	}
	assert.Equal(t, 2, store.writes)
}

func TestOrchestrator_TaskDeadline(t *testing.T) {
	panel := cache.NewPanel(bars("X", 1, 10, 11), 0, 0)
	store := newFakeStore()
	store.rows[buyTable.Name] = []contracts.SignalRow{{Code: "X", DateInt: 1}}
	store.rows[sellTable.Name] = []contracts.SignalRow{{Code: "X", DateInt: 1}}
	store.block[buyTable.Name] = true

	o := newOrchestrator(&fakePanels{panel: panel}, store, Options{TaskTimeout: 50 * time.Millisecond}, buyTable, sellTable)

	done := make(chan *RunResult, 1)
	go func() {
		res, _ := o.Run(context.Background())
		done <- res
	}()

	select {
	case res := <-done:
		assert.ErrorIs(t, res.Tables[0].Err, context.DeadlineExceeded)
		assert.True(t, res.Tables[1].OK())
		assert.Equal(t, 1, res.Tables[1].Written)
	case <-time.After(5 * time.Second):
		t.Fatal("stalled table task was not cancelled")
	}
}

func TestOrchestrator_DryRun(t *testing.T) {
	panel := cache.NewPanel(bars("X", 1, 10, 11), 0, 0)
	store := newFakeStore()
	store.rows[buyTable.Name] = []contracts.SignalRow{{Code: "X", DateInt: 1}}

	res, err := newOrchestrator(&fakePanels{panel: panel}, store, Options{DryRun: true}, buyTable).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tables[0].Computed)
	assert.Zero(t, store.writes)
}

func TestOrchestrator_NoTables(t *testing.T) {
	panels := &fakePanels{}
	_, err := newOrchestrator(panels, newFakeStore(), Options{}).Run(context.Background())
	assert.Error(t, err)
	assert.Zero(t, panels.calls)
}

func TestOrchestrator_QualityGate(t *testing.T) {
	panel := cache.NewPanel(bars("X", 1, 10, 11), 1, 2)
	store := newFakeStore()
	store.rows[buyTable.Name] = []contracts.SignalRow{{Code: "X", DateInt: 1}}

	// volume 0 → 품질 미달이지만 처리는 계속
	o := newOrchestrator(&fakePanels{panel: panel}, store, Options{}, buyTable).
		WithQualityGate(quality.NewGate(quality.DefaultConfig()))

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Quality)
	assert.False(t, res.Quality.Passed)
	assert.Equal(t, 1, res.Written())
}
