package repos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/wonny/aegis-backtest/internal/contracts"
	"github.com/wonny/aegis-backtest/pkg/database"
)

// TxBeginner opens a transaction on its own connection (pgxpool.Pool)
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RetryConfig holds retry configuration for batch writes
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig 3회 재시도, 1s → 2s → 4s (상한 10s)
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
	}
}

// backoff returns the wait before retry attempt n (1-based)
func (c RetryConfig) backoff(n int) time.Duration {
	delay := c.InitialDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if c.MaxDelay > 0 && delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// ReturnWriter implements contracts.ReturnWriter
// ⭐ SSOT: 신호 테이블 UPDATE는 여기서만
// 호출 1회 = 트랜잭션 1개 = pgx.Batch 1개, 실패 시 전체 롤백
type ReturnWriter struct {
	db    TxBeginner
	retry RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
	log   zerolog.Logger
}

// NewReturnWriter creates a batch writer
func NewReturnWriter(db TxBeginner, retry RetryConfig, log zerolog.Logger) *ReturnWriter {
	return &ReturnWriter{
		db:    db,
		retry: retry,
		sleep: sleepCtx,
		log:   log,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Write persists all updates for one table in a single transaction.
// Returns the number of rows the UPDATEs touched.
func (w *ReturnWriter) Write(ctx context.Context, table contracts.TableSpec, updates []contracts.ReturnUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	query := buildUpdateQuery(table)

	var (
		lastErr  error
		failedAt = -1
		attempts int
	)

	for attempt := 0; attempt <= w.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := w.retry.backoff(attempt)
			w.log.Warn().
				Str("table", table.Name).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Err(lastErr).
				Msg("batch write failed, retrying")

			if err := w.sleep(ctx, delay); err != nil {
				lastErr = fmt.Errorf("retry wait: %w", err)
				break
			}
		}

		attempts++
		affected, idx, err := w.writeOnce(ctx, table, query, updates)
		if err == nil {
			if affected != len(updates) {
				w.log.Warn().
					Str("table", table.Name).
					Int("updates", len(updates)).
					Int("affected", affected).
					Msg("some updates matched no row")
			}
			return affected, nil
		}

		lastErr = err
		if idx >= 0 {
			failedAt = idx
		}
		if ctx.Err() != nil {
			break
		}
	}

	bwErr := &contracts.BatchWriteError{
		Table:    table.Name,
		Attempts: attempts,
		Size:     len(updates),
		Err:      lastErr,
	}
	if failedAt < 0 {
		failedAt = 0
	}
	sample := updates[failedAt].Row
	bwErr.Sample = &sample

	w.log.Error().
		Err(lastErr).
		Str("table", table.Name).
		Int("attempts", attempts).
		Int("rows", len(updates)).
		Str("sample_code", sample.Code).
		Int("sample_date_int", sample.DateInt).
		Str("sample_strategy", sample.Strategy).
		Msg("batch abandoned")

	return 0, bwErr
}

// writeOnce runs one transactional attempt; idx is the failing update or -1
func (w *ReturnWriter) writeOnce(ctx context.Context, table contracts.TableSpec, query string, updates []contracts.ReturnUpdate) (int, int, error) {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return 0, -1, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(query, updateArgs(table, u)...)
	}

	br := tx.SendBatch(ctx, batch)

	affected := 0
	for i := range updates {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, i, fmt.Errorf("update %d: %w", i, err)
		}
		affected += int(tag.RowsAffected())
	}

	if err := br.Close(); err != nil {
		return 0, -1, fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, -1, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return affected, -1, nil
}

// snapshot columns, in parameter order
var snapshotColumns = []string{
	"code", "date", "name", "strategy", "close",
	"indicators", "turnover", "industry", "sentiment",
}

// buildUpdateQuery renders the parameterized UPDATE for table
// SET <snapshot>, rate_1..rate_N WHERE date_int AND code [AND strategy]
func buildUpdateQuery(table contracts.TableSpec) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "UPDATE %s SET ", database.QuoteIdent(table.Name))

	n := 0
	sep := func() {
		if n > 0 {
			sb.WriteString(", ")
		}
		n++
	}

	for _, col := range snapshotColumns {
		sep()
		fmt.Fprintf(&sb, "%s = $%d", pgx.Identifier{col}.Sanitize(), n)
	}
	for i := 1; i <= table.Horizon; i++ {
		sep()
		fmt.Fprintf(&sb, "%s = $%d", pgx.Identifier{table.SlotColumn(i)}.Sanitize(), n)
	}

	fmt.Fprintf(&sb, " WHERE date_int = $%d AND code = $%d", n+1, n+2)
	if table.KeyByStrategy {
		fmt.Fprintf(&sb, " AND strategy = $%d", n+3)
	}

	return sb.String()
}

// updateArgs flattens one update into the parameter list of buildUpdateQuery
func updateArgs(table contracts.TableSpec, u contracts.ReturnUpdate) []any {
	row := u.Row
	args := make([]any, 0, len(snapshotColumns)+table.Horizon+3)

	// jsonb 원문을 그대로 바인딩; SQL NULL은 untyped nil
	var indicators any
	if row.Indicators != nil {
		indicators = row.Indicators
	}
	var date any
	if row.Date != nil {
		date = *row.Date
	}

	args = append(args,
		row.Code, date, row.Name, row.Strategy, row.Close,
		indicators, row.Turnover, row.Industry, row.Sentiment,
	)

	// ReturnVector → flat rate_1..rate_N, nil은 SQL NULL
	for i := 1; i <= table.Horizon; i++ {
		args = append(args, u.Vector.Slot(i))
	}

	args = append(args, row.DateInt, row.Code)
	if table.KeyByStrategy {
		args = append(args, row.Strategy)
	}
	return args
}
