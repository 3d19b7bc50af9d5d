package repos

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/aegis-backtest/internal/contracts"
	"github.com/wonny/aegis-backtest/pkg/database"
)

// Querier is the read side of pgxpool.Pool / pgx.Tx
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SignalRepository implements contracts.SignalRepository
// ⭐ SSOT: 신호 테이블 백로그 조회는 여기서만 (읽기 전용)
type SignalRepository struct {
	db Querier
}

// NewSignalRepository creates a new signal repository
func NewSignalRepository(db Querier) *SignalRepository {
	return &SignalRepository{db: db}
}

// FetchPending returns every row of table whose final return slot is NULL
// 스냅샷 컬럼은 해석하지 않고 읽은 그대로 보관 (indicators는 jsonb 원문)
// 실패는 해당 테이블에 한정된 BacklogQueryError
func (r *SignalRepository) FetchPending(ctx context.Context, table contracts.TableSpec) ([]contracts.SignalRow, error) {
	query := fmt.Sprintf(`
		SELECT date_int, date, code,
			COALESCE(name, ''), COALESCE(strategy, ''),
			close, turnover,
			COALESCE(industry, ''), COALESCE(sentiment, ''),
			indicators
		FROM %s
		WHERE %s IS NULL
		ORDER BY date_int, code`,
		database.QuoteIdent(table.Name),
		pgx.Identifier{table.PendingColumn()}.Sanitize(),
	)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, &contracts.BacklogQueryError{Table: table.Name, Err: err}
	}
	defer rows.Close()

	var pending []contracts.SignalRow
	for rows.Next() {
		var (
			row        contracts.SignalRow
			indicators []byte
		)
		if err := rows.Scan(
			&row.DateInt, &row.Date, &row.Code,
			&row.Name, &row.Strategy,
			&row.Close, &row.Turnover,
			&row.Industry, &row.Sentiment,
			&indicators,
		); err != nil {
			return nil, &contracts.BacklogQueryError{Table: table.Name, Err: fmt.Errorf("scan row: %w", err)}
		}
		if indicators != nil {
			row.Indicators = indicators
		}

		pending = append(pending, row)
	}

	if err := rows.Err(); err != nil {
		return nil, &contracts.BacklogQueryError{Table: table.Name, Err: err}
	}

	return pending, nil
}

// CountPending counts backlog rows without reading them
func (r *SignalRepository) CountPending(ctx context.Context, table contracts.TableSpec) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s IS NULL`,
		database.QuoteIdent(table.Name),
		pgx.Identifier{table.PendingColumn()}.Sanitize(),
	)

	var n int
	if err := r.db.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, &contracts.BacklogQueryError{Table: table.Name, Err: err}
	}
	return n, nil
}
