package s0_data

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/aegis-backtest/internal/contracts"
	"github.com/wonny/aegis-backtest/pkg/database"
)

// Querier is the read side of pgxpool.Pool / pgx.Conn / pgx.Tx
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PriceRepository implements contracts.PriceRepository
// ⭐ SSOT: 가격 패널 조회는 여기서만
type PriceRepository struct {
	db    Querier
	query string
}

// NewPriceRepository creates a price repository reading from table
func NewPriceRepository(db Querier, table string) *PriceRepository {
	return &PriceRepository{
		db:    db,
		query: buildRangeQuery(table),
	}
}

func buildRangeQuery(table string) string {
	return fmt.Sprintf(`
		SELECT date_int, code, open, high, low, close, volume
		FROM %s
		WHERE date_int BETWEEN $1 AND $2
		ORDER BY code, date_int`, database.QuoteIdent(table))
}

// GetBarsInRange retrieves every bar with date_int in [from, to]
func (r *PriceRepository) GetBarsInRange(ctx context.Context, fromDateInt, toDateInt int) ([]contracts.PriceBar, error) {
	rows, err := r.db.Query(ctx, r.query, fromDateInt, toDateInt)
	if err != nil {
		return nil, fmt.Errorf("query price bars: %w", err)
	}
	defer rows.Close()

	var bars []contracts.PriceBar
	for rows.Next() {
		var (
			b                          contracts.PriceBar
			openP, highP, lowP, closeP *float64
			volume                     *int64
		)
		if err := rows.Scan(&b.DateInt, &b.Code, &openP, &highP, &lowP, &closeP, &volume); err != nil {
			return nil, fmt.Errorf("scan price bar: %w", err)
		}
		// NULL → NaN (0으로 바꾸지 않음)
		b.Open = orNaN(openP)
		b.High = orNaN(highP)
		b.Low = orNaN(lowP)
		b.Close = orNaN(closeP)
		if volume != nil {
			b.Volume = *volume
		}
		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price bars: %w", err)
	}
	return bars, nil
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
