package forward

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-backtest/internal/cache"
	"github.com/wonny/aegis-backtest/internal/contracts"
)

var hundred = decimal.NewFromInt(100)

// Compute turns a forward window into a return vector of length horizon.
// slot i = round((close_i - anchor) / anchor * 100, 2), 전일 대비가 아닌 anchor 대비
// 창이 짧으면 나머지 슬롯은 nil. anchor가 0/NaN이면 전부 nil + ErrBadAnchor
func Compute(w Window, horizon int) (contracts.ReturnVector, error) {
	vec := contracts.NewReturnVector(horizon)

	anchor, ok := w.Anchor()
	if !ok {
		return vec, contracts.ErrWindowNotFound
	}
	if !anchor.HasClose() || anchor.Close == 0 {
		return vec, contracts.ErrBadAnchor
	}

	base := decimal.NewFromFloat(anchor.Close)
	n := min(horizon, w.Sessions())
	for i := 1; i <= n; i++ {
		bar := w[i]
		if !bar.HasClose() {
			continue
		}
		pct := decimal.NewFromFloat(bar.Close).
			Sub(base).
			Mul(hundred).
			Div(base).
			Round(2)
		v := pct.InexactFloat64()
		vec.Values[i-1] = &v
	}

	return vec, nil
}

// Calculator resolves and computes vectors for signal rows
type Calculator struct {
	panel   *cache.Panel
	horizon int
	log     zerolog.Logger
}

// NewCalculator creates a calculator over an immutable panel
func NewCalculator(panel *cache.Panel, horizon int, log zerolog.Logger) *Calculator {
	return &Calculator{
		panel:   panel,
		horizon: horizon,
		log:     log,
	}
}

// Vector never fails: a missing window or bad anchor degrades to an
// all-null vector, returned together with a *RowComputationError.
// 같은 (row, panel) 입력 → 항상 같은 벡터
func (c *Calculator) Vector(row contracts.SignalRow) (contracts.ReturnVector, error) {
	w, err := Resolve(row, c.panel, c.horizon)
	if err != nil {
		c.log.Warn().
			Str("code", row.Code).
			Int("date_int", row.DateInt).
			Msg("no anchor bar in panel")
		return contracts.NewReturnVector(c.horizon), &contracts.RowComputationError{
			Code: row.Code, DateInt: row.DateInt, Err: err,
		}
	}

	vec, err := Compute(w, c.horizon)
	if err != nil {
		c.log.Warn().
			Str("code", row.Code).
			Int("date_int", row.DateInt).
			Float64("anchor_close", w[0].Close).
			Msg("invalid anchor close")
		return vec, &contracts.RowComputationError{
			Code: row.Code, DateInt: row.DateInt, Err: err,
		}
	}

	return vec, nil
}
