package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wonny/aegis-backtest/internal/contracts"
)

// PanelCache loads the price panel for a lookback window
// ⭐ SSOT: 패널 로드는 잡 실행당 한 번, 여기서만
type PanelCache struct {
	repo contracts.PriceRepository
	now  func() time.Time
	loc  *time.Location
	log  zerolog.Logger
}

// NewPanelCache creates a panel cache; "today" is taken in loc
func NewPanelCache(repo contracts.PriceRepository, loc *time.Location, log zerolog.Logger) *PanelCache {
	if loc == nil {
		loc = time.Local
	}
	return &PanelCache{
		repo: repo,
		now:  time.Now,
		loc:  loc,
		log:  log,
	}
}

// WithClock overrides the clock used to decide today
func (c *PanelCache) WithClock(now func() time.Time) *PanelCache {
	c.now = now
	return c
}

// Window returns the [from, to] date_int range for lookbackDays
func (c *PanelCache) Window(lookbackDays int) (int, int) {
	today := c.now().In(c.loc)
	return contracts.DateInt(today.AddDate(0, 0, -lookbackDays)), contracts.DateInt(today)
}

// Load fetches all bars in [today - lookbackDays, today]
// 조회 실패/빈 결과 → 빈 패널 + ErrDataUnavailable (호출자는 치명적 오류로 보지 않음)
func (c *PanelCache) Load(ctx context.Context, lookbackDays int) (*Panel, error) {
	from, to := c.Window(lookbackDays)
	start := time.Now()

	bars, err := c.repo.GetBarsInRange(ctx, from, to)
	if err != nil {
		c.log.Error().Err(err).Int("from", from).Int("to", to).Msg("price panel load failed")
		return NewPanel(nil, from, to), fmt.Errorf("%w: %w", contracts.ErrDataUnavailable, err)
	}

	panel := NewPanel(bars, from, to)
	if panel.Empty() {
		c.log.Warn().Int("from", from).Int("to", to).Msg("price panel is empty")
		return panel, fmt.Errorf("%w: no bars in [%d, %d]", contracts.ErrDataUnavailable, from, to)
	}

	c.log.Info().
		Int("from", from).
		Int("to", to).
		Int("bars", panel.Len()).
		Int("instruments", panel.Instruments()).
		Int("duplicates", panel.Duplicates()).
		Dur("took", time.Since(start)).
		Msg("price panel loaded")

	return panel, nil
}
