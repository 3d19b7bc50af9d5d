package forward

import (
	"sort"

	"github.com/wonny/aegis-backtest/internal/cache"
	"github.com/wonny/aegis-backtest/internal/contracts"
)

// Window 기준일 bar + 이후 최대 horizon 거래일
// Window[0]이 anchor
type Window []contracts.PriceBar

// Anchor returns the anchor bar; ok is false on an empty window
func (w Window) Anchor() (contracts.PriceBar, bool) {
	if len(w) == 0 {
		return contracts.PriceBar{}, false
	}
	return w[0], true
}

// Sessions returns the number of forward sessions after the anchor
func (w Window) Sessions() int {
	if len(w) == 0 {
		return 0
	}
	return len(w) - 1
}

// Resolve locates the bar matching (row.DateInt, row.Code) exactly and
// returns it followed by at most horizon forward bars.
// 가장 가까운 날짜로 대체하지 않음: 정확히 일치하지 않으면 ErrWindowNotFound
func Resolve(row contracts.SignalRow, panel *cache.Panel, horizon int) (Window, error) {
	bars := panel.Lookup(row.Code)
	if len(bars) == 0 {
		return nil, contracts.ErrWindowNotFound
	}

	i := sort.Search(len(bars), func(i int) bool {
		return bars[i].DateInt >= row.DateInt
	})
	if i == len(bars) || bars[i].DateInt != row.DateInt {
		return nil, contracts.ErrWindowNotFound
	}

	end := min(i+horizon+1, len(bars))
	return Window(bars[i:end:end]), nil
}
