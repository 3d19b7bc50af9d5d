package cache

import (
	"cmp"
	"slices"

	"github.com/wonny/aegis-backtest/internal/contracts"
)

// Panel is an immutable snapshot of price bars grouped by instrument
// ⭐ SSOT: 로드 이후 변경 없음 → 동시 읽기에 락 불필요
type Panel struct {
	bars       map[string][]contracts.PriceBar
	total      int
	duplicates int
	from, to   int
}

// NewPanel groups bars by code, each group ascending by DateInt
// 같은 (date_int, code)가 중복되면 먼저 온 bar만 유지
func NewPanel(bars []contracts.PriceBar, fromDateInt, toDateInt int) *Panel {
	p := &Panel{
		bars: make(map[string][]contracts.PriceBar),
		from: fromDateInt,
		to:   toDateInt,
	}

	for _, b := range bars {
		p.bars[b.Code] = append(p.bars[b.Code], b)
	}

	for code, group := range p.bars {
		slices.SortStableFunc(group, func(a, b contracts.PriceBar) int {
			return cmp.Compare(a.DateInt, b.DateInt)
		})
		deduped := slices.CompactFunc(group, func(a, b contracts.PriceBar) bool {
			return a.DateInt == b.DateInt
		})
		p.duplicates += len(group) - len(deduped)
		p.bars[code] = slices.Clip(deduped)
		p.total += len(deduped)
	}

	return p
}

// Lookup returns the instrument's bars ascending by date, nil when absent
// 반환 슬라이스는 읽기 전용
func (p *Panel) Lookup(code string) []contracts.PriceBar {
	if p == nil {
		return nil
	}
	return p.bars[code]
}

// Len returns the number of bars in the panel
func (p *Panel) Len() int {
	if p == nil {
		return 0
	}
	return p.total
}

// Instruments returns the number of distinct instruments
func (p *Panel) Instruments() int {
	if p == nil {
		return 0
	}
	return len(p.bars)
}

// Duplicates returns how many duplicate keys were dropped on build
func (p *Panel) Duplicates() int {
	if p == nil {
		return 0
	}
	return p.duplicates
}

// Range returns the requested [from, to] date_int window
func (p *Panel) Range() (int, int) {
	if p == nil {
		return 0, 0
	}
	return p.from, p.to
}

// Empty reports whether nothing is computable from the panel
func (p *Panel) Empty() bool {
	return p.Len() == 0
}

// Each calls fn for every instrument; iteration order is unspecified
func (p *Panel) Each(fn func(code string, bars []contracts.PriceBar)) {
	if p == nil {
		return
	}
	for code, bars := range p.bars {
		fn(code, bars)
	}
}
