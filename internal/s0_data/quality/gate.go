package quality

import (
	"fmt"

	"github.com/wonny/aegis-backtest/internal/cache"
	"github.com/wonny/aegis-backtest/internal/contracts"
)

// Config holds quality gate thresholds
type Config struct {
	MinCloseCoverage  float64 `yaml:"min_close_coverage" json:"min_close_coverage"`   // 0.95
	MinVolumeCoverage float64 `yaml:"min_volume_coverage" json:"min_volume_coverage"` // 0.90
}

// DefaultConfig returns the default thresholds
func DefaultConfig() Config {
	return Config{
		MinCloseCoverage:  0.95,
		MinVolumeCoverage: 0.90,
	}
}

// Snapshot is the quality report of one loaded price panel
type Snapshot struct {
	From         int                `json:"from"`
	To           int                `json:"to"`
	Instruments  int                `json:"instruments"`
	Bars         int                `json:"bars"`
	Duplicates   int                `json:"duplicates"`
	MissingClose int                `json:"missing_close"`
	Coverage     map[string]float64 `json:"coverage"`
	QualityScore float64            `json:"quality_score"`
	Passed       bool               `json:"passed"`
	Failures     []string           `json:"failures,omitempty"`
}

// Gate scores a price panel before returns are computed from it
// 결과는 정보용: 누락된 종가는 계산 단계에서 null 슬롯으로 처리됨
type Gate struct {
	config Config
}

// NewGate creates a new Gate instance
func NewGate(config Config) *Gate {
	return &Gate{config: config}
}

// Check computes coverage of the panel
// ⭐ SSOT: 패널 품질 검증
func (g *Gate) Check(panel *cache.Panel) *Snapshot {
	snap := &Snapshot{
		Instruments: panel.Instruments(),
		Bars:        panel.Len(),
		Duplicates:  panel.Duplicates(),
		Coverage:    make(map[string]float64),
	}
	snap.From, snap.To = panel.Range()

	var withClose, withVolume int
	panel.Each(func(_ string, bars []contracts.PriceBar) {
		for _, b := range bars {
			if b.HasClose() {
				withClose++
			}
			if b.Volume > 0 {
				withVolume++
			}
		}
	})
	snap.MissingClose = snap.Bars - withClose

	snap.Coverage["close"] = ratio(withClose, snap.Bars)
	snap.Coverage["volume"] = ratio(withVolume, snap.Bars)
	snap.QualityScore = calculateScore(snap.Coverage)

	if snap.Coverage["close"] < g.config.MinCloseCoverage {
		snap.Failures = append(snap.Failures, fmt.Sprintf("close coverage %.4f < %.4f", snap.Coverage["close"], g.config.MinCloseCoverage))
	}
	if snap.Coverage["volume"] < g.config.MinVolumeCoverage {
		snap.Failures = append(snap.Failures, fmt.Sprintf("volume coverage %.4f < %.4f", snap.Coverage["volume"], g.config.MinVolumeCoverage))
	}
	snap.Passed = len(snap.Failures) == 0

	return snap
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// calculateScore calculates overall quality score using weighted average
func calculateScore(coverage map[string]float64) float64 {
	// 가중치 (합계 = 1.0)
	weights := map[string]float64{
		"close":  0.70, // 수익률 계산에 필수
		"volume": 0.30,
	}

	score := 0.0
	for key, weight := range weights {
		if cov, exists := coverage[key]; exists {
			score += cov * weight
		}
	}

	return score
}
