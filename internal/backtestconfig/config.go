package backtestconfig

import (
	"github.com/wonny/aegis-backtest/internal/contracts"
	"github.com/wonny/aegis-backtest/internal/s0_data/quality"
)

// Config는 전방 수익률 채우기 잡의 테이블 레이아웃 설정
type Config struct {
	PriceTable string  `yaml:"price_table" json:"price_table"`
	Horizon    int     `yaml:"horizon" json:"horizon"`
	Tables     []Table `yaml:"tables" json:"tables"`

	// 패널 품질 임계값 (미지정 시 quality.DefaultConfig)
	Quality *quality.Config `yaml:"quality" json:"quality"`
}

// Table 대상 신호 테이블 (모두 동일한 백테스트 컬럼 스키마)
type Table struct {
	Name          string `yaml:"name" json:"name"`
	KeyByStrategy bool   `yaml:"key_by_strategy" json:"key_by_strategy"`
	SlotPrefix    string `yaml:"slot_prefix" json:"slot_prefix"`
}

// TableSpecs converts the table list into contracts.TableSpec values
func (c *Config) TableSpecs() []contracts.TableSpec {
	specs := make([]contracts.TableSpec, 0, len(c.Tables))
	for _, t := range c.Tables {
		specs = append(specs, contracts.TableSpec{
			Name:          t.Name,
			KeyByStrategy: t.KeyByStrategy,
			SlotPrefix:    t.SlotPrefix,
			Horizon:       c.Horizon,
		})
	}
	return specs
}

// Filter returns the specs whose name is in names; empty names keeps all
func (c *Config) Filter(names []string) []contracts.TableSpec {
	all := c.TableSpecs()
	if len(names) == 0 {
		return all
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var out []contracts.TableSpec
	for _, s := range all {
		if want[s.Name] {
			out = append(out, s)
		}
	}
	return out
}
