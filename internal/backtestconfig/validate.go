package backtestconfig

import (
	"fmt"
	"regexp"
)

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// schema.table 또는 table, 소문자/숫자/언더스코어만
var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)?$`)

var prefixPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks all required constraints
func Validate(cfg *Config) error {
	if !identPattern.MatchString(cfg.PriceTable) {
		return ValidationError{"price_table", "must be a plain identifier"}
	}

	if cfg.Horizon < 1 || cfg.Horizon > 250 {
		return ValidationError{"horizon", "must be in [1, 250]"}
	}

	if q := cfg.Quality; q != nil {
		if q.MinCloseCoverage < 0 || q.MinCloseCoverage > 1 {
			return ValidationError{"quality.min_close_coverage", "must be in [0, 1]"}
		}
		if q.MinVolumeCoverage < 0 || q.MinVolumeCoverage > 1 {
			return ValidationError{"quality.min_volume_coverage", "must be in [0, 1]"}
		}
	}

	if len(cfg.Tables) == 0 {
		return ValidationError{"tables", "at least one table required"}
	}

	seen := make(map[string]bool, len(cfg.Tables))
	for i, t := range cfg.Tables {
		field := fmt.Sprintf("tables[%d]", i)
		if !identPattern.MatchString(t.Name) {
			return ValidationError{field + ".name", "must be a plain identifier"}
		}
		if seen[t.Name] {
			return ValidationError{field + ".name", "duplicate table " + t.Name}
		}
		seen[t.Name] = true

		if !prefixPattern.MatchString(t.SlotPrefix) {
			return ValidationError{field + ".slot_prefix", "must be a plain identifier prefix"}
		}
	}

	return nil
}
