package contracts

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Horizon 전방 수익률 슬롯 수 (slot 1..100)
const Horizon = 100

// PriceBar 일봉 한 개 (identity = DateInt + Code)
// ⭐ SSOT: 패널 가격 데이터 구조는 여기서만
type PriceBar struct {
	DateInt int     `json:"date_int"` // YYYYMMDD
	Code    string  `json:"code"`
	Open    float64 `json:"open"`
	High    float64 `json:"high"`
	Low     float64 `json:"low"`
	Close   float64 `json:"close"` // NULL 종가는 NaN
	Volume  int64   `json:"volume"`
}

// HasClose reports whether the bar carries a usable close
func (b PriceBar) HasClose() bool {
	return !math.IsNaN(b.Close) && !math.IsInf(b.Close, 0)
}

// SignalRow 전략 신호 한 건 (업스트림 전략 잡이 생성)
// 읽을 때 캡처한 스냅샷 컬럼은 UPDATE 시 그대로 다시 기록한다
type SignalRow struct {
	DateInt   int        `json:"date_int"`
	Date      *time.Time `json:"date"` // 저장된 값 그대로, NULL은 nil
	Code      string     `json:"code"`
	Name      string     `json:"name"`
	Strategy  string     `json:"strategy"`
	Close     *float64   `json:"close"`
	Turnover  *float64   `json:"turnover"`
	Industry  string     `json:"industry"`
	Sentiment string     `json:"sentiment"`

	// jsonb 원문; 디코딩하지 않으므로 null/문자열/중첩 값도 바이트 단위로 보존
	Indicators json.RawMessage `json:"indicators"`
}

// ReturnVector 전방 수익률 벡터
// nil 원소 = 데이터 없음 (0으로 강제 변환하지 않음)
type ReturnVector struct {
	Values []*float64 `json:"values"`
}

// NewReturnVector returns an all-null vector of the given length
func NewReturnVector(length int) ReturnVector {
	return ReturnVector{Values: make([]*float64, length)}
}

// Slot returns the value at 1-based slot i, or nil when missing
func (v ReturnVector) Slot(i int) *float64 {
	if i < 1 || i > len(v.Values) {
		return nil
	}
	return v.Values[i-1]
}

// Last returns the final slot, the pending flag in the store
func (v ReturnVector) Last() *float64 {
	if len(v.Values) == 0 {
		return nil
	}
	return v.Values[len(v.Values)-1]
}

// Filled counts non-null slots
func (v ReturnVector) Filled() int {
	n := 0
	for _, x := range v.Values {
		if x != nil {
			n++
		}
	}
	return n
}

// IsEmpty reports whether every slot is null
func (v ReturnVector) IsEmpty() bool {
	return v.Filled() == 0
}

// ReturnUpdate 신호 행 + 계산된 벡터 (writer 입력)
type ReturnUpdate struct {
	Row    SignalRow
	Vector ReturnVector
}

// TableSpec 대상 신호 테이블 정의
type TableSpec struct {
	Name          string // 테이블명 (schema.table 허용)
	KeyByStrategy bool   // 유니크 키에 strategy 포함 여부
	SlotPrefix    string // 수익률 컬럼 접두어 (rate_ → rate_1..rate_100)
	Horizon       int
}

// SlotColumn returns the column name for 1-based slot i
func (t TableSpec) SlotColumn(i int) string {
	return t.SlotPrefix + strconv.Itoa(i)
}

// PendingColumn returns the final slot column, NULL means pending
func (t TableSpec) PendingColumn() string {
	return t.SlotColumn(t.Horizon)
}

// TableResult 테이블 단위 처리 결과
type TableResult struct {
	Table    string        `json:"table"`
	Pending  int           `json:"pending"`  // 백로그 행 수
	Computed int           `json:"computed"` // anchor 확인 후 정상 계산된 행
	Degraded int           `json:"degraded"` // 전부 null로 처리된 행
	Short    int           `json:"short"`    // 마지막 슬롯이 null → 다음 실행에서도 pending
	Written  int           `json:"written"`
	Skipped  bool          `json:"skipped"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the table task finished without a table-level error
func (r TableResult) OK() bool {
	return r.Err == nil
}

// DateInt converts a time to its YYYYMMDD integer form
func DateInt(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}
