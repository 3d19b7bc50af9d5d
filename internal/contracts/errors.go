package contracts

import (
	"errors"
	"fmt"
)

// ⭐ SSOT: 백테스트 에러 분류는 여기서만

var (
	// ErrDataUnavailable 패널 로드 실패 또는 빈 패널 (쓰기 없이 진행)
	ErrDataUnavailable = errors.New("price panel unavailable")

	// ErrWindowNotFound 신호 키와 정확히 일치하는 가격 bar 없음
	ErrWindowNotFound = errors.New("anchor bar not found")

	// ErrBadAnchor 기준 종가가 0 이거나 없음
	ErrBadAnchor = errors.New("invalid anchor close")
)

// BacklogQueryError 백로그 조회 실패 (해당 테이블만 중단)
type BacklogQueryError struct {
	Table string
	Err   error
}

func (e *BacklogQueryError) Error() string {
	return fmt.Sprintf("backlog query on %s: %v", e.Table, e.Err)
}

func (e *BacklogQueryError) Unwrap() error {
	return e.Err
}

// RowComputationError 행 단위 계산 실패 (전부 null 벡터로 흡수됨)
type RowComputationError struct {
	Code    string
	DateInt int
	Err     error
}

func (e *RowComputationError) Error() string {
	return fmt.Sprintf("row %s@%d: %v", e.Code, e.DateInt, e.Err)
}

func (e *RowComputationError) Unwrap() error {
	return e.Err
}

// BatchWriteError 재시도 후에도 배치 쓰기 실패 (배치 폐기)
type BatchWriteError struct {
	Table    string
	Attempts int
	Size     int
	Sample   *SignalRow // 실패한 레코드 샘플
	Err      error
}

func (e *BatchWriteError) Error() string {
	if e.Sample != nil {
		return fmt.Sprintf("batch write on %s failed after %d attempts (%d rows, sample %s@%d): %v",
			e.Table, e.Attempts, e.Size, e.Sample.Code, e.Sample.DateInt, e.Err)
	}
	return fmt.Sprintf("batch write on %s failed after %d attempts (%d rows): %v",
		e.Table, e.Attempts, e.Size, e.Err)
}

func (e *BatchWriteError) Unwrap() error {
	return e.Err
}
