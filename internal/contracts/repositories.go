package contracts

import (
	"context"
)

// ⭐ SSOT: Repository 인터페이스 정의는 여기서만

// PriceRepository 가격 패널 소스 (date_int 범위 조회)
type PriceRepository interface {
	GetBarsInRange(ctx context.Context, fromDateInt, toDateInt int) ([]PriceBar, error)
}

// SignalRepository 신호 테이블 백로그 조회
type SignalRepository interface {
	FetchPending(ctx context.Context, table TableSpec) ([]SignalRow, error)
	CountPending(ctx context.Context, table TableSpec) (int, error)
}

// ReturnWriter 계산된 수익률 벡터를 신호 테이블에 기록
type ReturnWriter interface {
	Write(ctx context.Context, table TableSpec, updates []ReturnUpdate) (int, error)
}
