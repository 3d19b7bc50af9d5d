package forward

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-backtest/internal/cache"
	"github.com/wonny/aegis-backtest/internal/contracts"
)

// series builds consecutive-weekday-ish bars for one code starting at start
func series(code string, start int, closes ...float64) []contracts.PriceBar {
	bars := make([]contracts.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = contracts.PriceBar{DateInt: start + i, Code: code, Close: c}
	}
	return bars
}

func values(v contracts.ReturnVector, n int) []any {
	out := make([]any, n)
	for i := 0; i < n; i++ {
		if v.Values[i] == nil {
			out[i] = nil
		} else {
			out[i] = *v.Values[i]
		}
	}
	return out
}

func TestCalculator_EndToEnd(t *testing.T) {
	// closes [10, 11, 9, 12] on D0..D3, signal on D0
	panel := cache.NewPanel(series("X", 20240101, 10, 11, 9, 12), 0, 0)
	calc := NewCalculator(panel, contracts.Horizon, zerolog.Nop())

	vec, err := calc.Vector(contracts.SignalRow{Code: "X", DateInt: 20240101})
	require.NoError(t, err)
	require.Len(t, vec.Values, 100)

	assert.Equal(t, []any{10.00, -10.00, 20.00}, values(vec, 3))
	for i := 4; i <= 100; i++ {
		assert.Nil(t, vec.Slot(i), "slot %d", i)
	}
	assert.Nil(t, vec.Last())
}

func TestCompute_RelativeToAnchor(t *testing.T) {
	tests := []struct {
		name string
		next float64
		want float64
	}{
		{"up ten percent", 110, 10.00},
		{"down ten percent", 90, -10.00},
		{"rounded to two places", 100.123, 0.12},
		{"rounded half away", 100.125, 0.13},
		{"flat", 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vec, err := Compute(Window(series("A", 1, 100, tt.next)), contracts.Horizon)
			require.NoError(t, err)
			require.NotNil(t, vec.Slot(1))
			assert.Equal(t, tt.want, *vec.Slot(1))
			assert.Nil(t, vec.Slot(2))
		})
	}
}

func TestCompute_NotPriorSession(t *testing.T) {
	vec, err := Compute(Window(series("A", 1, 100, 110, 121)), contracts.Horizon)
	require.NoError(t, err)
	assert.Equal(t, 21.00, *vec.Slot(2), "slot 2 is relative to the anchor, not slot 1's close")
}

func TestCompute_FullWindow(t *testing.T) {
	closes := make([]float64, 150)
	for i := range closes {
		closes[i] = 10 + float64(i)
	}

	panel := cache.NewPanel(series("A", 1, closes...), 0, 0)
	w, err := Resolve(contracts.SignalRow{Code: "A", DateInt: 1}, panel, contracts.Horizon)
	require.NoError(t, err)
	assert.Len(t, w, 101, "anchor + 100 forward sessions")

	vec, err := Compute(w, contracts.Horizon)
	require.NoError(t, err)
	assert.Equal(t, 100, vec.Filled())
	require.NotNil(t, vec.Last())
	assert.Equal(t, 1000.00, *vec.Last())
}

func TestCompute_ShortWindow(t *testing.T) {
	for _, n := range []int{1, 2, 50, 100} {
		closes := make([]float64, n)
		for i := range closes {
			closes[i] = 20
		}
		vec, err := Compute(Window(series("A", 1, closes...)), contracts.Horizon)
		require.NoError(t, err)
		assert.Equal(t, n-1, vec.Filled(), "window len %d", n)
		assert.Nil(t, vec.Last())
	}
}

func TestCompute_BadAnchor(t *testing.T) {
	for _, anchor := range []float64{0, math.NaN()} {
		vec, err := Compute(Window(series("A", 1, anchor, 10, 11)), contracts.Horizon)
		assert.ErrorIs(t, err, contracts.ErrBadAnchor)
		assert.True(t, vec.IsEmpty())
	}
}

func TestCompute_MissingForwardClose(t *testing.T) {
	vec, err := Compute(Window(series("A", 1, 10, math.NaN(), 12)), contracts.Horizon)
	require.NoError(t, err)
	assert.Nil(t, vec.Slot(1), "missing close stays null, never zero")
	assert.Equal(t, 20.00, *vec.Slot(2))
}

func TestResolve_ExactMatchOnly(t *testing.T) {
	// gap: 20240105 missing
	bars := []contracts.PriceBar{
		{DateInt: 20240104, Code: "A", Close: 10},
		{DateInt: 20240108, Code: "A", Close: 11},
	}
	panel := cache.NewPanel(bars, 0, 0)

	_, err := Resolve(contracts.SignalRow{Code: "A", DateInt: 20240105}, panel, contracts.Horizon)
	assert.ErrorIs(t, err, contracts.ErrWindowNotFound)

	_, err = Resolve(contracts.SignalRow{Code: "B", DateInt: 20240104}, panel, contracts.Horizon)
	assert.ErrorIs(t, err, contracts.ErrWindowNotFound)

	_, err = Resolve(contracts.SignalRow{Code: "A", DateInt: 20240109}, panel, contracts.Horizon)
	assert.ErrorIs(t, err, contracts.ErrWindowNotFound)

	w, err := Resolve(contracts.SignalRow{Code: "A", DateInt: 20240104}, panel, contracts.Horizon)
	require.NoError(t, err)
	assert.Equal(t, 1, w.Sessions())
}

func TestCalculator_NotFoundDegradesToNull(t *testing.T) {
	panel := cache.NewPanel(series("A", 20240101, 10, 11), 0, 0)
	calc := NewCalculator(panel, contracts.Horizon, zerolog.Nop())

	vec, err := calc.Vector(contracts.SignalRow{Code: "A", DateInt: 20230101})
	require.Error(t, err)

	var rowErr *contracts.RowComputationError
	require.True(t, errors.As(err, &rowErr))
	assert.ErrorIs(t, err, contracts.ErrWindowNotFound)
	assert.Len(t, vec.Values, 100)
	assert.True(t, vec.IsEmpty())
}

func TestCalculator_NotFoundLoggedAtWarn(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.InfoLevel)
	panel := cache.NewPanel(series("A", 20240101, 10, 11), 0, 0)
	calc := NewCalculator(panel, contracts.Horizon, log)

	_, err := calc.Vector(contracts.SignalRow{Code: "B", DateInt: 20240101})
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, "no anchor bar in panel")
	assert.Contains(t, out, `"code":"B"`)
}

func TestCalculator_Deterministic(t *testing.T) {
	panel := cache.NewPanel(series("A", 1, 3.33, 3.47, 3.12, 3.9), 0, 0)
	calc := NewCalculator(panel, contracts.Horizon, zerolog.Nop())
	row := contracts.SignalRow{Code: "A", DateInt: 1}

	a, _ := calc.Vector(row)
	b, _ := calc.Vector(row)
	assert.Equal(t, values(a, 100), values(b, 100))
}
