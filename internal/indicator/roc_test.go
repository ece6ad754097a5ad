package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateOfChange(t *testing.T) {
	_, err := NewRateOfChange(0)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = NewRateOfChange(1)
	assert.NoError(t, err)

	_, err = NewRateOfChange(100_000)
	assert.NoError(t, err)
}

func TestRateOfChange_Calc(t *testing.T) {
	roc, err := NewRateOfChange(3)
	require.NoError(t, err)

	inputs := []float64{10.0, 10.4, 10.57, 10.8, 10.9, 10.0}
	want := []float64{0.0, 4.0, 5.7, 8.0, 4.808, -5.393}
	for i, v := range inputs {
		assert.InDelta(t, want[i], roc.Calc(v), 5e-4, "input %d (%v)", i, v)
	}
}

func TestRateOfChange_NextWithBars(t *testing.T) {
	roc, err := NewRateOfChange(3)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, roc.Next(bar{close: 10.0}), 5e-4)
	assert.InDelta(t, 4.0, roc.Next(bar{close: 10.4}), 5e-4)
	assert.InDelta(t, 5.7, roc.Next(bar{close: 10.57}), 5e-4)
}

func TestRateOfChange_Length2(t *testing.T) {
	roc, _ := NewRateOfChange(2)

	assert.Equal(t, 0.0, roc.Calc(10.0))
	assert.Equal(t, -3.0, math.Round(roc.Calc(9.7)))    // (9.7 - 10) / 10 * 100
	assert.Equal(t, 100.0, math.Round(roc.Calc(20.0)))  // (20 - 10) / 10 * 100
	assert.Equal(t, 106.0, math.Round(roc.Calc(20.0)))  // (20 - 9.7) / 9.7 * 100
}

func TestRateOfChange_Ready(t *testing.T) {
	roc, _ := NewRateOfChange(3)
	for i := 0; i < 3; i++ {
		roc.Calc(10)
		assert.False(t, roc.Ready(), "step %d", i)
	}
	roc.Calc(11)
	assert.True(t, roc.Ready())
	assert.Equal(t, 3, roc.size, "queue should hold length prices after warm-up")
}

func TestRateOfChange_Reset(t *testing.T) {
	roc, _ := NewRateOfChange(3)

	roc.Calc(12.3)
	roc.Calc(15.0)

	roc.Reset()
	assert.False(t, roc.Ready())

	assert.InDelta(t, 0.0, roc.Calc(10.0), 5e-4)
	assert.InDelta(t, 4.0, roc.Calc(10.4), 5e-4)
	assert.InDelta(t, 5.7, roc.Calc(10.57), 5e-4)
}

func TestRateOfChange_ZeroBaselinePropagates(t *testing.T) {
	roc, _ := NewRateOfChange(1)

	roc.Calc(0)
	assert.True(t, math.IsInf(roc.Calc(5), 1))

	roc.Reset()
	roc.Calc(0)
	assert.True(t, math.IsNaN(roc.Calc(0)))
}

func TestRateOfChange_DefaultAndString(t *testing.T) {
	assert.Equal(t, uint32(9), DefaultRateOfChange().Length())

	roc, _ := NewRateOfChange(5)
	assert.Equal(t, "ROC(5)", roc.String())
}
