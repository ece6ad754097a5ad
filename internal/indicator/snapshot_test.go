package indicator

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stochroc/internal/model"
)

// roundTrip snapshots src through JSON into dst.
func roundTrip(t *testing.T, src, dst Snapshottable) {
	t.Helper()
	data, err := json.Marshal(src.Snapshot())
	require.NoError(t, err)

	var snap IndicatorSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	require.NoError(t, dst.RestoreFromSnapshot(snap))
}

func TestSnapshot_RoundTripContinuesIdentically(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	warm := randomSeries(r, 2)
	more := randomSeries(r, 60)

	pairs := []struct {
		name     string
		src, dst Snapshottable
	}{
		{"MIN", DefaultMinimum(), DefaultMinimum()},
		{"MAX", DefaultMaximum(), DefaultMaximum()},
		{"FAST_STOCH", DefaultFastStochastic(), DefaultFastStochastic()},
		{"ROC", DefaultRateOfChange(), DefaultRateOfChange()},
	}

	for _, p := range pairs {
		t.Run(p.name, func(t *testing.T) {
			// Snapshot before the window fills so sentinels are serialized too.
			for _, v := range warm {
				p.src.Update(bar{high: v + 1, low: v - 1, close: v + 100})
			}
			roundTrip(t, p.src, p.dst)

			assert.Equal(t, p.src.Value(), p.dst.Value())
			assert.Equal(t, p.src.Ready(), p.dst.Ready())

			for i, v := range more {
				b := bar{high: v + 1, low: v - 1, close: v + 100}
				p.src.Update(b)
				p.dst.Update(b)
				require.Equal(t, p.src.Value(), p.dst.Value(), "step %d", i)
				require.Equal(t, p.src.Ready(), p.dst.Ready(), "step %d", i)
			}
		})
	}
}

func TestSnapshot_NonFiniteValues(t *testing.T) {
	roc, _ := NewRateOfChange(1)
	roc.Calc(0)
	roc.Calc(5) // +Inf

	data, err := json.Marshal(roc.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"+Inf"`)

	var snap IndicatorSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.True(t, math.IsInf(float64(snap.Current), 1))

	var f Float
	require.NoError(t, json.Unmarshal([]byte(`"NaN"`), &f))
	assert.True(t, math.IsNaN(float64(f)))
	require.NoError(t, json.Unmarshal([]byte(`-2.5`), &f))
	assert.Equal(t, Float(-2.5), f)
}

func TestSnapshot_RestoreRejectsMismatch(t *testing.T) {
	src, _ := NewMinimum(5)
	src.Calc(1)

	dst, _ := NewMinimum(6)
	assert.Error(t, dst.RestoreFromSnapshot(src.Snapshot()))

	other, _ := NewMaximum(5)
	assert.Error(t, other.RestoreFromSnapshot(src.Snapshot()))

	bad := src.Snapshot()
	bad.Min.Cursor = 99
	same, _ := NewMinimum(5)
	assert.Error(t, same.RestoreFromSnapshot(bad))
}

func TestSnapshotEngine_RoundTrip(t *testing.T) {
	configs := []TFIndicatorConfig{
		{TF: 60, Indicators: []IndicatorConfig{
			{Type: TypeFastStoch, Length: 5},
			{Type: TypeROC, Length: 3},
		}},
	}
	// bare has no exchange, so its key is ":2885".
	bare := func(p float64) model.Candle {
		c := makeCandle("2885", 60, p+1, p-1, p)
		c.Exchange = ""
		return c
	}

	engine := mustEngine(t, configs)
	for _, p := range []float64{100, 101, 99, 104, 102, 98} {
		engine.Process(makeCandle("SBIN", 60, p+1, p-1, p))
		engine.Process(makeCandle("INFY", 60, 2*p+1, 2*p-1, 2*p))
		engine.Process(bare(3 * p))
	}

	snap, err := SnapshotEngine(engine, "1700000000000-0")
	require.NoError(t, err)
	assert.Len(t, snap.Tokens, 3)

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded EngineSnapshot
	require.NoError(t, json.Unmarshal(data, &decoded))

	restored, err := RestoreEngine(configs, &decoded)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Tokens())
	assert.Zero(t, restored.RestoreFailures())

	for _, p := range []float64{97, 105, 103} {
		for _, c := range []model.Candle{makeCandle("SBIN", 60, p+1, p-1, p), bare(3 * p)} {
			want := engine.Process(c)
			got := restored.Process(c)
			require.Len(t, got, 2)
			for i := range want {
				assert.Equal(t, want[i].Name, got[i].Name)
				assert.Equal(t, want[i].Value, got[i].Value, "%s %s", c.Key(), want[i].Name)
			}
		}
	}
	assert.Equal(t, 3, restored.Tokens(), "restored state is found again, not duplicated")
}

func TestWindowRestore_RecomputesExtremumIndex(t *testing.T) {
	src, _ := NewMinimum(3)
	for _, v := range []float64{5, 2, 7} {
		src.Calc(v)
	}
	snap := src.Snapshot()
	snap.Min.Extremum = 2 // points at 7, not at the minimum

	dst, _ := NewMinimum(3)
	require.NoError(t, dst.RestoreFromSnapshot(snap))
	assert.Equal(t, 2.0, dst.Calc(9))
	assert.Equal(t, 7.0, dst.Calc(8), "evicting the 2 rescans")
}

func TestRestoreEngine_CountsRejectedIndicators(t *testing.T) {
	configs := []TFIndicatorConfig{
		{TF: 60, Indicators: []IndicatorConfig{
			{Type: TypeMin, Length: 3},
			{Type: TypeMax, Length: 3},
		}},
	}
	engine := mustEngine(t, configs)
	engine.Process(flatCandle("T", 60, 10))

	snap, err := SnapshotEngine(engine, "1-0")
	require.NoError(t, err)
	require.Len(t, snap.Tokens, 1)
	for i := range snap.Tokens[0].Indicators {
		if snap.Tokens[0].Indicators[i].Type == TypeMin {
			snap.Tokens[0].Indicators[i].Min.Slots = nil
		}
	}

	restored, err := RestoreEngine(configs, snap)
	require.NoError(t, err)
	assert.Equal(t, 1, restored.RestoreFailures())
	assert.Equal(t, 1, restored.Tokens())
}

func TestRestoreEngine_ConfigChangeColdStartsNewIndicators(t *testing.T) {
	old := []TFIndicatorConfig{
		{TF: 60, Indicators: []IndicatorConfig{{Type: TypeMax, Length: 3}}},
	}
	engine := mustEngine(t, old)
	engine.Process(flatCandle("T", 60, 50))

	snap, err := SnapshotEngine(engine, "")
	require.NoError(t, err)

	next := []TFIndicatorConfig{
		{TF: 60, Indicators: []IndicatorConfig{
			{Type: TypeMin, Length: 3},
			{Type: TypeMax, Length: 3},
		}},
		{TF: 300, Indicators: []IndicatorConfig{{Type: TypeROC, Length: 2}}},
	}
	restored, err := RestoreEngine(next, snap)
	require.NoError(t, err)

	res := restored.Process(flatCandle("T", 60, 10))
	require.Len(t, res, 2)
	assert.Equal(t, 10.0, res[0].Value, "MIN_3 starts cold")
	assert.Equal(t, 50.0, res[1].Value, "MAX_3 keeps its window")
}

func TestRestorer_NilSnapshotColdStarts(t *testing.T) {
	configs := []TFIndicatorConfig{
		{TF: 60, Indicators: []IndicatorConfig{{Type: TypeMin, Length: 3}}},
	}
	engine, err := NewRestorer(configs).RestoreFromSnap(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, engine.Tokens())

	engine, err = NewRestorer(configs).RestoreFromSnap(&EngineSnapshot{Version: 1})
	require.NoError(t, err, "unsupported versions fall back to cold start")
	assert.Equal(t, 0, engine.Tokens())
}
