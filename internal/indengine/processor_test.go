package indengine

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stochroc/internal/indicator"
	"stochroc/internal/metrics"
	"stochroc/internal/model"
	redisstore "stochroc/internal/store/redis"
)

const testStream = "candle:60s:NSE:2885"

type fakePublisher struct {
	batches [][]model.IndicatorResult
	err     error
}

func (f *fakePublisher) WriteIndicatorBatch(_ context.Context, results []model.IndicatorResult) (int, error) {
	f.batches = append(f.batches, results)
	if f.err != nil {
		return 0, f.err
	}
	return len(results), nil
}

type fakeHub struct {
	published []model.IndicatorResult
}

func (f *fakeHub) Publish(r model.IndicatorResult) bool {
	f.published = append(f.published, r)
	return true
}

func testConfigs() []indicator.TFIndicatorConfig {
	return []indicator.TFIndicatorConfig{{
		TF: 60,
		Indicators: []indicator.IndicatorConfig{
			{Type: indicator.TypeMax, Length: 2},
			{Type: indicator.TypeROC, Length: 1},
		},
	}}
}

func newTestProcessor(t *testing.T, pub *fakePublisher) (*processor, *fakeHub, *prometheus.Registry) {
	t.Helper()
	engine, err := indicator.NewEngine(testConfigs())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	hub := &fakeHub{}
	return newProcessor(engine, pub, hub, metrics.NewMetrics(reg), metrics.NewHealthStatus()), hub, reg
}

func candleMsg(stream, id, token string, price float64) redisstore.Message {
	return redisstore.Message{
		Stream: stream,
		ID:     id,
		Candle: model.Candle{
			Exchange:   "NSE",
			Token:      token,
			TF:         60,
			TS:         time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC),
			OpenPrice:  price,
			HighPrice:  price,
			LowPrice:   price,
			ClosePrice: price,
		},
	}
}

// counterValue sums every series of the named counter family.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestProcessor_SkipsFormingAndDuplicates(t *testing.T) {
	pub := &fakePublisher{}
	p, _, reg := newTestProcessor(t, pub)
	ctx := context.Background()

	forming := candleMsg(testStream, "1-0", "2885", 100)
	forming.Candle.Forming = true
	assert.False(t, p.handle(ctx, forming))

	assert.True(t, p.handle(ctx, candleMsg(testStream, "1-0", "2885", 100)))
	assert.False(t, p.handle(ctx, candleMsg(testStream, "1-0", "2885", 100)), "redelivered entry")
	assert.False(t, p.handle(ctx, candleMsg(testStream, "0-5", "2885", 100)), "older entry")
	assert.True(t, p.handle(ctx, candleMsg(testStream, "2-0", "2885", 101)))

	assert.Len(t, pub.batches, 2)
	assert.Equal(t, 2.0, counterValue(t, reg, "indengine_candles_total"))
	assert.Equal(t, 4.0, counterValue(t, reg, "indengine_indicators_total"))
}

func TestProcessor_BroadcastsOnlyReadyValues(t *testing.T) {
	p, hub, _ := newTestProcessor(t, &fakePublisher{})
	ctx := context.Background()

	p.handle(ctx, candleMsg(testStream, "1-0", "2885", 10))
	assert.Empty(t, hub.published, "nothing is ready after one candle")

	p.handle(ctx, candleMsg(testStream, "2-0", "2885", 11))
	require.Len(t, hub.published, 2)

	byName := make(map[string]float64)
	for _, r := range hub.published {
		byName[r.Name] = r.Value
	}
	assert.Equal(t, 11.0, byName["MAX_2"])
	assert.InDelta(t, 10.0, byName["ROC_1"], 1e-9)
}

func TestProcessor_CountsNonFiniteResults(t *testing.T) {
	p, hub, reg := newTestProcessor(t, &fakePublisher{})
	ctx := context.Background()

	p.handle(ctx, candleMsg(testStream, "1-0", "2885", 0))
	p.handle(ctx, candleMsg(testStream, "2-0", "2885", 5)) // ROC against a zero baseline

	assert.Equal(t, 1.0, counterValue(t, reg, "indengine_non_finite_results_total"))
	require.Len(t, hub.published, 1)
	assert.Equal(t, "MAX_2", hub.published[0].Name)
}

func TestProcessor_CircuitOpenCountsDroppedWrites(t *testing.T) {
	pub := &fakePublisher{err: redisstore.ErrCircuitOpen}
	p, _, reg := newTestProcessor(t, pub)
	ctx := context.Background()

	p.handle(ctx, candleMsg(testStream, "1-0", "2885", 10))
	assert.Equal(t, 1.0, counterValue(t, reg, "indengine_redis_dropped_writes_total"))

	pub.err = errors.New("connection reset")
	p.handle(ctx, candleMsg(testStream, "2-0", "2885", 11))
	assert.Equal(t, 1.0, counterValue(t, reg, "indengine_redis_dropped_writes_total"))
}

func TestProcessor_CheckpointCarriesOffsets(t *testing.T) {
	p, _, _ := newTestProcessor(t, &fakePublisher{})
	ctx := context.Background()
	other := "candle:60s:NSE:1594"

	p.handle(ctx, candleMsg(testStream, "5-0", "2885", 10))
	p.handle(ctx, candleMsg(other, "3-0", "1594", 20))

	snap, err := p.checkpoint()
	require.NoError(t, err)
	assert.Equal(t, "5-0", snap.StreamID)
	assert.Equal(t, map[string]string{testStream: "5-0", other: "3-0"}, snap.Offsets)
	assert.Len(t, snap.Tokens, 2)

	restored, _, _ := newTestProcessor(t, &fakePublisher{})
	restored.restoreOffsets(snap)
	assert.False(t, restored.handle(ctx, candleMsg(testStream, "4-0", "2885", 10)))
	assert.True(t, restored.handle(ctx, candleMsg(other, "4-0", "1594", 21)))
}

func TestProcessor_RunServesReloadAndSnapshot(t *testing.T) {
	p, _, reg := newTestProcessor(t, &fakePublisher{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan redisstore.Message)
	reloads := make(chan reloadRequest)
	snaps := make(chan snapshotRequest)
	done := make(chan struct{})
	go func() {
		p.run(ctx, in, reloads, snaps)
		close(done)
	}()

	in <- candleMsg(testStream, "1-0", "2885", 10)

	configs := append(testConfigs(), indicator.TFIndicatorConfig{
		TF:         300,
		Indicators: []indicator.IndicatorConfig{{Type: indicator.TypeMin, Length: 3}},
	})
	req := reloadRequest{configs: configs, reply: make(chan reloadResult, 1)}
	reloads <- req
	res := <-req.reply
	require.NoError(t, res.err)
	assert.Equal(t, 1, res.Preserved)
	assert.Equal(t, 1, res.Created)

	bad := reloadRequest{
		configs: []indicator.TFIndicatorConfig{{TF: 60, Indicators: []indicator.IndicatorConfig{{Type: indicator.TypeMin, Length: 0}}}},
		reply:   make(chan reloadResult, 1),
	}
	reloads <- bad
	assert.ErrorIs(t, (<-bad.reply).err, indicator.ErrInvalidParameter)

	sreq := snapshotRequest{reply: make(chan snapshotResult, 1)}
	snaps <- sreq
	sres := <-sreq.reply
	require.NoError(t, sres.err)
	assert.Equal(t, "1-0", sres.snap.StreamID)
	assert.Len(t, sres.snap.Tokens, 1)

	assert.Equal(t, 2.0, counterValue(t, reg, "indengine_reloads_total"))

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not stop on cancel")
	}
}
