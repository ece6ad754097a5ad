package indengine

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"stochroc/internal/indicator"
	"stochroc/internal/logger"
	"stochroc/internal/metrics"
	redisstore "stochroc/internal/store/redis"
)

// reloadRequest asks the process loop to swap indicator configs.
type reloadRequest struct {
	configs []indicator.TFIndicatorConfig
	reply   chan reloadResult
}

type reloadResult struct {
	Preserved int `json:"preserved"`
	Created   int `json:"created"`
	err       error
}

// snapshotRequest asks the process loop for a checkpoint.
type snapshotRequest struct {
	reply chan snapshotResult
}

type snapshotResult struct {
	snap *indicator.EngineSnapshot
	err  error
}

// processor owns the engine. Only the goroutine running run (or, before
// that, the restore path) touches it, so the engine needs no lock.
type processor struct {
	engine    *indicator.Engine
	offsets   map[string]string // stream -> last processed entry ID
	publisher ResultPublisher
	hub       Broadcaster
	prom      *metrics.Metrics
	health    *metrics.HealthStatus
	log       *slog.Logger
}

func newProcessor(engine *indicator.Engine, pub ResultPublisher, hub Broadcaster, prom *metrics.Metrics, health *metrics.HealthStatus) *processor {
	return &processor{
		engine:    engine,
		offsets:   make(map[string]string),
		publisher: pub,
		hub:       hub,
		prom:      prom,
		health:    health,
		log:       slog.Default().With("component", "processor"),
	}
}

// restoreOffsets seeds the dedup offsets from a checkpoint.
func (p *processor) restoreOffsets(snap *indicator.EngineSnapshot) {
	if snap == nil {
		return
	}
	for stream, id := range snap.Offsets {
		p.offsets[stream] = id
	}
}

// handle folds one stream entry into the engine and publishes the results.
// Forming candles and entries at or before the stream's offset (redelivered
// after a replay or reclaim) are skipped. Reports whether the candle was
// processed.
func (p *processor) handle(ctx context.Context, msg redisstore.Message) bool {
	c := msg.Candle
	if c.Forming {
		return false
	}
	if msg.ID != "" {
		if last, ok := p.offsets[msg.Stream]; ok && redisstore.CompareIDs(msg.ID, last) <= 0 {
			return false
		}
	}

	start := time.Now()
	results := p.engine.Process(c)
	p.prom.IndicatorComputeDur.Observe(time.Since(start).Seconds())
	p.prom.CandlesTotal.Inc()
	p.health.SetLastCandleTime(time.Now())

	if msg.ID != "" {
		p.offsets[msg.Stream] = msg.ID
	}
	if len(results) == 0 {
		return true
	}

	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(c.Key(), c.TF, c.TS))
	for i := range results {
		r := &results[i]
		p.prom.IndicatorsTotal.WithLabelValues(r.Name).Inc()
		if !r.Finite() {
			p.prom.NonFiniteResults.Inc()
			p.log.Debug("non-finite indicator value", append(logger.LogWithTrace(ctx), "indicator", r.Name)...)
			continue
		}
		if redisstore.Publishable(r) {
			p.hub.Publish(*r)
		}
	}

	if _, err := p.publisher.WriteIndicatorBatch(ctx, results); err != nil {
		if errors.Is(err, redisstore.ErrCircuitOpen) {
			p.prom.RedisDroppedWrites.Inc()
		} else {
			p.log.Warn("publish failed", append(logger.LogWithTrace(ctx), "err", err)...)
		}
	}
	return true
}

// checkpoint captures the engine and the per-stream offsets.
func (p *processor) checkpoint() (*indicator.EngineSnapshot, error) {
	var high string
	offsets := make(map[string]string, len(p.offsets))
	for stream, id := range p.offsets {
		offsets[stream] = id
		if redisstore.CompareIDs(id, high) > 0 {
			high = id
		}
	}

	snap, err := indicator.SnapshotEngine(p.engine, high)
	if err != nil {
		return nil, err
	}
	snap.Offsets = offsets
	p.prom.TokensTracked.Set(float64(p.engine.Tokens()))
	return snap, nil
}

func (p *processor) reload(configs []indicator.TFIndicatorConfig) reloadResult {
	preserved, created, err := p.engine.ReloadConfigs(configs)
	if err != nil {
		p.prom.ReloadsTotal.WithLabelValues("rejected").Inc()
		return reloadResult{err: err}
	}
	p.prom.ReloadsTotal.WithLabelValues("ok").Inc()

	tfs := make([]int, len(configs))
	for i, cfg := range configs {
		tfs[i] = cfg.TF
	}
	p.health.SetEnabledTFs(tfs)
	return reloadResult{Preserved: preserved, Created: created}
}

// run is the single owner loop: candles, reloads and checkpoint requests
// are serialized here. Returns when ctx is done or in is closed.
func (p *processor) run(ctx context.Context, in <-chan redisstore.Message, reloads <-chan reloadRequest, snaps <-chan snapshotRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			p.handle(ctx, msg)
		case req := <-reloads:
			req.reply <- p.reload(req.configs)
		case req := <-snaps:
			snap, err := p.checkpoint()
			req.reply <- snapshotResult{snap: snap, err: err}
		}
	}
}
