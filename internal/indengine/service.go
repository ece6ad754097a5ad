// Package indengine is the indicator engine service: it consumes finalized
// candles from Redis streams, folds them into the indicator engine and
// publishes the results to Redis and WebSocket subscribers.
package indengine

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"stochroc/internal/gateway"
	"stochroc/internal/indicator"
	"stochroc/internal/metrics"
	"stochroc/internal/model"
	redisstore "stochroc/internal/store/redis"
	sqlitestore "stochroc/internal/store/sqlite"
)

const (
	candleBuffer     = 5000
	livenessInterval = 10 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// Service is the top-level orchestrator for the indicator engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg Config

	rdb        *goredis.Client
	reader     CandleReader
	writer     *redisstore.Writer
	redisSnaps *redisstore.SnapshotStore
	sqlStore   *sqlitestore.Store // nil when SQLite could not be opened

	registry *prometheus.Registry
	prom     *metrics.Metrics
	health   *metrics.HealthStatus
	hub      *gateway.Hub
	proc     *processor

	streams []string
	candles chan redisstore.Message
	reloads chan reloadRequest
	snaps   chan snapshotRequest

	log *slog.Logger
}

// New connects to Redis and SQLite and wires the service. Redis is required;
// SQLite failures only cost the secondary checkpoint store.
func New(ctx context.Context, cfg Config) (*Service, error) {
	rdb, err := redisstore.Connect(ctx, redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := &Service{
		cfg:        cfg,
		rdb:        rdb,
		reader:     redisstore.NewReader(rdb, redisstore.ReaderConfig{ConsumerGroup: cfg.ConsumerGroup, ConsumerName: cfg.ConsumerName}),
		writer:     redisstore.NewWriter(rdb, redisstore.WriterConfig{}),
		redisSnaps: redisstore.NewSnapshotStore(rdb, cfg.SnapshotKey, 0),
		registry:   registry,
		prom:       metrics.NewMetrics(registry),
		health:     metrics.NewHealthStatus(),
		hub:        gateway.NewHub(),
		candles:    make(chan redisstore.Message, candleBuffer),
		reloads:    make(chan reloadRequest),
		snaps:      make(chan snapshotRequest),
		log:        slog.Default().With("component", "indengine"),
	}

	svc.sqlStore, err = sqlitestore.Open(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		svc.log.Warn("sqlite unavailable, checkpointing to redis only", "path", cfg.SQLitePath, "err", err)
		svc.sqlStore = nil
	}

	svc.writer.OnWrite = func(d time.Duration) { svc.prom.RedisWriteDur.Observe(d.Seconds()) }
	svc.writer.Breaker().OnStateChange = func(from, to redisstore.State) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		svc.log.Warn("redis circuit breaker state change", "from", from.String(), "to", to.String())
	}
	svc.hub.OnClients = func(n int) { svc.prom.WSClients.Set(float64(n)) }

	return svc, nil
}

// Run restores the engine, catches up on missed candles and runs every
// subsystem until ctx is cancelled or one of them fails.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	svc.log.Info("starting indicator engine", "tfs", cfg.EnabledTFs, "snapshot_interval", cfg.SnapshotInterval)

	snap, err := svc.restoreEngine(ctx)
	if err != nil {
		return multierr.Append(err, svc.close())
	}

	svc.streams, err = svc.buildStreams(ctx)
	if err != nil {
		return multierr.Append(err, svc.close())
	}
	svc.log.Info("consuming candle streams", "count", len(svc.streams))

	if err := svc.catchUp(ctx, snap); err != nil {
		return multierr.Append(err, svc.close())
	}

	svc.health.SetRedisConnected(true)
	svc.health.SetSQLiteOK(svc.sqlStore != nil)
	svc.health.SetEngineOK(true)
	svc.health.SetEnabledTFs(cfg.EnabledTFs)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		svc.proc.run(gctx, svc.candles, svc.reloads, svc.snaps)
		return nil
	})
	g.Go(func() error { return svc.consume(gctx) })
	g.Go(func() error {
		svc.reader.RunPELReclaimer(gctx, svc.streams, cfg.PELInterval, cfg.PELMinIdle, svc.candles, func(count int) {
			svc.prom.PELMessagesReclaimed.Add(float64(count))
			svc.log.Info("reclaimed stale PEL messages", "count", count)
		})
		return nil
	})
	g.Go(func() error { return svc.checkpointLoop(gctx) })
	g.Go(func() error { return svc.subscribeConfig(gctx) })
	g.Go(func() error {
		svc.health.RunLivenessChecker(gctx, svc.rdb, svc.sqlDB(), livenessInterval)
		return nil
	})
	g.Go(func() error { return svc.serveHTTP(gctx) })

	svc.log.Info("all systems running")
	runErr := g.Wait()

	// Every goroutine has stopped, so the engine is ours again.
	return multierr.Combine(runErr, svc.finalCheckpoint(), svc.close())
}

// finalCheckpoint saves the engine state one last time on shutdown.
func (svc *Service) finalCheckpoint() error {
	snap, err := svc.proc.checkpoint()
	if err != nil {
		return errors.Wrap(err, "final snapshot")
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.saveSnapshot(ctx, snap); err != nil {
		return errors.Wrap(err, "final snapshot")
	}
	svc.log.Info("final snapshot saved", "tokens", len(snap.Tokens))
	return nil
}

func (svc *Service) close() error {
	svc.hub.Close()
	var err error
	if svc.sqlStore != nil {
		err = multierr.Append(err, svc.sqlStore.Close())
	}
	err = multierr.Append(err, svc.rdb.Close())
	svc.log.Info("shutdown complete")
	return err
}

func (svc *Service) sqlDB() *sql.DB {
	if svc.sqlStore == nil {
		return nil
	}
	return svc.sqlStore.DB()
}

// buildStreams lists the candle streams to consume: one per configured
// token and timeframe, or every existing stream of the enabled timeframes.
func (svc *Service) buildStreams(ctx context.Context) ([]string, error) {
	if len(svc.cfg.SubscribeTokens) == 0 {
		streams, err := svc.reader.DiscoverStreams(ctx, svc.cfg.EnabledTFs)
		if err != nil {
			return nil, err
		}
		if len(streams) == 0 {
			svc.log.Warn("no candle streams found; set SUBSCRIBE_TOKENS or start the candle producer first")
		}
		return streams, nil
	}

	streams := make([]string, 0, len(svc.cfg.EnabledTFs)*len(svc.cfg.SubscribeTokens))
	for _, tf := range svc.cfg.EnabledTFs {
		for _, key := range svc.cfg.SubscribeTokens {
			streams = append(streams, model.CandleStreamKey(tf, key))
		}
	}
	return streams, nil
}

// newProcessor wires a processor around engine with the service's sinks.
func (svc *Service) newProcessor(engine *indicator.Engine) *processor {
	return newProcessor(engine, svc.writer, svc.hub, svc.prom, svc.health)
}
