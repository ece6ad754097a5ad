package indengine

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"stochroc/internal/indicator"
	redisstore "stochroc/internal/store/redis"
)

type namedStore struct {
	name  string
	store SnapshotStore
}

// snapshotStores returns the checkpoint stores in restore priority order.
func (svc *Service) snapshotStores() []namedStore {
	stores := []namedStore{{"redis", svc.redisSnaps}}
	if svc.sqlStore != nil {
		stores = append(stores, namedStore{"sqlite", svc.sqlStore})
	}
	return stores
}

// latestSnapshot returns the first checkpoint found, trying stores in order.
func latestSnapshot(ctx context.Context, stores []namedStore) *indicator.EngineSnapshot {
	for _, s := range stores {
		log := slog.Default().With("component", "checkpoint", "store", s.name)
		snap, err := s.store.ReadLatestSnapshot(ctx)
		if err != nil {
			log.Warn("snapshot read failed", "err", err)
			continue
		}
		if snap != nil {
			log.Info("found snapshot", "stream_id", snap.StreamID, "tokens", len(snap.Tokens))
			return snap
		}
	}
	return nil
}

// restoreEngine builds the engine from the newest checkpoint (Redis, then
// SQLite) or cold. Returns the snapshot the engine was restored from, nil
// on a cold start.
func (svc *Service) restoreEngine(ctx context.Context) (*indicator.EngineSnapshot, error) {
	snap := latestSnapshot(ctx, svc.snapshotStores())

	engine, err := indicator.NewRestorer(svc.cfg.IndicatorConfigs).RestoreFromSnap(snap)
	if err != nil {
		return nil, err
	}
	// A snapshot that failed to restore leaves a cold engine; its offsets
	// would skip candles the engine never saw.
	if snap != nil && len(snap.Tokens) > 0 && engine.Tokens() == 0 {
		snap = nil
	}
	warnPartialRestore(svc.log, engine, snap)

	svc.proc = svc.newProcessor(engine)
	svc.proc.restoreOffsets(snap)
	svc.prom.TokensTracked.Set(float64(engine.Tokens()))
	return snap, nil
}

// warnPartialRestore logs when some indicators were cold-started while the
// snapshot's offsets are kept: those indicators warm up from the next
// candles instead of the replayed history. Reports whether it logged.
func warnPartialRestore(log *slog.Logger, engine *indicator.Engine, snap *indicator.EngineSnapshot) bool {
	failed := engine.RestoreFailures()
	if snap == nil || failed == 0 {
		return false
	}
	log.Warn("indicators cold-started after restore; offsets kept",
		"failed", failed, "stream_id", snap.StreamID, "offsets", snap.Offsets)
	return true
}

// catchUp creates the consumer groups, then replays the delta since snap.
// A group created at "$" after the replay would skip entries appended in
// between; created first, the overlap is delivered twice and the processor
// drops the duplicates by offset.
func (svc *Service) catchUp(ctx context.Context, snap *indicator.EngineSnapshot) error {
	if err := svc.reader.EnsureConsumerGroup(ctx, svc.streams); err != nil {
		return err
	}
	if n := svc.replayDelta(ctx, snap); n > 0 {
		svc.log.Info("replayed delta candles", "count", n)
	}
	return nil
}

// replayDelta folds the candles appended since snap into the engine before
// the consumer group starts. Streams with a recorded offset resume from it;
// a snapshot without offsets resumes every stream from its StreamID. Returns
// the number of candles processed.
func (svc *Service) replayDelta(ctx context.Context, snap *indicator.EngineSnapshot) int {
	if snap == nil {
		return 0
	}

	ch := make(chan redisstore.Message, candleBuffer)
	var replayErr error
	go func() {
		defer close(ch)
		for _, stream := range svc.streams {
			from := replayStart(snap, stream)
			if from == "" {
				continue
			}
			if _, err := svc.reader.ReplayFromID(ctx, stream, from, ch); err != nil {
				replayErr = multierr.Append(replayErr, err)
			}
		}
	}()

	n := 0
	for msg := range ch {
		if svc.proc.handle(ctx, msg) {
			n++
		}
	}
	if replayErr != nil {
		svc.log.Warn("delta replay incomplete", "err", replayErr)
	}
	return n
}

// replayStart picks the exclusive start ID for replaying stream after snap.
func replayStart(snap *indicator.EngineSnapshot, stream string) string {
	if len(snap.Offsets) == 0 {
		return snap.StreamID
	}
	return snap.Offsets[stream]
}

// checkpointLoop periodically saves engine state to every snapshot store.
func (svc *Service) checkpointLoop(ctx context.Context) error {
	ticker := time.NewTicker(svc.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap, err := svc.requestSnapshot(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				svc.log.Warn("snapshot failed", "err", err)
				continue
			}
			if err := svc.saveSnapshot(ctx, snap); err != nil {
				svc.log.Warn("checkpoint incomplete", "err", err)
				continue
			}
			svc.log.Debug("checkpoint saved", "tokens", len(snap.Tokens), "stream_id", snap.StreamID)
		}
	}
}

// requestSnapshot asks the process loop for a checkpoint and waits for it.
func (svc *Service) requestSnapshot(ctx context.Context) (*indicator.EngineSnapshot, error) {
	req := snapshotRequest{reply: make(chan snapshotResult, 1)}
	select {
	case svc.snaps <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.snap, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// saveSnapshot writes snap to every store; a failing store does not stop
// the others.
func (svc *Service) saveSnapshot(ctx context.Context, snap *indicator.EngineSnapshot) error {
	var (
		errs  error
		saved bool
	)
	for _, s := range svc.snapshotStores() {
		if err := s.store.SaveSnapshot(ctx, snap); err != nil {
			svc.prom.CheckpointsTotal.WithLabelValues(s.name, "error").Inc()
			errs = multierr.Append(errs, err)
			continue
		}
		svc.prom.CheckpointsTotal.WithLabelValues(s.name, "ok").Inc()
		saved = true
	}
	if saved {
		svc.health.SetLastCheckpoint(time.Now())
	}
	return errs
}
