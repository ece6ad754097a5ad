package redis

import (
	"context"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"stochroc/internal/model"
)

const (
	defaultLatestTTL = 30 * time.Minute
	// Indicator streams keep ~3h of entries per timeframe, never fewer than this.
	minStreamLen = 200
)

// WriterConfig configures the indicator publisher.
type WriterConfig struct {
	MaxFailures  int           // consecutive pipeline failures before the breaker opens; 0 means 5
	ResetTimeout time.Duration // open duration before a probe; 0 means 10s
	LatestTTL    time.Duration // TTL of the "latest" keys; 0 means 30m
}

// Writer publishes indicator results: XADD to the per-indicator stream, SET
// of the latest value and PUBLISH for live subscribers, one pipeline per
// candle. Pipelines run through a circuit breaker so an unavailable Redis
// costs nothing on the hot path.
type Writer struct {
	client    *goredis.Client
	cb        *CircuitBreaker
	latestTTL time.Duration
	log       *slog.Logger

	// OnWrite observes each executed pipeline's duration (optional).
	OnWrite func(time.Duration)
}

// NewWriter wraps an already-connected client.
func NewWriter(client *goredis.Client, cfg WriterConfig) *Writer {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	if cfg.LatestTTL <= 0 {
		cfg.LatestTTL = defaultLatestTTL
	}
	return &Writer{
		client:    client,
		cb:        NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		latestTTL: cfg.LatestTTL,
		log:       slog.Default().With("component", "redis-writer"),
	}
}

// Breaker exposes the circuit breaker so callers can hook state changes.
func (w *Writer) Breaker() *CircuitBreaker { return w.cb }

// Publishable reports whether a result is written at all: warm-up values
// and NaN/Inf are kept off the wire.
func Publishable(r *model.IndicatorResult) bool {
	return r.Ready && r.Finite()
}

// streamMaxLen sizes an indicator stream to ~3h of candles for tf.
func streamMaxLen(tf int) int64 {
	if tf <= 0 {
		return minStreamLen
	}
	n := int64(10800/tf) + 100
	if n < minStreamLen {
		n = minStreamLen
	}
	return n
}

// WriteIndicatorBatch writes every publishable result in one pipeline and
// returns how many were queued. ErrCircuitOpen means nothing was sent.
func (w *Writer) WriteIndicatorBatch(ctx context.Context, results []model.IndicatorResult) (int, error) {
	pipe := w.client.Pipeline()
	queued := 0
	for i := range results {
		ind := &results[i]
		if !Publishable(ind) {
			continue
		}
		data := ind.JSON()
		if data == nil {
			continue
		}

		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: ind.StreamKey(),
			MaxLen: streamMaxLen(ind.TF),
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Set(ctx, ind.LatestKey(), data, w.latestTTL)
		pipe.Publish(ctx, ind.PubSubChannel(), data)
		queued++
	}
	if queued == 0 {
		return 0, nil
	}

	err := w.cb.Execute(func() error {
		start := time.Now()
		_, err := pipe.Exec(ctx)
		if w.OnWrite != nil {
			w.OnWrite(time.Since(start))
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return 0, err
		}
		return 0, errors.Wrapf(err, "indicator pipeline (%d results)", queued)
	}
	return queued, nil
}
