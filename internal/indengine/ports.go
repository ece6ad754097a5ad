package indengine

import (
	"context"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"stochroc/internal/indicator"
	"stochroc/internal/model"
	redisstore "stochroc/internal/store/redis"
)

// SnapshotStore persists engine checkpoints. Redis and SQLite both satisfy it.
type SnapshotStore interface {
	// ReadLatestSnapshot returns nil, nil when no checkpoint exists.
	ReadLatestSnapshot(ctx context.Context) (*indicator.EngineSnapshot, error)
	SaveSnapshot(ctx context.Context, snap *indicator.EngineSnapshot) error
}

// ResultPublisher writes one candle's indicator results downstream and
// reports how many were published.
type ResultPublisher interface {
	WriteIndicatorBatch(ctx context.Context, results []model.IndicatorResult) (int, error)
}

// Broadcaster pushes results to live subscribers.
type Broadcaster interface {
	Publish(r model.IndicatorResult) bool
}

// CandleReader is the candle stream side of Redis the service consumes.
type CandleReader interface {
	EnsureConsumerGroup(ctx context.Context, streams []string) error
	ReplayFromID(ctx context.Context, stream, startID string, out chan<- redisstore.Message) (string, error)
	RecoverPending(ctx context.Context, streams []string, out chan<- redisstore.Message) (int, error)
	Consume(ctx context.Context, streams []string, out chan<- redisstore.Message) error
	RunPELReclaimer(ctx context.Context, streams []string, interval, minIdle time.Duration, out chan<- redisstore.Message, onReclaim func(count int))
	DiscoverStreams(ctx context.Context, tfs []int) ([]string, error)
	SubscribeChannel(ctx context.Context, channel string) (*goredis.PubSub, error)
}
