package redis

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

const replayPageSize = 1000

// ReaderConfig configures the consumer-group reader.
type ReaderConfig struct {
	ConsumerGroup string // consumer group name, e.g. "indengine"
	ConsumerName  string // unique consumer name, e.g. hostname
	BatchSize     int64  // XREADGROUP COUNT; 0 means 100
	Block         time.Duration
}

// Reader reads candles from Redis Streams via consumer groups.
// Entries are ACKed once handed to the output channel; the consumer's
// per-stream offsets and the checkpoint replay cover a crash after that.
type Reader struct {
	client   *goredis.Client
	group    string
	consumer string
	count    int64
	block    time.Duration
	log      *slog.Logger
}

// NewReader wraps an already-connected client.
func NewReader(client *goredis.Client, cfg ReaderConfig) *Reader {
	r := &Reader{
		client:   client,
		group:    cfg.ConsumerGroup,
		consumer: cfg.ConsumerName,
		count:    cfg.BatchSize,
		block:    cfg.Block,
	}
	if r.group == "" {
		r.group = "indengine"
	}
	if r.consumer == "" {
		r.consumer = "worker-1"
	}
	if r.count <= 0 {
		r.count = 100
	}
	if r.block <= 0 {
		r.block = 2 * time.Second
	}
	r.log = slog.Default().With("component", "redis-reader", "group", r.group, "consumer", r.consumer)
	return r
}

// EnsureConsumerGroup creates the group on each stream if it doesn't exist.
// Fresh groups start at "$" (only new entries).
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.group, "$").Err()
		if err != nil && !isBusyGroup(err) {
			return errors.Wrapf(err, "xgroup create %s", stream)
		}
	}
	return nil
}

// Consume blocks on XREADGROUP and forwards decoded candles to out until ctx
// is done. Undecodable entries are ACKed and dropped so they cannot poison
// the group.
func (r *Reader) Consume(ctx context.Context, streams []string, out chan<- Message) error {
	if len(streams) == 0 {
		<-ctx.Done()
		return nil
	}

	// [stream1, stream2, ..., ">", ">", ...]
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  args,
			Count:    r.count,
			Block:    r.block,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			r.log.Warn("xreadgroup failed", "err", err)
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
			}
			continue
		}

		for _, stream := range results {
			if err := r.deliver(ctx, stream.Stream, stream.Messages, out); err != nil {
				return nil
			}
		}
	}
}

// deliver decodes, forwards and ACKs each entry. Returns ctx.Err() if ctx
// ends mid-batch; the remaining entries stay pending.
func (r *Reader) deliver(ctx context.Context, stream string, msgs []goredis.XMessage, out chan<- Message) error {
	for _, msg := range msgs {
		c, err := decodeCandle(msg.Values)
		if err != nil {
			r.log.Warn("dropping undecodable entry", "stream", stream, "id", msg.ID, "err", err)
			r.client.XAck(ctx, stream, r.group, msg.ID)
			continue
		}

		select {
		case out <- Message{Stream: stream, ID: msg.ID, Candle: c}:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.client.XAck(ctx, stream, r.group, msg.ID)
	}
	return nil
}

// RecoverPending claims this group's unACKed entries left by a previous run
// and forwards them, giving at-least-once delivery.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- Message) (int, error) {
	total := 0
	for _, stream := range streams {
		for {
			pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: stream,
				Group:  r.group,
				Start:  "-",
				End:    "+",
				Count:  r.count,
			}).Result()
			if err != nil {
				if ctx.Err() != nil {
					return total, ctx.Err()
				}
				r.log.Warn("xpending failed", "stream", stream, "err", err)
				break
			}
			if len(pending) == 0 {
				break
			}

			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}

			claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    r.group,
				Consumer: r.consumer,
				MinIdle:  0,
				Messages: ids,
			}).Result()
			if err != nil {
				r.log.Warn("xclaim failed", "stream", stream, "err", err)
				break
			}

			if err := r.deliver(ctx, stream, claimed, out); err != nil {
				return total, err
			}
			total += len(claimed)

			// Trimmed entries cannot be claimed; stop rather than spin on them.
			if len(claimed) < len(ids) {
				break
			}
		}
	}
	if total > 0 {
		r.log.Info("recovered pending entries", "count", total)
	}
	return total, nil
}

// ReclaimStale XCLAIMs entries idle longer than minIdle that belong to other
// consumers in the group (dead workers).
func (r *Reader) ReclaimStale(ctx context.Context, stream string, minIdle time.Duration, batchSize int64) ([]goredis.XMessage, error) {
	pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  r.group,
		Start:  "-",
		End:    "+",
		Count:  batchSize,
		Idle:   minIdle,
	}).Result()
	if err != nil || len(pending) == 0 {
		return nil, err
	}

	var staleIDs []string
	for _, p := range pending {
		if p.Consumer != r.consumer {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return nil, nil
	}

	claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    r.group,
		Consumer: r.consumer,
		MinIdle:  minIdle,
		Messages: staleIDs,
	}).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "xclaim %s", stream)
	}
	return claimed, nil
}

// RunPELReclaimer periodically reclaims stale entries on every stream and
// forwards them to out. onReclaim receives the count of each non-empty pass.
func (r *Reader) RunPELReclaimer(ctx context.Context, streams []string, interval, minIdle time.Duration, out chan<- Message, onReclaim func(count int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := 0
			for _, stream := range streams {
				claimed, err := r.ReclaimStale(ctx, stream, minIdle, 50)
				if err != nil {
					r.log.Warn("PEL reclaim failed", "stream", stream, "err", err)
					continue
				}
				if err := r.deliver(ctx, stream, claimed, out); err != nil {
					return
				}
				total += len(claimed)
			}
			if total > 0 && onReclaim != nil {
				onReclaim(total)
			}
		}
	}
}

// ReplayFromID forwards every entry after startID (exclusive) in order and
// returns the last ID seen. It does not touch the consumer group.
func (r *Reader) ReplayFromID(ctx context.Context, stream, startID string, out chan<- Message) (string, error) {
	lastID := startID
	for {
		results, err := r.client.XRangeN(ctx, stream, "("+lastID, "+", replayPageSize).Result()
		if err != nil {
			return lastID, errors.Wrapf(err, "xrange %s from %s", stream, lastID)
		}

		for _, msg := range results {
			lastID = msg.ID
			c, err := decodeCandle(msg.Values)
			if err != nil {
				continue
			}
			select {
			case out <- Message{Stream: stream, ID: msg.ID, Candle: c}:
			case <-ctx.Done():
				return lastID, ctx.Err()
			}
		}

		if len(results) < replayPageSize {
			return lastID, nil
		}
	}
}

// DiscoverStreams SCANs for existing candle streams of the given timeframes.
func (r *Reader) DiscoverStreams(ctx context.Context, tfs []int) ([]string, error) {
	var streams []string
	for _, tf := range tfs {
		match := "candle:" + strconv.Itoa(tf) + "s:*"
		iter := r.client.ScanType(ctx, 0, match, 500, "stream").Iterator()
		for iter.Next(ctx) {
			streams = append(streams, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return streams, errors.Wrapf(err, "scan %s", match)
		}
	}
	return streams, nil
}

// SubscribeChannel subscribes to a pub/sub channel and waits for the
// confirmation.
func (r *Reader) SubscribeChannel(ctx context.Context, channel string) (*goredis.PubSub, error) {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Wrapf(err, "subscribe %s", channel)
	}
	return pubsub, nil
}
