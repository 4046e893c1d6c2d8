package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"callbridge-backend/internal/callreq"
)

const (
	redisChannel     = "callbridge.call_requests"
	redisPublishWait = 2 * time.Second
)

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// RedisFanout extends a local Hub across instances: every locally published
// event is also announced on a Redis pub/sub channel, and events announced by
// other instances are injected into the local hub. Parties connected to
// different nodes therefore observe the same change feed.
type RedisFanout struct {
	logger   *slog.Logger
	hub      *Hub
	rdb      *redis.Client
	originID string
}

func NewRedisFanout(logger *slog.Logger, hub *Hub, rdb *redis.Client) *RedisFanout {
	return &RedisFanout{
		logger:   logger.With("component", "feed-redis"),
		hub:      hub,
		rdb:      rdb,
		originID: uuid.NewString(),
	}
}

type wireEvent struct {
	Origin string        `json:"origin"`
	Event  callreq.Event `json:"event"`
}

func (f *RedisFanout) Publish(ev callreq.Event) {
	f.hub.Publish(ev)

	b, err := json.Marshal(wireEvent{Origin: f.originID, Event: ev})
	if err != nil {
		f.logger.Error("feed event marshal failed", "error", err, "requestId", ev.Request.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPublishWait)
	defer cancel()
	if err := f.rdb.Publish(ctx, redisChannel, b).Err(); err != nil {
		// Local delivery already happened; remote parties fall back to polling.
		f.logger.Warn("feed redis publish failed", "error", err, "requestId", ev.Request.ID)
	}
}

// Run consumes remote events until ctx is canceled.
func (f *RedisFanout) Run(ctx context.Context) error {
	pubsub := f.rdb.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var we wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &we); err != nil {
				f.logger.Warn("feed redis payload unmarshal failed", "error", err)
				continue
			}
			if we.Origin == f.originID {
				continue
			}
			f.hub.Publish(we.Event)
		}
	}
}
