package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events on a channel and keeps a capped history list.
type RedisPublisher struct {
	rdb        *redis.Client
	channel    string
	historyKey string
	historyLen int64
}

func NewRedisPublisher(rdb *redis.Client, channel string, historyLen int64) *RedisPublisher {
	if channel == "" {
		channel = "courtlane:events"
	}
	if historyLen <= 0 {
		historyLen = 1000
	}
	return &RedisPublisher{rdb: rdb, channel: channel, historyKey: channel + ":history", historyLen: historyLen}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pipe := p.rdb.TxPipeline()
	pipe.LPush(ctx, p.historyKey, data)
	pipe.LTrim(ctx, p.historyKey, 0, p.historyLen-1)
	pipe.Publish(ctx, p.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Recent returns up to n events, newest first.
func (p *RedisPublisher) Recent(ctx context.Context, n int64) ([]Event, error) {
	raw, err := p.rdb.LRange(ctx, p.historyKey, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(raw))
	for _, r := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
