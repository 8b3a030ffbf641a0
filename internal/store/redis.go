package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Priya8975/clipboard-relay/internal/domain"
)

// DefaultRedisPrefix namespaces the log keys.
const DefaultRedisPrefix = "relay"

// RedisLog is an EventLog shared through Redis. Events live in a sorted set
// scored by creation time in microseconds; a counter key tracks the total.
type RedisLog struct {
	client   *redis.Client
	eventKey string
	totalKey string
	capacity int64
}

// NewRedis connects to redisURL and returns a log keyed under prefix.
func NewRedis(ctx context.Context, redisURL, prefix string, capacity int) (*RedisLog, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return NewRedisLog(client, prefix, capacity), nil
}

// NewRedisLog wraps an existing client. capacity <= 0 means unbounded.
func NewRedisLog(client *redis.Client, prefix string, capacity int) *RedisLog {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if capacity < 0 {
		capacity = 0
	}
	return &RedisLog{
		client:   client,
		eventKey: prefix + ":events",
		totalKey: prefix + ":events:total",
		capacity: int64(capacity),
	}
}

func (s *RedisLog) Close() error {
	return s.client.Close()
}

func (s *RedisLog) Client() *redis.Client {
	return s.client
}

func (s *RedisLog) Append(ctx context.Context, e domain.Event) error {
	member, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.eventKey, redis.Z{
		Score:  float64(e.CreatedAt.UnixMicro()),
		Member: string(member),
	})
	pipe.Incr(ctx, s.totalKey)
	if s.capacity > 0 {
		// Keep only the newest capacity members.
		pipe.ZRemRangeByRank(ctx, s.eventKey, 0, -s.capacity-1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending event to redis: %w", err)
	}
	return nil
}

func (s *RedisLog) Since(ctx context.Context, since time.Time, limit int) (PollResult, error) {
	if limit <= 0 {
		limit = DefaultPollLimit
	}

	lower := "-inf"
	if !since.IsZero() {
		lower = "(" + strconv.FormatInt(since.UnixMicro(), 10)
	}

	members, err := s.client.ZRevRangeByScore(ctx, s.eventKey, &redis.ZRangeBy{
		Min:   lower,
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return PollResult{}, fmt.Errorf("querying events: %w", err)
	}

	total, err := s.client.Get(ctx, s.totalKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return PollResult{}, fmt.Errorf("querying total count: %w", err)
	}

	// Members come newest-first; the result is oldest-first.
	events := make([]domain.Event, 0, len(members))
	for i := len(members) - 1; i >= 0; i-- {
		var e domain.Event
		if err := json.Unmarshal([]byte(members[i]), &e); err != nil {
			return PollResult{}, fmt.Errorf("unmarshaling event: %w", err)
		}
		events = append(events, e)
	}

	return PollResult{Events: events, TotalCount: total}, nil
}

func (s *RedisLog) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.eventKey, s.totalKey).Err(); err != nil {
		return fmt.Errorf("clearing events: %w", err)
	}
	return nil
}
