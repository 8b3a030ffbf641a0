package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Priya8975/clipboard-relay/internal/domain"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(i int) time.Time { return base.Add(time.Duration(i) * time.Millisecond) }

func textEvent(i int) domain.Event {
	return domain.Event{
		ID:        fmt.Sprintf("%d", i),
		Kind:      domain.KindText,
		Payload:   fmt.Sprintf("content-%d", i),
		CreatedAt: at(i),
		Origin:    domain.OriginManual,
	}
}

func setupRedisLog(t *testing.T, capacity int) (*RedisLog, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLog(client, "test", capacity), mr
}

// logs returns every EventLog implementation under test.
func logs(t *testing.T, capacity int) map[string]EventLog {
	t.Helper()
	redisLog, _ := setupRedisLog(t, capacity)
	return map[string]EventLog{
		"memory": NewMemoryLog(capacity),
		"redis":  redisLog,
	}
}

func ids(events []domain.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func equalIDs(got []domain.Event, want ...string) bool {
	g := ids(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func TestEventLog_SinceExcludesCursor(t *testing.T) {
	for name, log := range logs(t, 0) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 1; i <= 2; i++ {
				if err := log.Append(ctx, textEvent(i)); err != nil {
					t.Fatalf("append: %v", err)
				}
			}

			res, err := log.Since(ctx, at(1), 10)
			if err != nil {
				t.Fatalf("since: %v", err)
			}
			if !equalIDs(res.Events, "2") {
				t.Errorf("expected [2], got %v", ids(res.Events))
			}
			if res.Events[0].Payload != "content-2" {
				t.Errorf("payload: got %q", res.Events[0].Payload)
			}
			if res.TotalCount != 2 {
				t.Errorf("expected totalCount 2, got %d", res.TotalCount)
			}
		})
	}
}

func TestEventLog_LimitKeepsMostRecent(t *testing.T) {
	for name, log := range logs(t, 0) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 1; i <= 6; i++ {
				log.Append(ctx, textEvent(i))
			}

			res, err := log.Since(ctx, time.Time{}, 3)
			if err != nil {
				t.Fatalf("since: %v", err)
			}
			if !equalIDs(res.Events, "4", "5", "6") {
				t.Errorf("expected [4 5 6], got %v", ids(res.Events))
			}

			res, err = log.Since(ctx, at(2), 0)
			if err != nil {
				t.Fatalf("since: %v", err)
			}
			if !equalIDs(res.Events, "3", "4", "5", "6") {
				t.Errorf("expected default limit to return [3 4 5 6], got %v", ids(res.Events))
			}
		})
	}
}

func TestEventLog_CapacityCountsEverything(t *testing.T) {
	for name, log := range logs(t, 2) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 1; i <= 5; i++ {
				log.Append(ctx, textEvent(i))
			}

			res, err := log.Since(ctx, time.Time{}, 10)
			if err != nil {
				t.Fatalf("since: %v", err)
			}
			if !equalIDs(res.Events, "4", "5") {
				t.Errorf("expected capped log [4 5], got %v", ids(res.Events))
			}
			if res.TotalCount != 5 {
				t.Errorf("expected totalCount 5, got %d", res.TotalCount)
			}
		})
	}
}

func TestEventLog_Clear(t *testing.T) {
	for name, log := range logs(t, 0) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			log.Append(ctx, textEvent(1))

			if err := log.Clear(ctx); err != nil {
				t.Fatalf("clear: %v", err)
			}

			res, err := log.Since(ctx, time.Time{}, 10)
			if err != nil {
				t.Fatalf("since: %v", err)
			}
			if len(res.Events) != 0 || res.TotalCount != 0 {
				t.Errorf("expected empty log, got %d events, total %d", len(res.Events), res.TotalCount)
			}
		})
	}
}

func TestEventLog_EmptyResultIsNotNil(t *testing.T) {
	for name, log := range logs(t, 0) {
		t.Run(name, func(t *testing.T) {
			res, err := log.Since(context.Background(), time.Time{}, 10)
			if err != nil {
				t.Fatalf("since: %v", err)
			}
			if res.Events == nil {
				t.Error("expected empty slice, got nil")
			}
		})
	}
}

func TestRedisLog_Keys(t *testing.T) {
	log, mr := setupRedisLog(t, 0)
	ctx := context.Background()
	log.Append(ctx, textEvent(1))

	if !mr.Exists("test:events") {
		t.Error("expected sorted set key test:events")
	}
	total, err := mr.Get("test:events:total")
	if err != nil {
		t.Fatalf("get total: %v", err)
	}
	if total != "1" {
		t.Errorf("expected total 1, got %s", total)
	}
}

func TestNewRedis_BadURL(t *testing.T) {
	if _, err := NewRedis(context.Background(), "not a url", "", 0); err == nil {
		t.Error("expected error for invalid redis URL")
	}
}
