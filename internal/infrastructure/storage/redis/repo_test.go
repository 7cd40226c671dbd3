package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"tradestream/internal/application/port"
	"tradestream/internal/domain/model"
)

func TestNewDerivesKeys(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	r := New(rdb, "", time.Minute)
	if r.keyQueue != "tradestream:notify:trade_closed" {
		t.Errorf("unexpected queue key %q", r.keyQueue)
	}
	if r.keyHeartbeat != "tradestream:heartbeat" || r.keyShutdown != "tradestream:shutdown" {
		t.Errorf("unexpected keys %q %q", r.keyHeartbeat, r.keyShutdown)
	}

	r = New(rdb, "prod", 0)
	if r.keyQueue != "prod:notify:trade_closed" {
		t.Errorf("unexpected queue key %q", r.keyQueue)
	}
}

// TestRepoAgainstServer runs only when TRADESTREAM_TEST_REDIS points at a
// disposable server.
func TestRepoAgainstServer(t *testing.T) {
	addr := os.Getenv("TRADESTREAM_TEST_REDIS")
	if addr == "" {
		t.Skip("TRADESTREAM_TEST_REDIS not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()

	prefix := fmt.Sprintf("tradestream-test-%d", time.Now().UnixNano())
	r := New(rdb, prefix, time.Minute)
	defer rdb.Del(ctx, r.keyQueue, r.keyHeartbeat, r.keyShutdown)

	for _, id := range []int64{1, 2, 2} {
		if err := r.Push(ctx, port.TradeClosedEvent{UserID: 7, TradeID: id, Reason: model.CloseManual}); err != nil {
			t.Fatal(err)
		}
	}
	events, err := r.Drain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 || events[0].TradeID != 1 || events[2].TradeID != 2 {
		t.Fatalf("unexpected drain %+v", events)
	}
	if events, _ = r.Drain(ctx); len(events) != 0 {
		t.Errorf("queue not cleared: %+v", events)
	}

	if err := r.WriteHeartbeat(ctx, time.Now(), map[string]float64{"BTC/USD": 1}); err != nil {
		t.Fatal(err)
	}
	if ttl := rdb.TTL(ctx, r.keyHeartbeat).Val(); ttl <= 0 {
		t.Errorf("heartbeat ttl %v", ttl)
	}

	if stop, _ := r.ShutdownRequested(ctx); stop {
		t.Fatal("marker set before request")
	}
	_ = r.RequestShutdown(ctx)
	if stop, _ := r.ShutdownRequested(ctx); !stop {
		t.Fatal("marker not seen")
	}
	_ = r.ClearShutdown(ctx)
	if stop, _ := r.ShutdownRequested(ctx); stop {
		t.Fatal("marker not cleared")
	}
}
