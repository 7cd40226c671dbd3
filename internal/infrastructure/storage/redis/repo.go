package redis

import (
	"context"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"tradestream/internal/application/port"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Repo 跨进程状态存放在 Redis: trade_closed 队列, 心跳, 停机标记
type Repo struct {
	rdb          *redis.Client
	ttl          time.Duration
	keyQueue     string // prefix + ":notify:trade_closed"
	keyHeartbeat string // prefix + ":heartbeat"
	keyShutdown  string // prefix + ":shutdown"
}

type heartbeat struct {
	Ts     int64              `json:"ts"`
	Prices map[string]float64 `json:"prices"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration) *Repo {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "tradestream"
	}
	return &Repo{
		rdb:          rdb,
		ttl:          ttl,
		keyQueue:     prefix + ":notify:trade_closed",
		keyHeartbeat: prefix + ":heartbeat",
		keyShutdown:  prefix + ":shutdown",
	}
}

func (r *Repo) Push(ctx context.Context, ev port.TradeClosedEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.rdb.RPush(ctx, r.keyQueue, b).Err()
}

// Drain 在一个 MULTI/EXEC 里读出并删除整个列表
func (r *Repo) Drain(ctx context.Context) ([]port.TradeClosedEvent, error) {
	pipe := r.rdb.TxPipeline()
	lr := pipe.LRange(ctx, r.keyQueue, 0, -1)
	pipe.Del(ctx, r.keyQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	raw := lr.Val()
	out := make([]port.TradeClosedEvent, 0, len(raw))
	for _, s := range raw {
		var ev port.TradeClosedEvent
		if err := json.UnmarshalFromString(s, &ev); err != nil {
			// 坏消息跳过，不阻塞后面的
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (r *Repo) WriteHeartbeat(ctx context.Context, ts time.Time, prices map[string]float64) error {
	b, err := json.Marshal(heartbeat{Ts: ts.UnixMilli(), Prices: prices})
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.keyHeartbeat, b, r.ttl).Err()
}

func (r *Repo) ShutdownRequested(ctx context.Context) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.keyShutdown).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RequestShutdown 设置停机标记，引擎每个 cycle 轮询
func (r *Repo) RequestShutdown(ctx context.Context) error {
	return r.rdb.Set(ctx, r.keyShutdown, time.Now().UnixMilli(), 0).Err()
}

// ClearShutdown 启动时清除残留的停机标记
func (r *Repo) ClearShutdown(ctx context.Context) error {
	return r.rdb.Del(ctx, r.keyShutdown).Err()
}

var (
	_ port.NotificationQueue = (*Repo)(nil)
	_ port.LivenessWriter    = (*Repo)(nil)
	_ port.ShutdownMarker    = (*Repo)(nil)
)
