package marketdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/joripage/fix-exchange/pkg/engine"
)

const keyPrefix = "md:"

// RedisPublisher caches the latest top-of-book snapshot per symbol in Redis.
// Consumers poll the cache; there is no fan-out guarantee, which is all this
// venue promises for market data.
type RedisPublisher struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPublisher(client *redis.Client, ttl time.Duration) *RedisPublisher {
	return &RedisPublisher{client: client, ttl: ttl}
}

// Publish is shaped to plug straight into engine.SetMarketDataCallback.
func (p *RedisPublisher) Publish(snap *engine.MarketDataSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		zap.S().Warnw("market data marshal failed", "symbol", snap.Symbol, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.client.Set(ctx, keyPrefix+snap.Symbol, data, p.ttl).Err(); err != nil {
		zap.S().Warnw("market data publish failed", "symbol", snap.Symbol, "err", err)
	}
}

// Snapshot reads a cached snapshot back, mostly for tooling.
func (p *RedisPublisher) Snapshot(ctx context.Context, symbol string) (*engine.MarketDataSnapshot, error) {
	data, err := p.client.Get(ctx, keyPrefix+symbol).Bytes()
	if err != nil {
		return nil, err
	}
	var snap engine.MarketDataSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
