package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/castbet/internal/domain"
)

const (
	marketTTL         = 10 * time.Minute
	resolvedMarketTTL = time.Hour
)

// MarketCache implements domain.MarketCache with JSON market views for
// display clients that read Redis directly.
//
// Key schema:
//
//	{prefix}market:{id}        - hash with field "data" (JSON view) and "state"
//	{prefix}markets:{state}    - set of market ids last seen in that state
type MarketCache struct {
	c *Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{c: c}
}

func (mc *MarketCache) marketKey(id string) string     { return mc.c.key("market:", id) }
func (mc *MarketCache) stateKey(s domain.State) string { return mc.c.key("markets:", string(s)) }

// Set stores a view and moves its id into the matching state index. Resolved
// markets change rarely, so they are kept longer.
func (mc *MarketCache) Set(ctx context.Context, v domain.MarketView) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", v.ID, err)
	}
	ttl := marketTTL
	if v.State == domain.StateResolved {
		ttl = resolvedMarketTTL
	}

	key := mc.marketKey(v.ID)
	pipe := mc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data, "state", string(v.State))
	pipe.Expire(ctx, key, ttl)
	for _, s := range domain.AllStates {
		if s == v.State {
			pipe.SAdd(ctx, mc.stateKey(s), v.ID)
		} else {
			pipe.SRem(ctx, mc.stateKey(s), v.ID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", v.ID, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
