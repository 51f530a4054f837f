package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/marketplace-fulfillment/internal/carrier"
)

// TokenCache stores carrier tokens in redis until they expire.
type TokenCache struct {
	rdb redis.Cmdable
	now func() time.Time
}

var _ carrier.TokenCache = (*TokenCache)(nil)

func NewTokenCache(rdb redis.Cmdable) *TokenCache {
	return &TokenCache{rdb: rdb, now: time.Now}
}

func tokenKey(key string) string { return fmt.Sprintf(KeyCarrierToken, key) }

func (c *TokenCache) Get(ctx context.Context, key string) (carrier.Token, bool, error) {
	b, err := c.rdb.Get(ctx, tokenKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return carrier.Token{}, false, nil
	}
	if err != nil {
		return carrier.Token{}, false, err
	}
	var tok carrier.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return carrier.Token{}, false, nil
	}
	return tok, true, nil
}

func (c *TokenCache) Set(ctx context.Context, key string, tok carrier.Token) error {
	ttl := tok.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return c.Invalidate(ctx, key)
	}
	b, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, tokenKey(key), b, ttl).Err()
}

func (c *TokenCache) Invalidate(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, tokenKey(key)).Err()
}
