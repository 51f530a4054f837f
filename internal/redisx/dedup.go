package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup claims event keys for one consumer with SETNX so each event is
// handled once across workers and restarts.
type Dedup struct {
	rdb      redis.Cmdable
	consumer string
	ttl      time.Duration
}

func NewDedup(rdb redis.Cmdable, consumer string) *Dedup {
	return &Dedup{rdb: rdb, consumer: consumer, ttl: TTLDedup}
}

func (d *Dedup) key(id string) string { return fmt.Sprintf(KeyDedup, d.consumer, id) }

// Claim returns false when id was already claimed.
func (d *Dedup) Claim(ctx context.Context, id string) (bool, error) {
	return d.rdb.SetNX(ctx, d.key(id), "1", d.ttl).Result()
}

// Release forgets a claim so a failed event can be redelivered.
func (d *Dedup) Release(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, d.key(id)).Err()
}
