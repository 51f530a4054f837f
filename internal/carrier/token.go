package carrier

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Token is an access token issued by the carrier.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the token can still be used at now, keeping a margin
// so a request does not race the expiry.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Add(expiryMargin).Before(t.ExpiresAt)
}

const expiryMargin = 30 * time.Second

// TokenCache stores carrier tokens per credential key.
type TokenCache interface {
	// Get returns ok=false when no token is stored for key.
	Get(ctx context.Context, key string) (tok Token, ok bool, err error)
	Set(ctx context.Context, key string, tok Token) error
	Invalidate(ctx context.Context, key string) error
}

// MemoryTokenCache keeps tokens in process memory.
type MemoryTokenCache struct {
	mu     sync.Mutex
	tokens map[string]Token
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{tokens: map[string]Token{}}
}

func (c *MemoryTokenCache) Get(_ context.Context, key string) (Token, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[key]
	return t, ok, nil
}

func (c *MemoryTokenCache) Set(_ context.Context, key string, tok Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[key] = tok
	return nil
}

func (c *MemoryTokenCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, key)
	return nil
}

// TieredTokenCache reads through a fast cache (redis, memory) to a durable
// one (the persisted credential record) and back-fills the fast tier.
type TieredTokenCache struct {
	Fast    TokenCache
	Durable TokenCache
}

func (c TieredTokenCache) Get(ctx context.Context, key string) (Token, bool, error) {
	if c.Fast != nil {
		tok, ok, err := c.Fast.Get(ctx, key)
		if err == nil && ok {
			return tok, true, nil
		}
	}
	if c.Durable == nil {
		return Token{}, false, nil
	}
	tok, ok, err := c.Durable.Get(ctx, key)
	if err != nil || !ok {
		return Token{}, false, err
	}
	if c.Fast != nil {
		_ = c.Fast.Set(ctx, key, tok)
	}
	return tok, true, nil
}

func (c TieredTokenCache) Set(ctx context.Context, key string, tok Token) error {
	var errs []error
	if c.Durable != nil {
		errs = append(errs, c.Durable.Set(ctx, key, tok))
	}
	if c.Fast != nil {
		errs = append(errs, c.Fast.Set(ctx, key, tok))
	}
	return errors.Join(errs...)
}

func (c TieredTokenCache) Invalidate(ctx context.Context, key string) error {
	var errs []error
	if c.Fast != nil {
		errs = append(errs, c.Fast.Invalidate(ctx, key))
	}
	if c.Durable != nil {
		errs = append(errs, c.Durable.Invalidate(ctx, key))
	}
	return errors.Join(errs...)
}
