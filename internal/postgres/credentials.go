package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/marketplace-fulfillment/internal/carrier"
)

// CredentialStore persists carrier access tokens so a restart does not issue
// a new one. It is the durable tier of carrier.TieredTokenCache.
type CredentialStore struct {
	DB *pgxpool.Pool
}

var _ carrier.TokenCache = (*CredentialStore)(nil)

func (s *CredentialStore) Get(ctx context.Context, key string) (carrier.Token, bool, error) {
	var tok carrier.Token
	err := s.DB.QueryRow(ctx, `
		SELECT access_token, expires_at FROM carrier_credentials WHERE cache_key = $1`, key).
		Scan(&tok.AccessToken, &tok.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return carrier.Token{}, false, nil
	}
	if err != nil {
		return carrier.Token{}, false, err
	}
	return tok, true, nil
}

func (s *CredentialStore) Set(ctx context.Context, key string, tok carrier.Token) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO carrier_credentials (cache_key, access_token, expires_at, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (cache_key) DO UPDATE
		SET access_token = EXCLUDED.access_token, expires_at = EXCLUDED.expires_at, updated_at = now()`,
		key, tok.AccessToken, tok.ExpiresAt)
	return err
}

func (s *CredentialStore) Invalidate(ctx context.Context, key string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM carrier_credentials WHERE cache_key = $1`, key)
	return err
}
