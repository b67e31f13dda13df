package authn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUnauthorized = errors.New("unauthorized")

// Authenticator maps an Authorization header to the caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (string, error)
}

// FailureRecorder is implemented by authenticators that persist rejected attempts.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, service, endpoint, identity, reason string, details map[string]any)
}

// StaticTokens resolves bearer tokens against a fixed table of SHA256 token hashes.
type StaticTokens struct {
	byHash map[string]string
}

// NewStaticTokens takes token hash (lower hex SHA256) to identity.
func NewStaticTokens(hashes map[string]string) *StaticTokens {
	m := make(map[string]string, len(hashes))
	for h, id := range hashes {
		h = strings.ToLower(strings.TrimSpace(h))
		id = strings.TrimSpace(id)
		if h == "" || id == "" {
			continue
		}
		m[h] = id
	}
	return &StaticTokens{byHash: m}
}

func (s *StaticTokens) Authenticate(_ context.Context, authorization string) (string, error) {
	token, ok := parseBearerToken(authorization)
	if !ok {
		return "", ErrUnauthorized
	}
	id, ok := s.byHash[HashToken(token)]
	if !ok {
		return "", ErrUnauthorized
	}
	return id, nil
}

func (s *StaticTokens) Len() int { return len(s.byHash) }

type PGTokens struct{ DB *pgxpool.Pool }

func NewPGTokens(db *pgxpool.Pool) *PGTokens { return &PGTokens{DB: db} }

const Schema = `
CREATE TABLE IF NOT EXISTS caller_credentials (
  token_hash TEXT PRIMARY KEY,
  identity TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  revoked_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS auth_failures (
  id BIGSERIAL PRIMARY KEY,
  service TEXT NOT NULL,
  endpoint TEXT NOT NULL,
  identity TEXT NOT NULL DEFAULT '',
  reason TEXT NOT NULL,
  details JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

func (p *PGTokens) Authenticate(ctx context.Context, authorization string) (string, error) {
	token, ok := parseBearerToken(authorization)
	if !ok {
		return "", ErrUnauthorized
	}
	var identity string
	err := p.DB.QueryRow(ctx, `
SELECT identity
FROM caller_credentials
WHERE token_hash=$1
  AND revoked_at IS NULL
`, HashToken(token)).Scan(&identity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUnauthorized
		}
		return "", err
	}
	return identity, nil
}

func (p *PGTokens) RecordFailure(ctx context.Context, service, endpoint, identity, reason string, details map[string]any) {
	b, _ := json.Marshal(details)
	_, _ = p.DB.Exec(ctx, `
INSERT INTO auth_failures(service,endpoint,identity,reason,details)
VALUES($1,$2,$3,$4,$5::jsonb)
`, service, endpoint, identity, reason, string(b))
}

// Chain tries each authenticator in order and returns the first identity found.
type Chain []Authenticator

func (c Chain) Authenticate(ctx context.Context, authorization string) (string, error) {
	for _, a := range c {
		id, err := a.Authenticate(ctx, authorization)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrUnauthorized) {
			return "", err
		}
	}
	return "", ErrUnauthorized
}

func (c Chain) RecordFailure(ctx context.Context, service, endpoint, identity, reason string, details map[string]any) {
	for _, a := range c {
		if r, ok := a.(FailureRecorder); ok {
			r.RecordFailure(ctx, service, endpoint, identity, reason, details)
		}
	}
}

func parseBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
