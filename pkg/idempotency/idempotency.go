package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ActorContext struct {
	ActorID        string
	IdempotencyKey string
}

type Store interface {
	GetIdempotencyRecord(ctx context.Context, actorID, idempotencyKey, endpoint string) (int, map[string]any, bool, error)
	SaveIdempotencyRecord(ctx context.Context, actorID, idempotencyKey, endpoint string, responseStatus int, responseBody map[string]any) error
}

func Replay(ctx context.Context, st Store, actor ActorContext, endpoint string) (int, map[string]any, bool, error) {
	if actor.IdempotencyKey == "" {
		return 0, nil, false, nil
	}
	status, body, found, err := st.GetIdempotencyRecord(ctx, actor.ActorID, actor.IdempotencyKey, endpoint)
	if err != nil {
		return 0, nil, false, err
	}
	if !found {
		return 0, nil, false, nil
	}
	return status, body, true, nil
}

func Save(ctx context.Context, st Store, actor ActorContext, endpoint string, status int, response map[string]any) error {
	if actor.IdempotencyKey == "" {
		return nil
	}
	return st.SaveIdempotencyRecord(ctx, actor.ActorID, actor.IdempotencyKey, endpoint, status, response)
}

type record struct {
	status int
	body   []byte
}

type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: map[string]record{}}
}

func memoryKey(actorID, key, endpoint string) string {
	return actorID + "\x00" + key + "\x00" + endpoint
}

func (m *MemoryStore) GetIdempotencyRecord(_ context.Context, actorID, idempotencyKey, endpoint string) (int, map[string]any, bool, error) {
	m.mu.Lock()
	rec, ok := m.recs[memoryKey(actorID, idempotencyKey, endpoint)]
	m.mu.Unlock()
	if !ok {
		return 0, nil, false, nil
	}
	var body map[string]any
	if err := json.Unmarshal(rec.body, &body); err != nil {
		return 0, nil, false, err
	}
	return rec.status, body, true, nil
}

// SaveIdempotencyRecord keeps the first response stored for a key.
func (m *MemoryStore) SaveIdempotencyRecord(_ context.Context, actorID, idempotencyKey, endpoint string, responseStatus int, responseBody map[string]any) error {
	b, err := json.Marshal(responseBody)
	if err != nil {
		return err
	}
	k := memoryKey(actorID, idempotencyKey, endpoint)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.recs[k]; exists {
		return nil
	}
	m.recs[k] = record{status: responseStatus, body: b}
	return nil
}

type PGStore struct{ DB *pgxpool.Pool }

func NewPGStore(db *pgxpool.Pool) *PGStore { return &PGStore{DB: db} }

const Schema = `
CREATE TABLE IF NOT EXISTS idempotency_records (
  actor_id TEXT NOT NULL,
  idempotency_key TEXT NOT NULL,
  endpoint TEXT NOT NULL,
  response_status INT NOT NULL,
  response_body JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (actor_id, idempotency_key, endpoint)
);`

func (s *PGStore) GetIdempotencyRecord(ctx context.Context, actorID, idempotencyKey, endpoint string) (int, map[string]any, bool, error) {
	var status int
	var b []byte
	err := s.DB.QueryRow(ctx, `
SELECT response_status,response_body
FROM idempotency_records
WHERE actor_id=$1 AND idempotency_key=$2 AND endpoint=$3
`, actorID, idempotencyKey, endpoint).Scan(&status, &b)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, false, nil
		}
		return 0, nil, false, err
	}
	var body map[string]any
	if err := json.Unmarshal(b, &body); err != nil {
		return 0, nil, false, err
	}
	return status, body, true, nil
}

func (s *PGStore) SaveIdempotencyRecord(ctx context.Context, actorID, idempotencyKey, endpoint string, responseStatus int, responseBody map[string]any) error {
	b, err := json.Marshal(responseBody)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO idempotency_records(actor_id,idempotency_key,endpoint,response_status,response_body)
VALUES($1,$2,$3,$4,$5::jsonb)
ON CONFLICT (actor_id,idempotency_key,endpoint) DO NOTHING
`, actorID, idempotencyKey, endpoint, responseStatus, string(b))
	return err
}
