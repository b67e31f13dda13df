package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// custodyLockKey serializes mutating calls across service replicas.
const custodyLockKey int64 = 0x636f757274

const Schema = `
CREATE TABLE IF NOT EXISTS custody_records (
  kind TEXT NOT NULL,
  key TEXT NOT NULL,
  value JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (kind, key)
);`

type PGStore struct{ DB *pgxpool.Pool }

func NewPGStore(db *pgxpool.Pool) *PGStore { return &PGStore{DB: db} }

func (s *PGStore) Migrate(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, Schema)
	return err
}

type pgTx struct {
	tx       pgx.Tx
	readOnly bool
}

func (t *pgTx) Get(ctx context.Context, kind Kind, key string, dst any) (bool, error) {
	q := `SELECT value FROM custody_records WHERE kind=$1 AND key=$2`
	if !t.readOnly {
		q += ` FOR UPDATE`
	}
	var b []byte
	if err := t.tx.QueryRow(ctx, q, string(kind), key).Scan(&b); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, json.Unmarshal(b, dst)
}

func (t *pgTx) Put(ctx context.Context, kind Kind, key string, v any) error {
	if t.readOnly {
		return ErrReadOnly
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
INSERT INTO custody_records(kind,key,value,updated_at)
VALUES($1,$2,$3::jsonb,now())
ON CONFLICT (kind,key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()
`, string(kind), key, string(b))
	return err
}

func (s *PGStore) Update(ctx context.Context, fn func(Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, custodyLockKey); err != nil {
			return err
		}
		return fn(&pgTx{tx: tx})
	})
}

func (s *PGStore) View(ctx context.Context, fn func(Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx, readOnly: true})
	})
}
