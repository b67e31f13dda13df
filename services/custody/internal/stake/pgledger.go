package stake

import (
	"context"
	"errors"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const Schema = `
CREATE TABLE IF NOT EXISTS stake_accounts (
  account TEXT PRIMARY KEY,
  balance BIGINT NOT NULL CHECK (balance >= 0)
);
CREATE TABLE IF NOT EXISTS stake_movements (
  ref TEXT PRIMARY KEY,
  from_account TEXT NOT NULL,
  to_account TEXT NOT NULL,
  amount BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

type PGLedger struct{ DB *pgxpool.Pool }

func NewPGLedger(db *pgxpool.Pool) *PGLedger { return &PGLedger{DB: db} }

func (l *PGLedger) Migrate(ctx context.Context) error {
	_, err := l.DB.Exec(ctx, Schema)
	return err
}

func (l *PGLedger) Fund(ctx context.Context, account string, amount uint64) error {
	if amount > math.MaxInt64 {
		return ErrAmountRange
	}
	_, err := l.DB.Exec(ctx, `
INSERT INTO stake_accounts(account,balance) VALUES($1,$2)
ON CONFLICT (account) DO UPDATE SET balance=stake_accounts.balance+EXCLUDED.balance
`, account, int64(amount))
	return err
}

func (l *PGLedger) Collect(ctx context.Context, from string, amount uint64, ref string) error {
	return l.move(ctx, from, EscrowAccount, amount, ref)
}

func (l *PGLedger) Transfer(ctx context.Context, to string, amount uint64, ref string) error {
	return l.move(ctx, EscrowAccount, to, amount, ref)
}

func (l *PGLedger) move(ctx context.Context, from, to string, amount uint64, ref string) error {
	if amount > math.MaxInt64 {
		return ErrAmountRange
	}
	return pgx.BeginTxFunc(ctx, l.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
INSERT INTO stake_movements(ref,from_account,to_account,amount) VALUES($1,$2,$3,$4)
ON CONFLICT (ref) DO NOTHING
`, ref, from, to, int64(amount))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		tag, err = tx.Exec(ctx, `
UPDATE stake_accounts SET balance=balance-$2 WHERE account=$1 AND balance >= $2
`, from, int64(amount))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrInsufficientFunds
		}
		_, err = tx.Exec(ctx, `
INSERT INTO stake_accounts(account,balance) VALUES($1,$2)
ON CONFLICT (account) DO UPDATE SET balance=stake_accounts.balance+EXCLUDED.balance
`, to, int64(amount))
		return err
	})
}

func (l *PGLedger) Balance(ctx context.Context, account string) (uint64, error) {
	var b int64
	err := l.DB.QueryRow(ctx, `SELECT balance FROM stake_accounts WHERE account=$1`, account).Scan(&b)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return uint64(b), nil
}
