package stake

import (
	"context"
	"errors"
	"math"
	"sync"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAmountRange       = errors.New("amount out of range")
)

// EscrowAccount holds collected stakes until they are refunded.
const EscrowAccount = "__escrow__"

// Ledger is the host value-transfer primitive. Every movement carries a
// reference; repeating a reference is a no-op, so retries cannot pay twice.
type Ledger interface {
	Collect(ctx context.Context, from string, amount uint64, ref string) error
	Transfer(ctx context.Context, to string, amount uint64, ref string) error
	Balance(ctx context.Context, account string) (uint64, error)
}

type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]uint64
	applied  map[string]bool
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: map[string]uint64{}, applied: map[string]bool{}}
}

func (l *MemoryLedger) Fund(account string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[account] > math.MaxUint64-amount {
		return ErrAmountRange
	}
	l.balances[account] += amount
	return nil
}

func (l *MemoryLedger) Collect(_ context.Context, from string, amount uint64, ref string) error {
	return l.move(from, EscrowAccount, amount, ref)
}

func (l *MemoryLedger) Transfer(_ context.Context, to string, amount uint64, ref string) error {
	return l.move(EscrowAccount, to, amount, ref)
}

func (l *MemoryLedger) move(from, to string, amount uint64, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.applied[ref] {
		return nil
	}
	if l.balances[from] < amount {
		return ErrInsufficientFunds
	}
	if l.balances[to] > math.MaxUint64-amount {
		return ErrAmountRange
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	l.applied[ref] = true
	return nil
}

func (l *MemoryLedger) Balance(_ context.Context, account string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}
