package store

import (
	"context"
	"errors"
	"strconv"
)

var ErrReadOnly = errors.New("store: write in read-only transaction")

type Kind string

const (
	KindState         Kind = "state"
	KindRole          Kind = "role"
	KindInvestigation Kind = "investigation"
	KindEvidence      Kind = "evidence"
	KindWitness       Kind = "witness"
	KindVerdict       Kind = "verdict"
	KindRequest       Kind = "decryption_request"
)

// Well-known singleton keys under KindState.
const (
	KeyCounters = "counters"
	KeyPending  = "pending_decryptions"
)

// Tx is one atomic call. Values are JSON encoded, so callers never share
// memory with stored state.
type Tx interface {
	Get(ctx context.Context, kind Kind, key string, dst any) (bool, error)
	Put(ctx context.Context, kind Kind, key string, v any) error
}

// Store runs fn atomically. Update commits every Put when fn returns nil
// and discards all of them otherwise. Mutating calls are serialized.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

func IDKey(id uint64) string { return strconv.FormatUint(id, 10) }

func PairKey(invID, id uint64) string { return IDKey(invID) + "/" + IDKey(id) }

func VerdictKey(invID uint64, judge string) string { return IDKey(invID) + "/" + judge }
