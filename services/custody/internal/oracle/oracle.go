// Package oracle talks to the decryption service. Request reserves an id,
// Dispatch releases the work once the requesting call has committed and
// Discard drops a reservation whose call aborted.
package oracle

import (
	"context"

	"github.com/accordsai/courtlane/pkg/fhe"
	"github.com/accordsai/courtlane/pkg/signature"
	"github.com/accordsai/courtlane/services/custody/internal/model"
)

type Client interface {
	Request(ctx context.Context, handles []fhe.Handle) (uint64, error)
	Dispatch(ctx context.Context, requestID uint64) error
	Discard(ctx context.Context, requestID uint64) error
}

// Receiver accepts oracle results. The custody engine implements it.
type Receiver interface {
	DecryptionCallback(ctx context.Context, caller model.Identity, requestID uint64, cleartexts []uint64, proof signature.Envelope) error
	DecryptionFailure(ctx context.Context, caller model.Identity, requestID uint64, reason string, proof signature.Envelope) error
}
