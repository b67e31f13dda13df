package custody

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/accordsai/courtlane/pkg/canonhash"
	"github.com/accordsai/courtlane/pkg/fhe"
	"github.com/accordsai/courtlane/pkg/signature"
	"github.com/accordsai/courtlane/services/custody/internal/model"
	"github.com/accordsai/courtlane/services/custody/internal/notify"
)

// RequestDecryption reserves a request with the oracle and marks the evidence
// Requested. The oracle only starts work once this call has committed.
func (e *Engine) RequestDecryption(ctx context.Context, caller model.Identity, invID, evID uint64) (uint64, error) {
	var requestID uint64
	if err := requireCaller(caller); err != nil {
		return 0, err
	}
	err := e.update(ctx, func(o *op) error {
		c, err := o.counters()
		if err != nil {
			return err
		}
		inv, err := o.investigation(invID)
		if err != nil {
			return err
		}
		if err := o.requireParticipant(c, inv, caller); err != nil {
			return err
		}
		ev, err := o.evidence(invID, evID)
		if err != nil {
			return err
		}
		if ev.DecryptionStatus != model.DecryptionNone {
			return ErrAlreadyRequested
		}

		id, err := e.oracle.Request(ctx, []fhe.Handle{ev.TypeHandle, ev.LevelHandle, ev.IDHandle})
		if err != nil {
			return fmt.Errorf("oracle request: %w", err)
		}
		o.onAbort = append(o.onAbort, func() {
			if err := e.oracle.Discard(context.Background(), id); err != nil {
				log.Printf("[courtlane] oracle discard %d failed: %v", id, err)
			}
		})
		o.onCommit = append(o.onCommit, func() {
			if err := e.oracle.Dispatch(context.Background(), id); err != nil {
				log.Printf("[courtlane] oracle dispatch %d failed: %v", id, err)
			}
		})
		if _, err := o.request(id); err == nil {
			return fmt.Errorf("oracle reused request id %d", id)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		req := model.DecryptionRequest{
			ID:              id,
			InvestigationID: invID,
			EvidenceID:      evID,
			Requester:       caller,
			RequestedAt:     o.now,
		}
		ev.DecryptionStatus = model.DecryptionRequested
		ev.DecryptionRequestID = id
		p, err := o.pending()
		if err != nil {
			return err
		}
		p.Add(id)
		if id > c.LastRequestID {
			c.LastRequestID = id
		}
		if err := o.putRequest(&req); err != nil {
			return err
		}
		if err := o.putEvidence(ev); err != nil {
			return err
		}
		if err := o.putPending(p); err != nil {
			return err
		}
		if err := o.putCounters(c); err != nil {
			return err
		}
		n := o.event(notify.DecryptionRequested)
		n.InvestigationID = invID
		n.EvidenceID = evID
		n.RequestID = id
		n.Actor = string(caller)
		o.emit(n)
		requestID = id
		return nil
	})
	return requestID, err
}

// settleable loads a request the oracle may still answer. A settled request
// is rejected before the proof is looked at, so a replay fails the same way
// whatever it carries.
func (e *Engine) settleable(o *op, caller model.Identity, requestID uint64) (*model.DecryptionRequest, error) {
	if caller.IsZero() || caller != e.cfg.OracleIdentity {
		return nil, ErrUnauthorized
	}
	req, err := o.request(requestID)
	if err != nil {
		return nil, err
	}
	if req.Settled() {
		return nil, ErrAlreadyCompleted
	}
	return req, nil
}

func (e *Engine) verifyProof(payload map[string]any, proof signature.Envelope) error {
	if e.verifier == nil {
		return ErrInvalidProof
	}
	if _, err := e.verifier.VerifyEnvelope(payload, proof); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return nil
}

// DecryptionCallback accepts the oracle's cleartexts [type, level, evidence id].
func (e *Engine) DecryptionCallback(ctx context.Context, caller model.Identity, requestID uint64, cleartexts []uint64, proof signature.Envelope) error {
	return e.update(ctx, func(o *op) error {
		req, err := e.settleable(o, caller, requestID)
		if err != nil {
			return err
		}
		if err := e.verifyProof(canonhash.DecryptionPayload(requestID, cleartexts, ""), proof); err != nil {
			return err
		}
		if !validCleartexts(cleartexts, req.EvidenceID) {
			return ErrInvalidCleartexts
		}
		ev, err := o.evidence(req.InvestigationID, req.EvidenceID)
		if err != nil {
			return err
		}
		ev.DecryptionStatus = model.DecryptionCompleted
		ev.Revealed = &model.RevealedEvidence{
			Type:       model.EvidenceType(cleartexts[0]),
			Level:      cleartexts[1],
			EvidenceID: cleartexts[2],
		}
		req.Completed = true
		req.CompletedAt = o.now
		if err := e.settle(o, req, ev); err != nil {
			return err
		}
		n := o.event(notify.DecryptionCompleted)
		n.InvestigationID = req.InvestigationID
		n.EvidenceID = req.EvidenceID
		n.RequestID = requestID
		o.emit(n)
		return nil
	})
}

// validCleartexts checks the shape SubmitEvidence would have accepted:
// a known type, a non-zero level and the request's own evidence id.
func validCleartexts(cleartexts []uint64, evidenceID uint64) bool {
	return len(cleartexts) == 3 &&
		cleartexts[0] <= uint64(model.EvidenceTestimonial) &&
		cleartexts[1] > 0 &&
		cleartexts[2] == evidenceID
}

// DecryptionFailure is the oracle's signed report that it cannot decrypt.
func (e *Engine) DecryptionFailure(ctx context.Context, caller model.Identity, requestID uint64, reason string, proof signature.Envelope) error {
	return e.update(ctx, func(o *op) error {
		req, err := e.settleable(o, caller, requestID)
		if err != nil {
			return err
		}
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return ErrInvalidCleartexts
		}
		if err := e.verifyProof(canonhash.DecryptionPayload(requestID, nil, reason), proof); err != nil {
			return err
		}
		return e.fail(o, req, reason)
	})
}

// FailStaleDecryptions marks requests older than the decryption timeout as
// Failed and tells the oracle to drop them. It returns how many it failed.
func (e *Engine) FailStaleDecryptions(ctx context.Context) (int, error) {
	var failed int
	err := e.update(ctx, func(o *op) error {
		failed = 0
		p, err := o.pending()
		if err != nil {
			return err
		}
		ids := append([]uint64(nil), p.RequestIDs...)
		for _, id := range ids {
			req, err := o.request(id)
			if err != nil {
				return err
			}
			if req.Settled() || o.now.Sub(req.RequestedAt) < e.cfg.DecryptionTimeout {
				continue
			}
			if err := e.fail(o, req, "decryption timed out"); err != nil {
				return err
			}
			id := id
			o.onCommit = append(o.onCommit, func() {
				if err := e.oracle.Discard(context.Background(), id); err != nil {
					log.Printf("[courtlane] oracle discard %d failed: %v", id, err)
				}
			})
			failed++
		}
		return nil
	})
	return failed, err
}

func (e *Engine) fail(o *op, req *model.DecryptionRequest, reason string) error {
	ev, err := o.evidence(req.InvestigationID, req.EvidenceID)
	if err != nil {
		return err
	}
	ev.DecryptionStatus = model.DecryptionFailed
	req.Failed = true
	req.FailureReason = reason
	req.CompletedAt = o.now
	if err := e.settle(o, req, ev); err != nil {
		return err
	}
	n := o.event(notify.DecryptionFailed)
	n.InvestigationID = req.InvestigationID
	n.EvidenceID = req.EvidenceID
	n.RequestID = req.ID
	n.Data = map[string]any{"reason": reason}
	o.emit(n)
	return nil
}

func (e *Engine) settle(o *op, req *model.DecryptionRequest, ev *model.Evidence) error {
	p, err := o.pending()
	if err != nil {
		return err
	}
	p.Remove(req.ID)
	if err := o.putPending(p); err != nil {
		return err
	}
	if err := o.putRequest(req); err != nil {
		return err
	}
	return o.putEvidence(ev)
}
