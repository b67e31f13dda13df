package custody

import (
	"context"
	"fmt"

	"github.com/accordsai/courtlane/pkg/fhe"
	"github.com/accordsai/courtlane/services/custody/internal/model"
	"github.com/accordsai/courtlane/services/custody/internal/notify"
	"github.com/accordsai/courtlane/services/custody/internal/store"
)

// EncryptInput seals a judge's weight and returns the handle and the proof
// binding it to that judge, as SubmitVerdict expects them.
func (e *Engine) EncryptInput(ctx context.Context, caller model.Identity, value uint64) (fhe.Handle, string, error) {
	if err := requireCaller(caller); err != nil {
		return "", "", err
	}
	err := e.view(ctx, func(o *op) error {
		c, err := o.counters()
		if err != nil {
			return err
		}
		ok, err := o.hasRole(c, caller, model.RoleJudge)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnauthorized
		}
		return nil
	})
	if err != nil {
		return "", "", err
	}
	h, proof, err := e.scheme.EncryptFor(ctx, string(caller), value)
	if err != nil {
		return "", "", fmt.Errorf("encrypt input: %w", err)
	}
	return h, proof, nil
}

// SubmitVerdict records one verdict per judge and adds the judge's encrypted
// weight into the investigation aggregate. Only the sum is kept, never a
// running average.
func (e *Engine) SubmitVerdict(ctx context.Context, caller model.Identity, invID uint64, verdict model.VerdictValue, confidence uint64, weight fhe.Handle, weightProof string) (model.Verdict, error) {
	var out model.Verdict
	if err := requireCaller(caller); err != nil {
		return out, err
	}
	err := e.update(ctx, func(o *op) error {
		c, err := o.counters()
		if err != nil {
			return err
		}
		ok, err := o.hasRole(c, caller, model.RoleJudge)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnauthorized
		}
		inv, err := o.investigation(invID)
		if err != nil {
			return err
		}
		if err := o.requireActive(inv); err != nil {
			return err
		}
		if _, voted, err := o.verdict(invID, caller); err != nil {
			return err
		} else if voted {
			return ErrAlreadyVoted
		}
		if !verdict.Valid() {
			return ErrInvalidVerdict
		}
		if confidence > MaxConfidence {
			return ErrInvalidConfidence
		}
		if weight.IsZero() {
			return ErrInvalidProof
		}
		if err := e.scheme.VerifyInput(ctx, weight, weightProof, string(caller)); err != nil {
			return fmt.Errorf("%w: weight: %v", ErrInvalidProof, err)
		}

		verdictHandle, err := e.scheme.Encrypt(ctx, uint64(verdict))
		if err != nil {
			return fmt.Errorf("encrypt verdict: %w", err)
		}
		confidenceHandle, err := e.scheme.Encrypt(ctx, confidence)
		if err != nil {
			return fmt.Errorf("encrypt confidence: %w", err)
		}
		aggregate, err := e.scheme.Add(ctx, inv.AggregateHandle, weight)
		if err != nil {
			return fmt.Errorf("accumulate weight: %w", err)
		}

		v := model.Verdict{
			InvestigationID:  invID,
			Judge:            caller,
			VerdictHandle:    verdictHandle,
			ConfidenceHandle: confidenceHandle,
			WeightHandle:     weight,
			SubmittedAt:      o.now,
			Submitted:        true,
		}
		inv.AggregateHandle = aggregate
		inv.Judges = append(inv.Judges, caller)
		if err := o.tx.Put(o.ctx, store.KindVerdict, store.VerdictKey(invID, string(caller)), v); err != nil {
			return err
		}
		if err := o.putInvestigation(inv); err != nil {
			return err
		}
		n := o.event(notify.VerdictSubmitted)
		n.InvestigationID = invID
		n.Actor = string(caller)
		o.emit(n)
		out = v
		return nil
	})
	return out, err
}
