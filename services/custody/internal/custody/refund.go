package custody

import (
	"context"
	"fmt"

	"github.com/accordsai/courtlane/services/custody/internal/model"
	"github.com/accordsai/courtlane/services/custody/internal/notify"
	"github.com/accordsai/courtlane/services/custody/internal/store"
)

// RequestEvidenceRefund returns the stake to the submitter once the evidence
// expired, its decryption failed, or the investigation grace period passed.
// State changes only after the transfer succeeds.
func (e *Engine) RequestEvidenceRefund(ctx context.Context, caller model.Identity, invID, evID uint64) (uint64, error) {
	var amount uint64
	if err := requireCaller(caller); err != nil {
		return 0, err
	}
	err := e.update(ctx, func(o *op) error {
		inv, err := o.investigation(invID)
		if err != nil {
			return err
		}
		ev, err := o.evidence(invID, evID)
		if err != nil {
			return err
		}
		if ev.Submitter != caller {
			return ErrNotSubmitter
		}
		if ev.Refunded {
			return ErrAlreadyRefunded
		}
		if ev.Stake == 0 {
			return ErrNoStake
		}
		eligible := !o.now.Before(ev.ExpiresAt) ||
			ev.DecryptionStatus == model.DecryptionFailed ||
			e.pastGrace(o, inv)
		if !eligible {
			return ErrNotEligible
		}
		if err := e.checkStakeInvariant(o, inv, ev.Stake); err != nil {
			return err
		}
		if err := e.ledger.Transfer(ctx, string(ev.Submitter), ev.Stake, "refund:evidence:"+store.PairKey(invID, evID)); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		ev.Refunded = true
		inv.TotalStake -= ev.Stake
		if err := o.putEvidence(ev); err != nil {
			return err
		}
		if err := o.putInvestigation(inv); err != nil {
			return err
		}
		n := o.event(notify.RefundIssued)
		n.InvestigationID = invID
		n.EvidenceID = evID
		n.Actor = string(caller)
		n.Amount = ev.Stake
		o.emit(n)
		amount = ev.Stake
		return nil
	})
	return amount, err
}

// RequestWitnessRefund may be called by anyone after the investigation grace
// period; the stake always goes back to the recorded submitter.
func (e *Engine) RequestWitnessRefund(ctx context.Context, caller model.Identity, invID, witID uint64) (uint64, error) {
	var amount uint64
	if err := requireCaller(caller); err != nil {
		return 0, err
	}
	err := e.update(ctx, func(o *op) error {
		inv, err := o.investigation(invID)
		if err != nil {
			return err
		}
		w, err := o.witness(invID, witID)
		if err != nil {
			return err
		}
		if w.Refunded {
			return ErrAlreadyRefunded
		}
		if w.Stake == 0 {
			return ErrNoStake
		}
		if !e.pastGrace(o, inv) {
			return ErrNotEligible
		}
		if err := e.checkStakeInvariant(o, inv, w.Stake); err != nil {
			return err
		}
		if err := e.ledger.Transfer(ctx, string(w.Submitter), w.Stake, "refund:witness:"+store.PairKey(invID, witID)); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		w.Refunded = true
		inv.TotalStake -= w.Stake
		if err := o.putWitness(w); err != nil {
			return err
		}
		if err := o.putInvestigation(inv); err != nil {
			return err
		}
		n := o.event(notify.RefundIssued)
		n.InvestigationID = invID
		n.WitnessID = witID
		n.Amount = w.Stake
		o.emit(n)
		amount = w.Stake
		return nil
	})
	return amount, err
}

func (e *Engine) pastGrace(o *op, inv *model.Investigation) bool {
	return !o.now.Before(inv.ExpiresAt.Add(e.cfg.RefundGrace))
}

// checkStakeInvariant recomputes the non-refunded stake sum and makes sure
// the refund can be taken out of it.
func (e *Engine) checkStakeInvariant(o *op, inv *model.Investigation, refund uint64) error {
	sum, err := e.outstandingStake(o, inv)
	if err != nil {
		return err
	}
	if sum != inv.TotalStake || inv.TotalStake < refund {
		return fmt.Errorf("%w: investigation %d total %d attached %d", ErrStakeInvariant, inv.ID, inv.TotalStake, sum)
	}
	return nil
}

func (e *Engine) outstandingStake(o *op, inv *model.Investigation) (uint64, error) {
	var sum uint64
	for _, id := range inv.EvidenceIDs {
		ev, err := o.evidence(inv.ID, id)
		if err != nil {
			return 0, err
		}
		if !ev.Refunded {
			sum += ev.Stake
		}
	}
	for _, id := range inv.WitnessIDs {
		w, err := o.witness(inv.ID, id)
		if err != nil {
			return 0, err
		}
		if !w.Refunded {
			sum += w.Stake
		}
	}
	return sum, nil
}
