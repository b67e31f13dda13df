package custody

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/google/uuid"

	"github.com/accordsai/courtlane/services/custody/internal/model"
	"github.com/accordsai/courtlane/services/custody/internal/notify"
	"github.com/accordsai/courtlane/services/custody/internal/store"
)

// collectStake pulls amount from payer into escrow and returns it if the
// call later aborts.
func (e *Engine) collectStake(o *op, payer model.Identity, amount uint64, subject string) error {
	ref := "collect:" + subject + ":" + uuid.NewString()
	if err := e.ledger.Collect(o.ctx, string(payer), amount, ref); err != nil {
		return fmt.Errorf("%w: collect stake: %v", ErrTransferFailed, err)
	}
	o.onAbort = append(o.onAbort, func() {
		if err := e.ledger.Transfer(context.Background(), string(payer), amount, "reverse:"+ref); err != nil {
			log.Printf("[courtlane] stake reversal %s failed: %v", ref, err)
		}
	})
	return nil
}

func (e *Engine) SubmitEvidence(ctx context.Context, caller model.Identity, invID uint64, typ model.EvidenceType, level, amount uint64) (model.Evidence, error) {
	var out model.Evidence
	if err := requireCaller(caller); err != nil {
		return out, err
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
		if err := o.requireActive(inv); err != nil {
			return err
		}
		if err := o.requireParticipant(c, inv, caller); err != nil {
			return err
		}
		if !typ.Valid() {
			return ErrInvalidType
		}
		if level == 0 {
			return ErrInvalidLevel
		}
		if amount == 0 {
			return ErrNoStake
		}
		if inv.TotalStake > math.MaxUint64-amount {
			return ErrStakeOverflow
		}

		evID := c.NextEvidenceID
		typeHandle, err := e.scheme.Encrypt(ctx, uint64(typ))
		if err != nil {
			return fmt.Errorf("encrypt evidence type: %w", err)
		}
		levelHandle, err := e.scheme.Encrypt(ctx, level)
		if err != nil {
			return fmt.Errorf("encrypt confidentiality level: %w", err)
		}
		idHandle, err := e.scheme.Encrypt(ctx, evID)
		if err != nil {
			return fmt.Errorf("encrypt evidence id: %w", err)
		}
		if err := e.collectStake(o, caller, amount, "evidence:"+store.PairKey(invID, evID)); err != nil {
			return err
		}

		ev := model.Evidence{
			InvestigationID:  invID,
			ID:               evID,
			TypeHandle:       typeHandle,
			LevelHandle:      levelHandle,
			IDHandle:         idHandle,
			Submitter:        caller,
			SubmittedAt:      o.now,
			ExpiresAt:        o.now.Add(e.cfg.EvidenceTimeout),
			Stake:            amount,
			DecryptionStatus: model.DecryptionNone,
		}
		c.NextEvidenceID++
		inv.EvidenceIDs = append(inv.EvidenceIDs, evID)
		inv.TotalStake += amount
		if err := o.putCounters(c); err != nil {
			return err
		}
		if err := o.putInvestigation(inv); err != nil {
			return err
		}
		if err := o.putEvidence(&ev); err != nil {
			return err
		}
		n := o.event(notify.EvidenceSubmitted)
		n.InvestigationID = invID
		n.EvidenceID = evID
		n.Actor = string(caller)
		n.Amount = amount
		n.Data = map[string]any{"expires_at": ev.ExpiresAt}
		o.emit(n)
		out = ev
		return nil
	})
	return out, err
}

func (e *Engine) VerifyEvidence(ctx context.Context, caller model.Identity, invID, evID uint64) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	return e.update(ctx, func(o *op) error {
		c, err := o.counters()
		if err != nil {
			return err
		}
		inv, err := o.investigation(invID)
		if err != nil {
			return err
		}
		if err := o.requireActive(inv); err != nil {
			return err
		}
		ok, err := o.hasRole(c, caller, model.RoleInvestigator)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnauthorized
		}
		if err := o.requireParticipant(c, inv, caller); err != nil {
			return err
		}
		ev, err := o.evidence(invID, evID)
		if err != nil {
			return err
		}
		ev.IsVerified = true
		if err := o.putEvidence(ev); err != nil {
			return err
		}
		n := o.event(notify.EvidenceVerified)
		n.InvestigationID = invID
		n.EvidenceID = evID
		n.Actor = string(caller)
		o.emit(n)
		return nil
	})
}

// SubmitWitnessTestimony has no participant gate. The submitter is kept
// only as the refund destination and is not exposed by queries or events.
func (e *Engine) SubmitWitnessTestimony(ctx context.Context, caller model.Identity, invID, score, testimonyDigest, amount uint64) (model.Witness, error) {
	var out model.Witness
	if err := requireCaller(caller); err != nil {
		return out, err
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
		if err := o.requireActive(inv); err != nil {
			return err
		}
		if score > MaxScore {
			return ErrInvalidScore
		}
		if amount == 0 {
			return ErrNoStake
		}
		if inv.TotalStake > math.MaxUint64-amount {
			return ErrStakeOverflow
		}

		witID := c.NextWitnessID
		scoreHandle, err := e.scheme.Encrypt(ctx, score)
		if err != nil {
			return fmt.Errorf("encrypt credibility score: %w", err)
		}
		digestHandle, err := e.scheme.Encrypt(ctx, testimonyDigest)
		if err != nil {
			return fmt.Errorf("encrypt testimony digest: %w", err)
		}
		if err := e.collectStake(o, caller, amount, "witness:"+store.PairKey(invID, witID)); err != nil {
			return err
		}

		w := model.Witness{
			InvestigationID: invID,
			ID:              witID,
			ScoreHandle:     scoreHandle,
			TestimonyHandle: digestHandle,
			Protected:       true,
			Submitter:       caller,
			SubmittedAt:     o.now,
			Stake:           amount,
		}
		c.NextWitnessID++
		inv.WitnessIDs = append(inv.WitnessIDs, witID)
		inv.TotalStake += amount
		if err := o.putCounters(c); err != nil {
			return err
		}
		if err := o.putInvestigation(inv); err != nil {
			return err
		}
		if err := o.putWitness(&w); err != nil {
			return err
		}
		n := o.event(notify.WitnessSubmitted)
		n.InvestigationID = invID
		n.WitnessID = witID
		n.Amount = amount
		o.emit(n)
		out = w
		return nil
	})
	return out, err
}
