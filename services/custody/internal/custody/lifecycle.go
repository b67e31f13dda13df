package custody

import (
	"context"
	"fmt"
	"time"

	"github.com/accordsai/courtlane/services/custody/internal/model"
	"github.com/accordsai/courtlane/services/custody/internal/notify"
)

func (e *Engine) StartInvestigation(ctx context.Context, caller model.Identity, caseID uint64, duration time.Duration) (model.Investigation, error) {
	var out model.Investigation
	if err := requireCaller(caller); err != nil {
		return out, err
	}
	err := e.update(ctx, func(o *op) error {
		c, err := o.counters()
		if err != nil {
			return err
		}
		ok, err := o.hasRole(c, caller, model.RoleInvestigator)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnauthorized
		}
		if duration < e.cfg.MinDuration || duration > e.cfg.MaxDuration {
			return ErrInvalidDuration
		}
		caseHandle, err := e.scheme.Encrypt(ctx, caseID)
		if err != nil {
			return fmt.Errorf("encrypt case id: %w", err)
		}
		aggregate, err := e.scheme.Encrypt(ctx, 0)
		if err != nil {
			return fmt.Errorf("encrypt aggregate: %w", err)
		}
		inv := model.Investigation{
			ID:              c.NextInvestigationID,
			CaseIDHandle:    caseHandle,
			Creator:         caller,
			Status:          model.StatusActive,
			CreatedAt:       o.now,
			ExpiresAt:       o.now.Add(duration),
			IsActive:        true,
			AggregateHandle: aggregate,
		}
		inv.AddParticipant(caller)
		c.NextInvestigationID++
		if err := o.putCounters(c); err != nil {
			return err
		}
		if err := o.putInvestigation(&inv); err != nil {
			return err
		}
		ev := o.event(notify.InvestigationStarted)
		ev.InvestigationID = inv.ID
		ev.Actor = string(caller)
		ev.Data = map[string]any{"expires_at": inv.ExpiresAt}
		o.emit(ev)
		out = inv
		return nil
	})
	return out, err
}

// AuthorizeParticipant adds participant once; repeated grants are ignored.
func (e *Engine) AuthorizeParticipant(ctx context.Context, caller model.Identity, invID uint64, participant model.Identity) error {
	return e.update(ctx, func(o *op) error {
		inv, err := o.investigation(invID)
		if err != nil {
			return err
		}
		if caller.IsZero() || caller != inv.Creator {
			return ErrNotCreator
		}
		if err := o.requireActive(inv); err != nil {
			return err
		}
		if participant.IsZero() {
			return ErrInvalidIdentity
		}
		if !inv.AddParticipant(participant) {
			return nil
		}
		if err := o.putInvestigation(inv); err != nil {
			return err
		}
		ev := o.event(notify.ParticipantAuthorized)
		ev.InvestigationID = invID
		ev.Actor = string(caller)
		ev.Data = map[string]any{"participant": string(participant)}
		o.emit(ev)
		return nil
	})
}

func (e *Engine) CompleteInvestigation(ctx context.Context, caller model.Identity, invID uint64) error {
	return e.update(ctx, func(o *op) error {
		inv, err := o.investigation(invID)
		if err != nil {
			return err
		}
		if caller.IsZero() || caller != inv.Creator {
			return ErrNotCreator
		}
		if err := o.requireActive(inv); err != nil {
			return err
		}
		inv.Status = model.StatusCompleted
		inv.IsActive = false
		inv.CompletedAt = o.now
		if err := o.putInvestigation(inv); err != nil {
			return err
		}
		ev := o.event(notify.InvestigationCompleted)
		ev.InvestigationID = invID
		ev.Actor = string(caller)
		o.emit(ev)
		return nil
	})
}

// HandleTimeout moves an expired, still active investigation to TimedOut.
// Anyone may call it.
func (e *Engine) HandleTimeout(ctx context.Context, caller model.Identity, invID uint64) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	return e.update(ctx, func(o *op) error {
		inv, err := o.investigation(invID)
		if err != nil {
			return err
		}
		if !inv.IsActive || inv.Status != model.StatusActive {
			return ErrNotActive
		}
		if o.now.Before(inv.ExpiresAt) {
			return ErrNotExpired
		}
		inv.Status = model.StatusTimedOut
		inv.IsActive = false
		inv.CompletedAt = o.now
		if err := o.putInvestigation(inv); err != nil {
			return err
		}
		ev := o.event(notify.InvestigationTimedOut)
		ev.InvestigationID = invID
		ev.Actor = string(caller)
		o.emit(ev)
		return nil
	})
}

func (e *Engine) ArchiveInvestigation(ctx context.Context, caller model.Identity, invID uint64) error {
	return e.update(ctx, func(o *op) error {
		c, err := o.counters()
		if err != nil {
			return err
		}
		if caller.IsZero() || caller != c.Admin {
			return ErrUnauthorized
		}
		inv, err := o.investigation(invID)
		if err != nil {
			return err
		}
		if !inv.Status.Terminal() {
			return ErrNotTerminal
		}
		inv.Status = model.StatusArchived
		if err := o.putInvestigation(inv); err != nil {
			return err
		}
		ev := o.event(notify.InvestigationArchived)
		ev.InvestigationID = invID
		ev.Actor = string(caller)
		o.emit(ev)
		return nil
	})
}
