package custody

import (
	"context"
	"time"

	"github.com/accordsai/courtlane/pkg/fhe"
	"github.com/accordsai/courtlane/services/custody/internal/model"
)

type BasicInfo struct {
	ID        uint64                    `json:"id"`
	Creator   model.Identity            `json:"creator"`
	Status    model.InvestigationStatus `json:"status"`
	IsActive  bool                      `json:"is_active"`
	ExpiresAt time.Time                 `json:"expires_at"`
}

type TimeInfo struct {
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type Counts struct {
	EvidenceCountTotal int    `json:"evidence_count_total"`
	WitnessCountTotal  int    `json:"witness_count_total"`
	VerdictCount       int    `json:"verdict_count"`
	ParticipantCount   int    `json:"participant_count"`
	TotalStake         uint64 `json:"total_stake"`
}

// WitnessInfo is the public view of a witness record.
type WitnessInfo struct {
	InvestigationID uint64     `json:"investigation_id"`
	ID              uint64     `json:"id"`
	ScoreHandle     fhe.Handle `json:"score_handle"`
	TestimonyHandle fhe.Handle `json:"testimony_handle"`
	Protected       bool       `json:"protected"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	Stake           uint64     `json:"stake"`
	Refunded        bool       `json:"refunded"`
}

func (e *Engine) Investigation(ctx context.Context, invID uint64) (model.Investigation, error) {
	var out model.Investigation
	err := e.view(ctx, func(o *op) error {
		inv, err := o.investigation(invID)
		if err != nil {
			return err
		}
		out = *inv
		return nil
	})
	return out, err
}

func (e *Engine) InvestigationBasicInfo(ctx context.Context, invID uint64) (BasicInfo, error) {
	inv, err := e.Investigation(ctx, invID)
	if err != nil {
		return BasicInfo{}, err
	}
	return BasicInfo{ID: inv.ID, Creator: inv.Creator, Status: inv.Status, IsActive: inv.IsActive, ExpiresAt: inv.ExpiresAt}, nil
}

func (e *Engine) InvestigationTimeInfo(ctx context.Context, invID uint64) (TimeInfo, error) {
	inv, err := e.Investigation(ctx, invID)
	if err != nil {
		return TimeInfo{}, err
	}
	return TimeInfo{StartedAt: inv.CreatedAt, CompletedAt: inv.CompletedAt, ExpiresAt: inv.ExpiresAt}, nil
}

func (e *Engine) InvestigationCounts(ctx context.Context, invID uint64) (Counts, error) {
	inv, err := e.Investigation(ctx, invID)
	if err != nil {
		return Counts{}, err
	}
	return Counts{
		EvidenceCountTotal: len(inv.EvidenceIDs),
		WitnessCountTotal:  len(inv.WitnessIDs),
		VerdictCount:       len(inv.Judges),
		ParticipantCount:   len(inv.Participants),
		TotalStake:         inv.TotalStake,
	}, nil
}

func (e *Engine) Evidence(ctx context.Context, invID, evID uint64) (model.Evidence, error) {
	var out model.Evidence
	err := e.view(ctx, func(o *op) error {
		if _, err := o.investigation(invID); err != nil {
			return err
		}
		ev, err := o.evidence(invID, evID)
		if err != nil {
			return err
		}
		out = *ev
		return nil
	})
	return out, err
}

// EvidenceFor is the caller's view of an evidence record. Revealed
// cleartexts are kept for authorized participants only.
func (e *Engine) EvidenceFor(ctx context.Context, caller model.Identity, invID, evID uint64) (model.Evidence, error) {
	var out model.Evidence
	err := e.view(ctx, func(o *op) error {
		c, err := o.counters()
		if err != nil {
			return err
		}
		inv, err := o.investigation(invID)
		if err != nil {
			return err
		}
		ev, err := o.evidence(invID, evID)
		if err != nil {
			return err
		}
		out = *ev
		if caller.IsZero() || o.requireParticipant(c, inv, caller) != nil {
			out.Revealed = nil
		}
		return nil
	})
	return out, err
}

func (e *Engine) Witness(ctx context.Context, invID, witID uint64) (WitnessInfo, error) {
	var out WitnessInfo
	err := e.view(ctx, func(o *op) error {
		w, err := o.witness(invID, witID)
		if err != nil {
			return err
		}
		out = WitnessInfo{
			InvestigationID: w.InvestigationID,
			ID:              w.ID,
			ScoreHandle:     w.ScoreHandle,
			TestimonyHandle: w.TestimonyHandle,
			Protected:       w.Protected,
			SubmittedAt:     w.SubmittedAt,
			Stake:           w.Stake,
			Refunded:        w.Refunded,
		}
		return nil
	})
	return out, err
}

func (e *Engine) ParticipantCount(ctx context.Context, invID uint64) (int, error) {
	inv, err := e.Investigation(ctx, invID)
	if err != nil {
		return 0, err
	}
	return len(inv.Participants), nil
}

// IsAuthorized reports whether id passes the participant guard.
func (e *Engine) IsAuthorized(ctx context.Context, invID uint64, id model.Identity) (bool, error) {
	var ok bool
	err := e.view(ctx, func(o *op) error {
		c, err := o.counters()
		if err != nil {
			return err
		}
		inv, err := o.investigation(invID)
		if err != nil {
			return err
		}
		ok = !id.IsZero() && o.requireParticipant(c, inv, id) == nil
		return nil
	})
	return ok, err
}

func (e *Engine) HasVoted(ctx context.Context, invID uint64, judge model.Identity) (bool, error) {
	var voted bool
	err := e.view(ctx, func(o *op) error {
		if _, err := o.investigation(invID); err != nil {
			return err
		}
		var err error
		_, voted, err = o.verdict(invID, judge)
		return err
	})
	return voted, err
}

func (e *Engine) DecryptionRequest(ctx context.Context, requestID uint64) (model.DecryptionRequest, error) {
	var out model.DecryptionRequest
	err := e.view(ctx, func(o *op) error {
		r, err := o.request(requestID)
		if err != nil {
			return err
		}
		out = *r
		return nil
	})
	return out, err
}

func (e *Engine) PendingDecryptions(ctx context.Context) ([]uint64, error) {
	var out []uint64
	err := e.view(ctx, func(o *op) error {
		p, err := o.pending()
		out = p.RequestIDs
		return err
	})
	return out, err
}

// LastRequestID is the highest oracle request id recorded so far.
func (e *Engine) LastRequestID(ctx context.Context) (uint64, error) {
	var id uint64
	err := e.view(ctx, func(o *op) error {
		c, err := o.counters()
		id = c.LastRequestID
		return err
	})
	return id, err
}
