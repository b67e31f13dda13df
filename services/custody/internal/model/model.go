package model

import (
	"strings"
	"time"

	"github.com/accordsai/courtlane/pkg/fhe"
)

// Identity is a caller identity as resolved by the service host.
type Identity string

func (id Identity) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

type Role uint8

const (
	RoleInvestigator Role = 1 << iota
	RoleJudge
)

type InvestigationStatus string

const (
	StatusActive    InvestigationStatus = "ACTIVE"
	StatusCompleted InvestigationStatus = "COMPLETED"
	StatusArchived  InvestigationStatus = "ARCHIVED"
	StatusTimedOut  InvestigationStatus = "TIMED_OUT"
)

// Terminal reports whether the investigation reached Completed or TimedOut.
func (s InvestigationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusTimedOut
}

type EvidenceType uint8

const (
	EvidenceDocument EvidenceType = iota
	EvidencePhysical
	EvidenceDigital
	EvidenceForensic
	EvidenceTestimonial
)

func (t EvidenceType) Valid() bool { return t <= EvidenceTestimonial }

func (t EvidenceType) String() string {
	switch t {
	case EvidenceDocument:
		return "DOCUMENT"
	case EvidencePhysical:
		return "PHYSICAL"
	case EvidenceDigital:
		return "DIGITAL"
	case EvidenceForensic:
		return "FORENSIC"
	case EvidenceTestimonial:
		return "TESTIMONIAL"
	}
	return "UNKNOWN"
}

type VerdictValue uint8

const (
	VerdictGuilty VerdictValue = iota
	VerdictNotGuilty
	VerdictInconclusive
)

func (v VerdictValue) Valid() bool { return v <= VerdictInconclusive }

type DecryptionStatus string

const (
	DecryptionNone      DecryptionStatus = "NONE"
	DecryptionRequested DecryptionStatus = "REQUESTED"
	DecryptionCompleted DecryptionStatus = "COMPLETED"
	DecryptionFailed    DecryptionStatus = "FAILED"
)

type Investigation struct {
	ID              uint64              `json:"id"`
	CaseIDHandle    fhe.Handle          `json:"case_id_handle"`
	Creator         Identity            `json:"creator"`
	Status          InvestigationStatus `json:"status"`
	CreatedAt       time.Time           `json:"created_at"`
	CompletedAt     time.Time           `json:"completed_at"`
	ExpiresAt       time.Time           `json:"expires_at"`
	IsActive        bool                `json:"is_active"`
	Participants    []Identity          `json:"participants"`
	ParticipantSet  map[Identity]bool   `json:"participant_set"`
	TotalStake      uint64              `json:"total_stake"`
	AggregateHandle fhe.Handle          `json:"aggregate_handle"`
	EvidenceIDs     []uint64            `json:"evidence_ids"`
	WitnessIDs      []uint64            `json:"witness_ids"`
	Judges          []Identity          `json:"judges"`
}

func (inv *Investigation) IsParticipant(id Identity) bool {
	return inv.ParticipantSet[id]
}

// AddParticipant appends id once; it reports whether the list changed.
func (inv *Investigation) AddParticipant(id Identity) bool {
	if inv.ParticipantSet == nil {
		inv.ParticipantSet = map[Identity]bool{}
	}
	if inv.ParticipantSet[id] {
		return false
	}
	inv.ParticipantSet[id] = true
	inv.Participants = append(inv.Participants, id)
	return true
}

type Evidence struct {
	InvestigationID     uint64            `json:"investigation_id"`
	ID                  uint64            `json:"id"`
	TypeHandle          fhe.Handle        `json:"type_handle"`
	LevelHandle         fhe.Handle        `json:"level_handle"`
	IDHandle            fhe.Handle        `json:"id_handle"`
	Submitter           Identity          `json:"submitter"`
	SubmittedAt         time.Time         `json:"submitted_at"`
	ExpiresAt           time.Time         `json:"expires_at"`
	IsVerified          bool              `json:"is_verified"`
	Stake               uint64            `json:"stake"`
	DecryptionStatus    DecryptionStatus  `json:"decryption_status"`
	DecryptionRequestID uint64            `json:"decryption_request_id"`
	Refunded            bool              `json:"refunded"`
	Revealed            *RevealedEvidence `json:"revealed,omitempty"`
}

// RevealedEvidence holds the cleartexts delivered by a completed decryption.
type RevealedEvidence struct {
	Type       EvidenceType `json:"type"`
	Level      uint64       `json:"level"`
	EvidenceID uint64       `json:"evidence_id"`
}

type Witness struct {
	InvestigationID uint64     `json:"investigation_id"`
	ID              uint64     `json:"id"`
	ScoreHandle     fhe.Handle `json:"score_handle"`
	TestimonyHandle fhe.Handle `json:"testimony_handle"`
	Protected       bool       `json:"protected"`
	Submitter       Identity   `json:"submitter"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	Stake           uint64     `json:"stake"`
	Refunded        bool       `json:"refunded"`
}

type Verdict struct {
	InvestigationID  uint64     `json:"investigation_id"`
	Judge            Identity   `json:"judge"`
	VerdictHandle    fhe.Handle `json:"verdict_handle"`
	ConfidenceHandle fhe.Handle `json:"confidence_handle"`
	WeightHandle     fhe.Handle `json:"weight_handle"`
	SubmittedAt      time.Time  `json:"submitted_at"`
	Submitted        bool       `json:"submitted"`
}

type DecryptionRequest struct {
	ID              uint64    `json:"id"`
	InvestigationID uint64    `json:"investigation_id"`
	EvidenceID      uint64    `json:"evidence_id"`
	Requester       Identity  `json:"requester"`
	RequestedAt     time.Time `json:"requested_at"`
	Completed       bool      `json:"completed"`
	Failed          bool      `json:"failed"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

// Settled reports whether a callback or the watchdog already closed the request.
func (r *DecryptionRequest) Settled() bool { return r.Completed || r.Failed }

// Counters is the single process-wide state record. All counters start at 1.
type Counters struct {
	Admin               Identity `json:"admin"`
	NextInvestigationID uint64   `json:"next_investigation_id"`
	NextEvidenceID      uint64   `json:"next_evidence_id"`
	NextWitnessID       uint64   `json:"next_witness_id"`
	LastRequestID       uint64   `json:"last_request_id"`
}

func NewCounters(admin Identity) Counters {
	return Counters{Admin: admin, NextInvestigationID: 1, NextEvidenceID: 1, NextWitnessID: 1}
}

// RoleGrant is the bitset stored per identity.
type RoleGrant struct {
	Identity Identity `json:"identity"`
	Roles    Role     `json:"roles"`
}

func (g RoleGrant) Has(r Role) bool { return g.Roles&r != 0 }

// PendingIndex lists decryption requests that have not settled yet.
type PendingIndex struct {
	RequestIDs []uint64 `json:"request_ids"`
}

func (p *PendingIndex) Add(id uint64) {
	for _, x := range p.RequestIDs {
		if x == id {
			return
		}
	}
	p.RequestIDs = append(p.RequestIDs, id)
}

func (p *PendingIndex) Remove(id uint64) {
	out := p.RequestIDs[:0]
	for _, x := range p.RequestIDs {
		if x != id {
			out = append(out, x)
		}
	}
	p.RequestIDs = out
}
