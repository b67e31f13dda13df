// Package notify delivers one event per committed custody state transition.
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type Kind string

const (
	InvestigationStarted   Kind = "investigation.started"
	InvestigationCompleted Kind = "investigation.completed"
	InvestigationTimedOut  Kind = "investigation.timed_out"
	InvestigationArchived  Kind = "investigation.archived"
	ParticipantAuthorized  Kind = "participant.authorized"
	EvidenceSubmitted      Kind = "evidence.submitted"
	EvidenceVerified       Kind = "evidence.verified"
	WitnessSubmitted       Kind = "witness.submitted"
	VerdictSubmitted       Kind = "verdict.submitted"
	DecryptionRequested    Kind = "decryption.requested"
	DecryptionCompleted    Kind = "decryption.completed"
	DecryptionFailed       Kind = "decryption.failed"
	RefundIssued           Kind = "refund.issued"
	RoleGranted            Kind = "role.granted"
	RoleRevoked            Kind = "role.revoked"
)

type Event struct {
	ID              string         `json:"id"`
	Kind            Kind           `json:"kind"`
	InvestigationID uint64         `json:"investigation_id,omitempty"`
	EvidenceID      uint64         `json:"evidence_id,omitempty"`
	WitnessID       uint64         `json:"witness_id,omitempty"`
	RequestID       uint64         `json:"request_id,omitempty"`
	Actor           string         `json:"actor,omitempty"`
	Amount          uint64         `json:"amount,omitempty"`
	At              time.Time      `json:"at"`
	Data            map[string]any `json:"data,omitempty"`
}

// NewEvent stamps an event with a sortable id.
func NewEvent(kind Kind, at time.Time) Event {
	return Event{ID: ulid.Make().String(), Kind: kind, At: at.UTC()}
}

type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Fanout publishes to every sink. A failing sink is logged and does not
// stop delivery to the others.
type Fanout []Notifier

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	for _, n := range f {
		if err := n.Publish(ctx, ev); err != nil {
			log.Printf("[courtlane] notify %s (%s) failed: %v", ev.Kind, ev.ID, err)
		}
	}
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Kinds() []Kind {
	evs := r.Events()
	out := make([]Kind, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Kind)
	}
	return out
}
