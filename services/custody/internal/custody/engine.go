package custody

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/accordsai/courtlane/pkg/fhe"
	"github.com/accordsai/courtlane/pkg/signature"
	"github.com/accordsai/courtlane/services/custody/internal/model"
	"github.com/accordsai/courtlane/services/custody/internal/notify"
	"github.com/accordsai/courtlane/services/custody/internal/oracle"
	"github.com/accordsai/courtlane/services/custody/internal/stake"
	"github.com/accordsai/courtlane/services/custody/internal/store"
)

const (
	MaxScore      = 100
	MaxConfidence = 100
)

type Config struct {
	MinDuration       time.Duration
	MaxDuration       time.Duration
	EvidenceTimeout   time.Duration
	RefundGrace       time.Duration
	DecryptionTimeout time.Duration
	OracleIdentity    model.Identity
}

func DefaultConfig() Config {
	return Config{
		MinDuration:       time.Hour,
		MaxDuration:       365 * 24 * time.Hour,
		EvidenceTimeout:   7 * 24 * time.Hour,
		RefundGrace:       7 * 24 * time.Hour,
		DecryptionTimeout: 24 * time.Hour,
		OracleIdentity:    "oracle",
	}
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// ProofVerifier checks an oracle signature over a decryption payload.
type ProofVerifier interface {
	VerifyEnvelope(payload any, env signature.Envelope) (signature.VerifyResult, error)
}

type Engine struct {
	cfg      Config
	store    store.Store
	scheme   fhe.Scheme
	ledger   stake.Ledger
	oracle   oracle.Client
	verifier ProofVerifier
	notifier notify.Notifier
	clock    Clock
}

type Option func(*Engine)

func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

func WithNotifier(n notify.Notifier) Option { return func(e *Engine) { e.notifier = n } }

func New(cfg Config, st store.Store, scheme fhe.Scheme, ledger stake.Ledger, oc oracle.Client, verifier ProofVerifier, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		store:    st,
		scheme:   scheme,
		ledger:   ledger,
		oracle:   oc,
		verifier: verifier,
		notifier: notify.Nop{},
		clock:    systemClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() Config { return e.cfg }

// op is the state of one atomic call.
type op struct {
	ctx      context.Context
	tx       store.Tx
	now      time.Time
	events   []notify.Event
	onCommit []func()
	onAbort  []func()
	aborted  bool
}

func (o *op) emit(ev notify.Event) { o.events = append(o.events, ev) }

func (o *op) event(kind notify.Kind) notify.Event { return notify.NewEvent(kind, o.now) }

func (o *op) abort() {
	if o.aborted {
		return
	}
	o.aborted = true
	for i := len(o.onAbort) - 1; i >= 0; i-- {
		o.onAbort[i]()
	}
}

// update runs fn in one store transaction. Hooks and events only take effect
// after the transaction commits; a store that retries fn gets a fresh op.
func (e *Engine) update(ctx context.Context, fn func(*op) error) error {
	var cur *op
	err := e.store.Update(ctx, func(tx store.Tx) error {
		if cur != nil {
			cur.abort()
		}
		cur = &op{ctx: ctx, tx: tx, now: e.clock.Now().UTC()}
		return fn(cur)
	})
	if err != nil {
		if cur != nil {
			cur.abort()
		}
		return err
	}
	for _, f := range cur.onCommit {
		f()
	}
	for _, ev := range cur.events {
		if err := e.notifier.Publish(ctx, ev); err != nil {
			log.Printf("[courtlane] publish %s failed: %v", ev.Kind, err)
		}
	}
	return nil
}

func (e *Engine) view(ctx context.Context, fn func(*op) error) error {
	return e.store.View(ctx, func(tx store.Tx) error {
		return fn(&op{ctx: ctx, tx: tx, now: e.clock.Now().UTC()})
	})
}

func (o *op) counters() (model.Counters, error) {
	var c model.Counters
	ok, err := o.tx.Get(o.ctx, store.KindState, store.KeyCounters, &c)
	if err != nil {
		return c, err
	}
	if !ok {
		return c, ErrNotInitialized
	}
	return c, nil
}

func (o *op) putCounters(c model.Counters) error {
	return o.tx.Put(o.ctx, store.KindState, store.KeyCounters, c)
}

func (o *op) roleGrant(id model.Identity) (model.RoleGrant, error) {
	g := model.RoleGrant{Identity: id}
	_, err := o.tx.Get(o.ctx, store.KindRole, string(id), &g)
	return g, err
}

// hasRole treats the admin as holding every role.
func (o *op) hasRole(c model.Counters, id model.Identity, r model.Role) (bool, error) {
	if id.IsZero() {
		return false, nil
	}
	if id == c.Admin {
		return true, nil
	}
	g, err := o.roleGrant(id)
	if err != nil {
		return false, err
	}
	return g.Has(r), nil
}

func (o *op) investigation(id uint64) (*model.Investigation, error) {
	var inv model.Investigation
	ok, err := o.tx.Get(o.ctx, store.KindInvestigation, store.IDKey(id), &inv)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: investigation %d", ErrNotFound, id)
	}
	return &inv, nil
}

func (o *op) putInvestigation(inv *model.Investigation) error {
	return o.tx.Put(o.ctx, store.KindInvestigation, store.IDKey(inv.ID), inv)
}

func (o *op) evidence(invID, evID uint64) (*model.Evidence, error) {
	var ev model.Evidence
	ok, err := o.tx.Get(o.ctx, store.KindEvidence, store.PairKey(invID, evID), &ev)
	if err != nil {
		return nil, err
	}
	if !ok || ev.Submitter.IsZero() {
		return nil, fmt.Errorf("%w: evidence %d/%d", ErrNotFound, invID, evID)
	}
	return &ev, nil
}

func (o *op) putEvidence(ev *model.Evidence) error {
	return o.tx.Put(o.ctx, store.KindEvidence, store.PairKey(ev.InvestigationID, ev.ID), ev)
}

func (o *op) witness(invID, witID uint64) (*model.Witness, error) {
	var w model.Witness
	ok, err := o.tx.Get(o.ctx, store.KindWitness, store.PairKey(invID, witID), &w)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: witness %d/%d", ErrNotFound, invID, witID)
	}
	return &w, nil
}

func (o *op) putWitness(w *model.Witness) error {
	return o.tx.Put(o.ctx, store.KindWitness, store.PairKey(w.InvestigationID, w.ID), w)
}

func (o *op) verdict(invID uint64, judge model.Identity) (*model.Verdict, bool, error) {
	var v model.Verdict
	ok, err := o.tx.Get(o.ctx, store.KindVerdict, store.VerdictKey(invID, string(judge)), &v)
	if err != nil || !ok {
		return nil, false, err
	}
	return &v, v.Submitted, nil
}

func (o *op) request(id uint64) (*model.DecryptionRequest, error) {
	var r model.DecryptionRequest
	ok, err := o.tx.Get(o.ctx, store.KindRequest, store.IDKey(id), &r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: decryption request %d", ErrNotFound, id)
	}
	return &r, nil
}

func (o *op) putRequest(r *model.DecryptionRequest) error {
	return o.tx.Put(o.ctx, store.KindRequest, store.IDKey(r.ID), r)
}

func (o *op) pending() (model.PendingIndex, error) {
	var p model.PendingIndex
	_, err := o.tx.Get(o.ctx, store.KindState, store.KeyPending, &p)
	return p, err
}

func (o *op) putPending(p model.PendingIndex) error {
	return o.tx.Put(o.ctx, store.KindState, store.KeyPending, p)
}

// requireActive is the shared "active and unexpired" guard.
func (o *op) requireActive(inv *model.Investigation) error {
	if !inv.IsActive || inv.Status != model.StatusActive {
		return ErrNotActive
	}
	if !o.now.Before(inv.ExpiresAt) {
		return ErrExpired
	}
	return nil
}

func (o *op) requireParticipant(c model.Counters, inv *model.Investigation, caller model.Identity) error {
	if caller == c.Admin || inv.IsParticipant(caller) {
		return nil
	}
	return ErrNotParticipant
}

func requireCaller(caller model.Identity) error {
	if caller.IsZero() {
		return ErrUnauthorized
	}
	return nil
}
