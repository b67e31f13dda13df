package custody

import (
	"testing"
	"time"

	"github.com/accordsai/courtlane/services/custody/internal/model"
	"github.com/accordsai/courtlane/services/custody/internal/notify"
	"github.com/accordsai/courtlane/services/custody/internal/stake"
)

func TestStartAndSubmitEvidenceUpdatesCounts(t *testing.T) {
	f := newFixture(t)
	inv := f.start(24 * time.Hour)
	if inv.ID != 1 || inv.Status != model.StatusActive || !inv.IsActive {
		t.Fatalf("unexpected investigation %+v", inv)
	}
	if !inv.ExpiresAt.Equal(t0.Add(24 * time.Hour)) {
		t.Fatalf("unexpected expiry %s", inv.ExpiresAt)
	}
	ev := f.submitEvidence(inv.ID, inv1, 10)
	if ev.ID != 1 || ev.DecryptionStatus != model.DecryptionNone || ev.IsVerified {
		t.Fatalf("unexpected evidence %+v", ev)
	}
	counts, err := f.engine.InvestigationCounts(f.ctx, inv.ID)
	if err != nil {
		t.Fatalf("InvestigationCounts: %v", err)
	}
	want := Counts{EvidenceCountTotal: 1, ParticipantCount: 1, TotalStake: 10}
	if counts != want {
		t.Fatalf("expected %+v, got %+v", want, counts)
	}
	if got := f.balance(inv1); got != 990 {
		t.Fatalf("expected stake to leave the submitter, balance=%d", got)
	}
	if got := f.balance(stake.EscrowAccount); got != 10 {
		t.Fatalf("expected stake in escrow, got %d", got)
	}
}

func TestNonInvestigatorCannotStart(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.StartInvestigation(f.ctx, outsider, 1, 24*time.Hour)
	expectErr(t, err, ErrUnauthorized)
	_, err = f.engine.StartInvestigation(f.ctx, judge1, 1, 24*time.Hour)
	expectErr(t, err, ErrUnauthorized)
	_, err = f.engine.StartInvestigation(f.ctx, "", 1, 24*time.Hour)
	expectErr(t, err, ErrUnauthorized)
	if _, err := f.engine.Investigation(f.ctx, 1); err == nil {
		t.Fatalf("rejected start must not create an investigation")
	}
}

func TestStartRejectsDurationOutOfBounds(t *testing.T) {
	f := newFixture(t)
	for _, d := range []time.Duration{0, 30 * time.Minute, 366 * 24 * time.Hour} {
		_, err := f.engine.StartInvestigation(f.ctx, inv1, 1, d)
		expectErr(t, err, ErrInvalidDuration)
	}
	f.start(time.Hour)
	f.start(365 * 24 * time.Hour)
}

func TestCaseIDStaysEncrypted(t *testing.T) {
	f := newFixture(t)
	inv, err := f.engine.StartInvestigation(f.ctx, inv1, 777, 24*time.Hour)
	if err != nil {
		t.Fatalf("StartInvestigation: %v", err)
	}
	v, err := f.scheme.Decrypt(f.ctx, inv.CaseIDHandle)
	if err != nil || v != 777 {
		t.Fatalf("expected case handle to decrypt to 777, got %d err=%v", v, err)
	}
	agg, err := f.scheme.Decrypt(f.ctx, inv.AggregateHandle)
	if err != nil || agg != 0 {
		t.Fatalf("expected zero aggregate, got %d err=%v", agg, err)
	}
}

func TestAuthorizeParticipant(t *testing.T) {
	f := newFixture(t)
	inv := f.start(24 * time.Hour)

	expectErr(t, f.engine.AuthorizeParticipant(f.ctx, outsider, inv.ID, judge1), ErrNotCreator)
	expectErr(t, f.engine.AuthorizeParticipant(f.ctx, admin, inv.ID, judge1), ErrNotCreator)
	expectErr(t, f.engine.AuthorizeParticipant(f.ctx, inv1, inv.ID, ""), ErrInvalidIdentity)
	expectErr(t, f.engine.AuthorizeParticipant(f.ctx, inv1, 99, judge1), ErrNotFound)

	f.must(f.engine.AuthorizeParticipant(f.ctx, inv1, inv.ID, judge1))
	f.must(f.engine.AuthorizeParticipant(f.ctx, inv1, inv.ID, judge1))
	n, err := f.engine.ParticipantCount(f.ctx, inv.ID)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 participants after a repeated grant, got %d err=%v", n, err)
	}
	granted := 0
	for _, k := range f.recorder.Kinds() {
		if k == notify.ParticipantAuthorized {
			granted++
		}
	}
	if granted != 1 {
		t.Fatalf("expected one participant event, got %d", granted)
	}
	for id, want := range map[model.Identity]bool{inv1: true, judge1: true, admin: true, outsider: false, "": false} {
		got, err := f.engine.IsAuthorized(f.ctx, inv.ID, id)
		if err != nil || got != want {
			t.Fatalf("IsAuthorized(%q)=%v err=%v, want %v", id, got, err, want)
		}
	}

	f.clock.Advance(24 * time.Hour)
	expectErr(t, f.engine.AuthorizeParticipant(f.ctx, inv1, inv.ID, judge2), ErrExpired)
}

func TestCompleteInvestigation(t *testing.T) {
	f := newFixture(t)
	inv := f.start(24 * time.Hour)
	expectErr(t, f.engine.CompleteInvestigation(f.ctx, judge1, inv.ID), ErrNotCreator)
	f.clock.Advance(time.Hour)
	f.must(f.engine.CompleteInvestigation(f.ctx, inv1, inv.ID))

	info, err := f.engine.InvestigationTimeInfo(f.ctx, inv.ID)
	if err != nil {
		t.Fatalf("InvestigationTimeInfo: %v", err)
	}
	if !info.StartedAt.Equal(t0) || !info.CompletedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("unexpected time info %+v", info)
	}
	basic, _ := f.engine.InvestigationBasicInfo(f.ctx, inv.ID)
	if basic.Status != model.StatusCompleted || basic.IsActive {
		t.Fatalf("unexpected basic info %+v", basic)
	}
	expectErr(t, f.engine.CompleteInvestigation(f.ctx, inv1, inv.ID), ErrNotActive)
	_, err = f.engine.SubmitEvidence(f.ctx, inv1, inv.ID, model.EvidenceDocument, 1, 1)
	expectErr(t, err, ErrNotActive)
}

func TestHandleTimeoutAndArchive(t *testing.T) {
	f := newFixture(t)
	inv := f.start(time.Hour)

	expectErr(t, f.engine.HandleTimeout(f.ctx, outsider, inv.ID), ErrNotExpired)
	expectErr(t, f.engine.ArchiveInvestigation(f.ctx, admin, inv.ID), ErrNotTerminal)

	f.clock.Advance(time.Hour)
	_, err := f.engine.SubmitEvidence(f.ctx, inv1, inv.ID, model.EvidenceDocument, 1, 1)
	expectErr(t, err, ErrExpired)
	f.must(f.engine.HandleTimeout(f.ctx, outsider, inv.ID))
	basic, _ := f.engine.InvestigationBasicInfo(f.ctx, inv.ID)
	if basic.Status != model.StatusTimedOut || basic.IsActive {
		t.Fatalf("expected TIMED_OUT, got %+v", basic)
	}
	expectErr(t, f.engine.HandleTimeout(f.ctx, outsider, inv.ID), ErrNotActive)
	expectErr(t, f.engine.CompleteInvestigation(f.ctx, inv1, inv.ID), ErrNotActive)

	expectErr(t, f.engine.ArchiveInvestigation(f.ctx, inv1, inv.ID), ErrUnauthorized)
	f.must(f.engine.ArchiveInvestigation(f.ctx, admin, inv.ID))
	basic, _ = f.engine.InvestigationBasicInfo(f.ctx, inv.ID)
	if basic.Status != model.StatusArchived {
		t.Fatalf("expected ARCHIVED, got %s", basic.Status)
	}
	expectErr(t, f.engine.ArchiveInvestigation(f.ctx, admin, inv.ID), ErrNotTerminal)
	expectErr(t, f.engine.HandleTimeout(f.ctx, outsider, inv.ID), ErrNotActive)
}

func TestSubmitEvidenceValidation(t *testing.T) {
	f := newFixture(t)
	inv := f.start(24 * time.Hour)

	_, err := f.engine.SubmitEvidence(f.ctx, outsider, inv.ID, model.EvidenceDocument, 1, 5)
	expectErr(t, err, ErrNotParticipant)
	_, err = f.engine.SubmitEvidence(f.ctx, inv1, inv.ID, model.EvidenceType(5), 1, 5)
	expectErr(t, err, ErrInvalidType)
	_, err = f.engine.SubmitEvidence(f.ctx, inv1, inv.ID, model.EvidenceDigital, 0, 5)
	expectErr(t, err, ErrInvalidLevel)
	_, err = f.engine.SubmitEvidence(f.ctx, inv1, inv.ID, model.EvidenceDigital, 1, 0)
	expectErr(t, err, ErrNoStake)
	_, err = f.engine.SubmitEvidence(f.ctx, inv1, inv.ID, model.EvidenceDigital, 1, 5000)
	expectErr(t, err, ErrTransferFailed)

	counts, _ := f.engine.InvestigationCounts(f.ctx, inv.ID)
	if counts.EvidenceCountTotal != 0 || counts.TotalStake != 0 {
		t.Fatalf("rejected submissions must leave no trace, got %+v", counts)
	}
	if got := f.balance(inv1); got != 1000 {
		t.Fatalf("rejected submissions must not move funds, balance=%d", got)
	}

	f.must(f.engine.AuthorizeParticipant(f.ctx, inv1, inv.ID, outsider))
	ev, err := f.engine.SubmitEvidence(f.ctx, outsider, inv.ID, model.EvidenceTestimonial, 3, 5)
	if err != nil {
		t.Fatalf("participant submit: %v", err)
	}
	if ev.ID != 1 {
		t.Fatalf("rejected submissions must not consume ids, got %d", ev.ID)
	}
	adminEv, err := f.engine.SubmitEvidence(f.ctx, admin, inv.ID, model.EvidencePhysical, 3, 5)
	if err != nil || adminEv.ID != 2 {
		t.Fatalf("admin passes the participant guard, id=%d err=%v", adminEv.ID, err)
	}
}

func TestSubmitEvidenceRejectsStakeOverflow(t *testing.T) {
	f := newFixture(t)
	_ = f.ledger.Fund(string(inv1), ^uint64(0)-2000)
	inv := f.start(24 * time.Hour)
	f.submitEvidence(inv.ID, inv1, ^uint64(0)-1100)
	_, err := f.engine.SubmitEvidence(f.ctx, inv1, inv.ID, model.EvidenceDocument, 1, 2000)
	expectErr(t, err, ErrStakeOverflow)
}

func TestCommitFailureReversesCollectedStake(t *testing.T) {
	f := newFixture(t)
	inv := f.start(24 * time.Hour)
	f.store.fail = true
	_, err := f.engine.SubmitEvidence(f.ctx, inv1, inv.ID, model.EvidenceDocument, 1, 40)
	expectErr(t, err, errCommit)
	_, err = f.engine.SubmitWitnessTestimony(f.ctx, outsider, inv.ID, 10, 1, 40)
	expectErr(t, err, errCommit)
	f.store.fail = false
	if got := f.balance(inv1); got != 1000 {
		t.Fatalf("expected evidence stake to be returned, balance=%d", got)
	}
	if got := f.balance(outsider); got != 1000 {
		t.Fatalf("expected witness stake to be returned, balance=%d", got)
	}
	if got := f.balance(stake.EscrowAccount); got != 0 {
		t.Fatalf("expected empty escrow, got %d", got)
	}
}

func TestVerifyEvidence(t *testing.T) {
	f := newFixture(t)
	inv := f.start(24 * time.Hour)
	ev := f.submitEvidence(inv.ID, inv1, 10)
	f.must(f.engine.AuthorizeParticipant(f.ctx, inv1, inv.ID, judge1))

	expectErr(t, f.engine.VerifyEvidence(f.ctx, judge1, inv.ID, ev.ID), ErrUnauthorized)
	f.must(f.engine.GrantInvestigator(f.ctx, admin, outsider))
	expectErr(t, f.engine.VerifyEvidence(f.ctx, outsider, inv.ID, ev.ID), ErrNotParticipant)
	expectErr(t, f.engine.VerifyEvidence(f.ctx, inv1, inv.ID, 42), ErrNotFound)

	f.must(f.engine.VerifyEvidence(f.ctx, inv1, inv.ID, ev.ID))
	got, err := f.engine.Evidence(f.ctx, inv.ID, ev.ID)
	if err != nil || !got.IsVerified {
		t.Fatalf("expected verified evidence, got %+v err=%v", got, err)
	}
}

func TestWitnessTestimonyIsAnonymous(t *testing.T) {
	f := newFixture(t)
	inv := f.start(24 * time.Hour)

	_, err := f.engine.SubmitWitnessTestimony(f.ctx, outsider, inv.ID, MaxScore+1, 9, 20)
	expectErr(t, err, ErrInvalidScore)
	_, err = f.engine.SubmitWitnessTestimony(f.ctx, outsider, inv.ID, 80, 9, 0)
	expectErr(t, err, ErrNoStake)

	w, err := f.engine.SubmitWitnessTestimony(f.ctx, outsider, inv.ID, 80, 9, 20)
	if err != nil {
		t.Fatalf("SubmitWitnessTestimony: %v", err)
	}
	if w.ID != 1 || !w.Protected {
		t.Fatalf("unexpected witness %+v", w)
	}
	info, err := f.engine.Witness(f.ctx, inv.ID, w.ID)
	if err != nil {
		t.Fatalf("Witness: %v", err)
	}
	score, _ := f.scheme.Decrypt(f.ctx, info.ScoreHandle)
	if score != 80 || info.Stake != 20 {
		t.Fatalf("unexpected witness view %+v score=%d", info, score)
	}
	evs := f.recorder.Events()
	last := evs[len(evs)-1]
	if last.Kind != notify.WitnessSubmitted || last.Actor != "" {
		t.Fatalf("witness event must not name the submitter: %+v", last)
	}
	counts, _ := f.engine.InvestigationCounts(f.ctx, inv.ID)
	if counts.WitnessCountTotal != 1 || counts.TotalStake != 20 || counts.ParticipantCount != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}
	if _, err := f.engine.Witness(f.ctx, inv.ID, 7); err == nil {
		t.Fatalf("expected unknown witness to fail")
	}
}

func TestVerdictsAccumulateWeights(t *testing.T) {
	f := newFixture(t)
	inv := f.start(24 * time.Hour)

	w1, p1, err := f.scheme.EncryptFor(f.ctx, string(judge1), 3)
	if err != nil {
		t.Fatalf("EncryptFor: %v", err)
	}
	w2, p2, err := f.scheme.EncryptFor(f.ctx, string(judge2), 5)
	if err != nil {
		t.Fatalf("EncryptFor: %v", err)
	}

	_, err = f.engine.SubmitVerdict(f.ctx, outsider, inv.ID, model.VerdictGuilty, 90, w1, p1)
	expectErr(t, err, ErrUnauthorized)
	_, err = f.engine.SubmitVerdict(f.ctx, judge1, inv.ID, model.VerdictValue(3), 90, w1, p1)
	expectErr(t, err, ErrInvalidVerdict)
	_, err = f.engine.SubmitVerdict(f.ctx, judge1, inv.ID, model.VerdictGuilty, MaxConfidence+1, w1, p1)
	expectErr(t, err, ErrInvalidConfidence)
	_, err = f.engine.SubmitVerdict(f.ctx, judge2, inv.ID, model.VerdictGuilty, 90, w1, p1)
	expectErr(t, err, ErrInvalidProof)
	_, err = f.engine.SubmitVerdict(f.ctx, judge1, inv.ID, model.VerdictGuilty, 90, "", "")
	expectErr(t, err, ErrInvalidProof)

	if _, err := f.engine.SubmitVerdict(f.ctx, judge1, inv.ID, model.VerdictGuilty, 90, w1, p1); err != nil {
		t.Fatalf("judge-1 verdict: %v", err)
	}
	if _, err := f.engine.SubmitVerdict(f.ctx, judge2, inv.ID, model.VerdictNotGuilty, 40, w2, p2); err != nil {
		t.Fatalf("judge-2 verdict: %v", err)
	}
	_, err = f.engine.SubmitVerdict(f.ctx, judge1, inv.ID, model.VerdictNotGuilty, 10, w1, p1)
	expectErr(t, err, ErrAlreadyVoted)

	got, err := f.engine.Investigation(f.ctx, inv.ID)
	if err != nil {
		t.Fatalf("Investigation: %v", err)
	}
	sum, err := f.scheme.Decrypt(f.ctx, got.AggregateHandle)
	if err != nil || sum != 8 {
		t.Fatalf("expected aggregate 8, got %d err=%v", sum, err)
	}
	for _, j := range []model.Identity{judge1, judge2} {
		voted, err := f.engine.HasVoted(f.ctx, inv.ID, j)
		if err != nil || !voted {
			t.Fatalf("expected %s to have voted, err=%v", j, err)
		}
	}
	voted, _ := f.engine.HasVoted(f.ctx, inv.ID, admin)
	if voted {
		t.Fatalf("admin did not vote")
	}
	counts, _ := f.engine.InvestigationCounts(f.ctx, inv.ID)
	if counts.VerdictCount != 2 {
		t.Fatalf("expected 2 verdicts, got %d", counts.VerdictCount)
	}

	f.clock.Advance(24 * time.Hour)
	w3, p3, _ := f.scheme.EncryptFor(f.ctx, string(admin), 1)
	_, err = f.engine.SubmitVerdict(f.ctx, admin, inv.ID, model.VerdictGuilty, 1, w3, p3)
	expectErr(t, err, ErrExpired)
}
