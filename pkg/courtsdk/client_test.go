package courtsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientInvestigationEvidenceDecryption(t *testing.T) {
	var seenKey, seenAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		seenAuth = r.Header.Get("Authorization")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/custody/v1/investigations":
			seenKey = r.Header.Get("Idempotency-Key")
			var in StartInvestigationRequest
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.CaseID != 77 {
				http.Error(w, "bad body", http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"request_id":    "req_1",
				"investigation": map[string]any{"id": 1, "creator": "inv", "status": "ACTIVE"},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/custody/v1/investigations/1":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"request_id":    "req_2",
				"investigation": map[string]any{"id": 1, "status": "ACTIVE", "is_active": true},
				"counts":        map[string]any{"evidence_count_total": 1, "total_stake": 100},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/custody/v1/investigations/1/evidence":
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"request_id": "req_3",
				"evidence":   map[string]any{"investigation_id": 1, "id": 4, "stake": 100, "decryption_status": "NONE"},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/custody/v1/investigations/1/evidence/4/decryption":
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"request_id": "req_4", "decryption_request_id": 9, "status": "REQUESTED",
			})
		case r.Method == http.MethodGet && r.URL.Path == "/custody/v1/decryptions/9":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"request_id": "req_5",
				"decryption": map[string]any{"id": 9, "evidence_id": 4, "completed": true},
			})
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "tok")
	ctx := context.Background()

	inv, err := c.StartInvestigation(ctx, StartInvestigationRequest{CaseID: 77, DurationSeconds: 7200}, "k1")
	if err != nil {
		t.Fatalf("StartInvestigation() error: %v", err)
	}
	if inv.Investigation.ID != 1 || inv.Investigation.Status != "ACTIVE" {
		t.Fatalf("StartInvestigation() = %+v", inv.Investigation)
	}
	if seenKey != "k1" {
		t.Fatalf("Idempotency-Key = %q", seenKey)
	}
	if seenAuth != "Bearer tok" {
		t.Fatalf("Authorization = %q", seenAuth)
	}

	got, err := c.Investigation(ctx, 1)
	if err != nil {
		t.Fatalf("Investigation() error: %v", err)
	}
	if got.Counts == nil || got.Counts.TotalStake != 100 {
		t.Fatalf("Investigation() counts = %+v", got.Counts)
	}

	ev, err := c.SubmitEvidence(ctx, 1, SubmitEvidenceRequest{Type: 2, ConfidentialityLevel: 40, Stake: 100}, "")
	if err != nil {
		t.Fatalf("SubmitEvidence() error: %v", err)
	}
	if ev.Evidence.ID != 4 || ev.Evidence.DecryptionStatus != "NONE" {
		t.Fatalf("SubmitEvidence() = %+v", ev.Evidence)
	}

	dr, err := c.RequestDecryption(ctx, 1, 4, "")
	if err != nil {
		t.Fatalf("RequestDecryption() error: %v", err)
	}
	if dr.DecryptionRequestID != 9 {
		t.Fatalf("RequestDecryption() id = %d", dr.DecryptionRequestID)
	}

	d, err := c.Decryption(ctx, 9)
	if err != nil {
		t.Fatalf("Decryption() error: %v", err)
	}
	if !d.Completed || d.EvidenceID != 4 {
		t.Fatalf("Decryption() = %+v", d)
	}
}

func TestClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"request_id": "req_x",
			"error":      map[string]any{"code": "NOT_ELIGIBLE", "message": "refund not eligible"},
		})
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok").EvidenceRefund(context.Background(), 1, 1, "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Code != "NOT_ELIGIBLE" {
		t.Fatalf("APIError = %+v", apiErr)
	}
}

func TestEventsURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8090":  "ws://localhost:8090/custody/v1/events/ws",
		"https://court.example/": "wss://court.example/custody/v1/events/ws",
	}
	for base, want := range cases {
		got, err := New(base, "").EventsURL()
		if err != nil {
			t.Fatalf("EventsURL(%q) error: %v", base, err)
		}
		if got != want {
			t.Fatalf("EventsURL(%q) = %q, want %q", base, got, want)
		}
	}
	if h := New("http://x", "").AuthHeader(); h.Get("Authorization") != "" {
		t.Fatalf("unexpected Authorization header %q", h.Get("Authorization"))
	}
}

func TestClientLifecycleWitnessVerdict(t *testing.T) {
	seen := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		seen[r.Method+" "+r.URL.Path] = r.Header.Get("Idempotency-Key")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/custody/v1/investigations/3/timeout":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"request_id":    "req_t",
				"investigation": map[string]any{"id": 3, "status": "EXPIRED", "is_active": false},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/custody/v1/investigations/3/archive":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"request_id":    "req_a",
				"investigation": map[string]any{"id": 3, "status": "ARCHIVED"},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/custody/v1/investigations/3/witnesses":
			var in SubmitWitnessRequest
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.CredibilityScore != 85 {
				http.Error(w, "bad body", http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"request_id": "req_w",
				"witness":    map[string]any{"investigation_id": 3, "id": 1, "score_handle": "ct_aa", "stake": in.Stake},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/custody/v1/investigations/3/witnesses/1/refund":
			_ = json.NewEncoder(w).Encode(map[string]any{"request_id": "req_r", "witness_id": 1, "refunded": 50})
		case r.Method == http.MethodPost && r.URL.Path == "/custody/v1/inputs":
			var in struct {
				Value uint64 `json:"value"`
			}
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Value != 4 {
				http.Error(w, "bad body", http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"request_id": "req_i", "handle": "ct_44", "proof": "pf"})
		case r.Method == http.MethodPost && r.URL.Path == "/custody/v1/investigations/3/verdicts":
			var in SubmitVerdictRequest
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.WeightHandle != "ct_44" || in.WeightProof != "pf" {
				http.Error(w, "bad body", http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"request_id": "req_v",
				"verdict":    map[string]any{"investigation_id": 3, "judge": "judge-a", "verdict_handle": "ct_01"},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/custody/v1/investigations/3/verdicts/judge-a":
			_ = json.NewEncoder(w).Encode(map[string]any{"request_id": "req_h", "has_voted": true})
		case r.Method == http.MethodGet && r.URL.Path == "/custody/v1/decryptions":
			_ = json.NewEncoder(w).Encode(map[string]any{"request_id": "req_p", "pending": []uint64{2, 5}})
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	ctx := context.Background()

	wit, err := c.SubmitWitness(ctx, 3, SubmitWitnessRequest{CredibilityScore: 85, TestimonyDigest: 9, Stake: 50}, "w1")
	if err != nil {
		t.Fatalf("SubmitWitness() error: %v", err)
	}
	if wit.Witness.ID != 1 || wit.Witness.Stake != 50 {
		t.Fatalf("SubmitWitness() = %+v", wit.Witness)
	}
	if seen["POST /custody/v1/investigations/3/witnesses"] != "w1" {
		t.Fatalf("witness Idempotency-Key = %q", seen["POST /custody/v1/investigations/3/witnesses"])
	}

	in, err := c.EncryptInput(ctx, 4)
	if err != nil {
		t.Fatalf("EncryptInput() error: %v", err)
	}
	v, err := c.SubmitVerdict(ctx, 3, SubmitVerdictRequest{Verdict: 1, Confidence: 90, WeightHandle: in.Handle, WeightProof: in.Proof}, "")
	if err != nil {
		t.Fatalf("SubmitVerdict() error: %v", err)
	}
	if v.Verdict.Judge != "judge-a" {
		t.Fatalf("SubmitVerdict() = %+v", v.Verdict)
	}
	voted, err := c.HasVoted(ctx, 3, "judge-a")
	if err != nil || !voted {
		t.Fatalf("HasVoted() = %v, %v", voted, err)
	}

	inv, err := c.HandleTimeout(ctx, 3, "t1")
	if err != nil {
		t.Fatalf("HandleTimeout() error: %v", err)
	}
	if inv.Investigation.Status != "EXPIRED" || inv.Investigation.IsActive {
		t.Fatalf("HandleTimeout() = %+v", inv.Investigation)
	}
	if seen["POST /custody/v1/investigations/3/timeout"] != "t1" {
		t.Fatalf("timeout Idempotency-Key = %q", seen["POST /custody/v1/investigations/3/timeout"])
	}

	ref, err := c.WitnessRefund(ctx, 3, 1, "")
	if err != nil || ref.Refunded != 50 {
		t.Fatalf("WitnessRefund() = %+v, %v", ref, err)
	}

	arch, err := c.ArchiveInvestigation(ctx, 3, "")
	if err != nil || arch.Investigation.Status != "ARCHIVED" {
		t.Fatalf("ArchiveInvestigation() = %+v, %v", arch, err)
	}

	pending, err := c.PendingDecryptions(ctx)
	if err != nil || len(pending) != 2 || pending[1] != 5 {
		t.Fatalf("PendingDecryptions() = %v, %v", pending, err)
	}

	if _, err := c.CompleteInvestigation(ctx, 3, ""); err == nil {
		t.Fatalf("CompleteInvestigation() on unknown route should fail")
	}
}
