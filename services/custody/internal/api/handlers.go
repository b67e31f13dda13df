package api

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/accordsai/courtlane/pkg/fhe"
	"github.com/accordsai/courtlane/pkg/httpx"
	"github.com/accordsai/courtlane/services/custody/internal/custody"
	"github.com/accordsai/courtlane/services/custody/internal/model"
	"github.com/accordsai/courtlane/services/custody/internal/notify"
)

func (s *Server) getRoles(w http.ResponseWriter, r *http.Request) {
	v, err := s.Engine.Roles(r.Context(), model.Identity(chi.URLParam(r, "identity")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "roles": v})
}

func (s *Server) setRole(grant bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mutate(w, r, func(caller model.Identity) (int, map[string]any, error) {
			id := model.Identity(chi.URLParam(r, "identity"))
			var err error
			switch role := strings.ToLower(chi.URLParam(r, "role")); {
			case role == "investigator" && grant:
				err = s.Engine.GrantInvestigator(r.Context(), caller, id)
			case role == "investigator":
				err = s.Engine.RevokeInvestigator(r.Context(), caller, id)
			case role == "judge" && grant:
				err = s.Engine.GrantJudge(r.Context(), caller, id)
			case role == "judge":
				err = s.Engine.RevokeJudge(r.Context(), caller, id)
			default:
				return 0, nil, badRequest("BAD_ROLE", "role must be investigator or judge")
			}
			if err != nil {
				return 0, nil, err
			}
			v, err := s.Engine.Roles(r.Context(), id)
			if err != nil {
				return 0, nil, err
			}
			return 200, map[string]any{"roles": v}, nil
		})
	}
}

func (s *Server) startInvestigation(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(caller model.Identity) (int, map[string]any, error) {
		var req struct {
			CaseID          uint64 `json:"case_id"`
			DurationSeconds uint64 `json:"duration_seconds"`
		}
		if err := readBody(r, &req); err != nil {
			return 0, nil, err
		}
		if req.DurationSeconds > uint64(math.MaxInt64/int64(time.Second)) {
			return 0, nil, custody.ErrInvalidDuration
		}
		inv, err := s.Engine.StartInvestigation(r.Context(), caller, req.CaseID, time.Duration(req.DurationSeconds)*time.Second)
		if err != nil {
			return 0, nil, err
		}
		return 201, map[string]any{"investigation": map[string]any{
			"id":               inv.ID,
			"creator":          inv.Creator,
			"status":           inv.Status,
			"created_at":       inv.CreatedAt,
			"expires_at":       inv.ExpiresAt,
			"case_id_handle":   inv.CaseIDHandle,
			"aggregate_handle": inv.AggregateHandle,
		}}, nil
	})
}

func (s *Server) getInvestigation(w http.ResponseWriter, r *http.Request) {
	invID, err := pathID(r, "investigation_id")
	if err != nil {
		writeEngineError(w, err)
		return
	}
	basic, err := s.Engine.InvestigationBasicInfo(r.Context(), invID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	times, err := s.Engine.InvestigationTimeInfo(r.Context(), invID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	counts, err := s.Engine.InvestigationCounts(r.Context(), invID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"request_id":    httpx.NewRequestID(),
		"investigation": basic,
		"times":         times,
		"counts":        counts,
	})
}

func (s *Server) authorizeParticipant(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(caller model.Identity) (int, map[string]any, error) {
		invID, err := pathID(r, "investigation_id")
		if err != nil {
			return 0, nil, err
		}
		var req struct {
			Participant string `json:"participant"`
		}
		if err := readBody(r, &req); err != nil {
			return 0, nil, err
		}
		if err := s.Engine.AuthorizeParticipant(r.Context(), caller, invID, model.Identity(strings.TrimSpace(req.Participant))); err != nil {
			return 0, nil, err
		}
		n, err := s.Engine.ParticipantCount(r.Context(), invID)
		if err != nil {
			return 0, nil, err
		}
		return 200, map[string]any{"investigation_id": invID, "participant_count": n}, nil
	})
}

func (s *Server) isAuthorized(w http.ResponseWriter, r *http.Request) {
	invID, err := pathID(r, "investigation_id")
	if err != nil {
		writeEngineError(w, err)
		return
	}
	ok, err := s.Engine.IsAuthorized(r.Context(), invID, model.Identity(chi.URLParam(r, "identity")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "authorized": ok})
}

// transition wraps the status changes that take no request body.
func (s *Server) transition(fn func(ctx context.Context, caller model.Identity, invID uint64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mutate(w, r, func(caller model.Identity) (int, map[string]any, error) {
			invID, err := pathID(r, "investigation_id")
			if err != nil {
				return 0, nil, err
			}
			if err := fn(r.Context(), caller, invID); err != nil {
				return 0, nil, err
			}
			basic, err := s.Engine.InvestigationBasicInfo(r.Context(), invID)
			if err != nil {
				return 0, nil, err
			}
			return 200, map[string]any{"investigation": basic}, nil
		})
	}
}

func (s *Server) submitEvidence(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(caller model.Identity) (int, map[string]any, error) {
		invID, err := pathID(r, "investigation_id")
		if err != nil {
			return 0, nil, err
		}
		var req struct {
			Type                 uint64 `json:"type"`
			ConfidentialityLevel uint64 `json:"confidentiality_level"`
			Stake                uint64 `json:"stake"`
		}
		if err := readBody(r, &req); err != nil {
			return 0, nil, err
		}
		if req.Type > math.MaxUint8 {
			return 0, nil, custody.ErrInvalidType
		}
		ev, err := s.Engine.SubmitEvidence(r.Context(), caller, invID, model.EvidenceType(req.Type), req.ConfidentialityLevel, req.Stake)
		if err != nil {
			return 0, nil, err
		}
		return 201, map[string]any{"evidence": ev}, nil
	})
}

func (s *Server) getEvidence(w http.ResponseWriter, r *http.Request) {
	invID, err := pathID(r, "investigation_id")
	if err != nil {
		writeEngineError(w, err)
		return
	}
	evID, err := pathID(r, "evidence_id")
	if err != nil {
		writeEngineError(w, err)
		return
	}
	ev, err := s.Engine.EvidenceFor(r.Context(), callerFrom(r.Context()), invID, evID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "evidence": ev})
}

func (s *Server) evidencePath(r *http.Request) (uint64, uint64, error) {
	invID, err := pathID(r, "investigation_id")
	if err != nil {
		return 0, 0, err
	}
	evID, err := pathID(r, "evidence_id")
	return invID, evID, err
}

func (s *Server) verifyEvidence(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(caller model.Identity) (int, map[string]any, error) {
		invID, evID, err := s.evidencePath(r)
		if err != nil {
			return 0, nil, err
		}
		if err := s.Engine.VerifyEvidence(r.Context(), caller, invID, evID); err != nil {
			return 0, nil, err
		}
		return 200, map[string]any{"investigation_id": invID, "evidence_id": evID, "verified": true}, nil
	})
}

func (s *Server) requestDecryption(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(caller model.Identity) (int, map[string]any, error) {
		invID, evID, err := s.evidencePath(r)
		if err != nil {
			return 0, nil, err
		}
		id, err := s.Engine.RequestDecryption(r.Context(), caller, invID, evID)
		if err != nil {
			return 0, nil, err
		}
		return 202, map[string]any{"decryption_request_id": id, "status": model.DecryptionRequested}, nil
	})
}

func (s *Server) evidenceRefund(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(caller model.Identity) (int, map[string]any, error) {
		invID, evID, err := s.evidencePath(r)
		if err != nil {
			return 0, nil, err
		}
		amount, err := s.Engine.RequestEvidenceRefund(r.Context(), caller, invID, evID)
		if err != nil {
			return 0, nil, err
		}
		return 200, map[string]any{"evidence_id": evID, "refunded": amount}, nil
	})
}

func (s *Server) submitWitness(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(caller model.Identity) (int, map[string]any, error) {
		invID, err := pathID(r, "investigation_id")
		if err != nil {
			return 0, nil, err
		}
		var req struct {
			CredibilityScore uint64 `json:"credibility_score"`
			TestimonyDigest  uint64 `json:"testimony_digest"`
			Stake            uint64 `json:"stake"`
		}
		if err := readBody(r, &req); err != nil {
			return 0, nil, err
		}
		wit, err := s.Engine.SubmitWitnessTestimony(r.Context(), caller, invID, req.CredibilityScore, req.TestimonyDigest, req.Stake)
		if err != nil {
			return 0, nil, err
		}
		return 201, map[string]any{"witness": map[string]any{
			"investigation_id": wit.InvestigationID,
			"id":               wit.ID,
			"score_handle":     wit.ScoreHandle,
			"testimony_handle": wit.TestimonyHandle,
			"stake":            wit.Stake,
		}}, nil
	})
}

func (s *Server) getWitness(w http.ResponseWriter, r *http.Request) {
	invID, err := pathID(r, "investigation_id")
	if err != nil {
		writeEngineError(w, err)
		return
	}
	witID, err := pathID(r, "witness_id")
	if err != nil {
		writeEngineError(w, err)
		return
	}
	info, err := s.Engine.Witness(r.Context(), invID, witID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "witness": info})
}

func (s *Server) witnessRefund(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(caller model.Identity) (int, map[string]any, error) {
		invID, err := pathID(r, "investigation_id")
		if err != nil {
			return 0, nil, err
		}
		witID, err := pathID(r, "witness_id")
		if err != nil {
			return 0, nil, err
		}
		amount, err := s.Engine.RequestWitnessRefund(r.Context(), caller, invID, witID)
		if err != nil {
			return 0, nil, err
		}
		return 200, map[string]any{"witness_id": witID, "refunded": amount}, nil
	})
}

func (s *Server) submitVerdict(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(caller model.Identity) (int, map[string]any, error) {
		invID, err := pathID(r, "investigation_id")
		if err != nil {
			return 0, nil, err
		}
		var req struct {
			Verdict      uint64 `json:"verdict"`
			Confidence   uint64 `json:"confidence"`
			WeightHandle string `json:"weight_handle"`
			WeightProof  string `json:"weight_proof"`
		}
		if err := readBody(r, &req); err != nil {
			return 0, nil, err
		}
		if req.Verdict > math.MaxUint8 {
			return 0, nil, custody.ErrInvalidVerdict
		}
		v, err := s.Engine.SubmitVerdict(r.Context(), caller, invID, model.VerdictValue(req.Verdict), req.Confidence, fhe.Handle(req.WeightHandle), req.WeightProof)
		if err != nil {
			return 0, nil, err
		}
		return 201, map[string]any{"verdict": map[string]any{
			"investigation_id":  v.InvestigationID,
			"judge":             v.Judge,
			"verdict_handle":    v.VerdictHandle,
			"confidence_handle": v.ConfidenceHandle,
			"submitted_at":      v.SubmittedAt,
		}}, nil
	})
}

// encryptInput seals a judge's verdict weight. The proof is bound to the
// caller, so the handle is only accepted on that judge's own verdict.
func (s *Server) encryptInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value uint64 `json:"value"`
	}
	if err := readBody(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}
	h, proof, err := s.Engine.EncryptInput(r.Context(), callerFrom(r.Context()), req.Value)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "handle": h, "proof": proof})
}

func (s *Server) hasVoted(w http.ResponseWriter, r *http.Request) {
	invID, err := pathID(r, "investigation_id")
	if err != nil {
		writeEngineError(w, err)
		return
	}
	voted, err := s.Engine.HasVoted(r.Context(), invID, model.Identity(chi.URLParam(r, "identity")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "has_voted": voted})
}

func (s *Server) pendingDecryptions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.PendingDecryptions(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "pending": ids})
}

func (s *Server) getDecryption(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "request_id")
	if err != nil {
		writeEngineError(w, err)
		return
	}
	req, err := s.Engine.DecryptionRequest(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "decryption": req})
}

// investigationEvents reads the audit trail. Witness events carry no actor.
func (s *Server) investigationEvents(w http.ResponseWriter, r *http.Request) {
	invID, err := pathID(r, "investigation_id")
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if _, err := s.Engine.InvestigationBasicInfo(r.Context(), invID); err != nil {
		writeEngineError(w, err)
		return
	}
	evs, err := s.History.ReadInvestigation(invID)
	if err != nil {
		httpx.WriteError(w, 500, "HISTORY_ERROR", err.Error(), nil)
		return
	}
	if evs == nil {
		evs = []notify.Event{}
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "events": evs})
}

func (s *Server) recentEvents(w http.ResponseWriter, r *http.Request) {
	n := int64(50)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, ok := httpx.ParseID(raw)
		if !ok || v > 1000 {
			httpx.WriteError(w, 400, "BAD_LIMIT", "limit must be between 1 and 1000", nil)
			return
		}
		n = int64(v)
	}
	evs, err := s.Recent.Recent(r.Context(), n)
	if err != nil {
		httpx.WriteError(w, 502, "EVENTS_UNAVAILABLE", err.Error(), nil)
		return
	}
	if evs == nil {
		evs = []notify.Event{}
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "events": evs})
}
