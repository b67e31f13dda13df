// Package api exposes the custody engine over HTTP.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/accordsai/courtlane/pkg/authn"
	"github.com/accordsai/courtlane/pkg/httpx"
	"github.com/accordsai/courtlane/pkg/idempotency"
	"github.com/accordsai/courtlane/pkg/webhooks"
	"github.com/accordsai/courtlane/services/custody/internal/custody"
	"github.com/accordsai/courtlane/services/custody/internal/model"
	"github.com/accordsai/courtlane/services/custody/internal/notify"
)

const serviceName = "custody"

type Server struct {
	Engine *custody.Engine
	Auth   authn.Authenticator
	Idem   idempotency.Store

	// Oracle callbacks are authenticated by an HMAC over the raw body and
	// attributed to OracleIdentity.
	Callbacks      webhooks.Verifier
	CallbackSecret string
	OracleIdentity model.Identity

	// Events serves the websocket stream; nil disables the route.
	Events http.Handler
	// History and Recent back the event read routes when configured.
	History EventHistory
	Recent  RecentEvents
	Now     func() time.Time
}

type EventHistory interface {
	ReadInvestigation(invID uint64) ([]notify.Event, error)
}

type RecentEvents interface {
	Recent(ctx context.Context, n int64) ([]notify.Event, error)
}

type ctxKey struct{}

func callerFrom(ctx context.Context) model.Identity {
	id, _ := ctx.Value(ctxKey{}).(model.Identity)
	return id
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/custody/v1", func(api chi.Router) {
		api.Post("/oracle/callback", s.oracleCallback)

		api.Group(func(authed chi.Router) {
			authed.Use(s.authenticate)

			authed.Get("/roles/{identity}", s.getRoles)
			authed.Put("/roles/{identity}/{role}", s.setRole(true))
			authed.Delete("/roles/{identity}/{role}", s.setRole(false))

			authed.Post("/inputs", s.encryptInput)

			authed.Post("/investigations", s.startInvestigation)
			authed.Get("/investigations/{investigation_id}", s.getInvestigation)
			authed.Post("/investigations/{investigation_id}/participants", s.authorizeParticipant)
			authed.Get("/investigations/{investigation_id}/participants/{identity}", s.isAuthorized)
			authed.Post("/investigations/{investigation_id}/complete", s.transition(s.Engine.CompleteInvestigation))
			authed.Post("/investigations/{investigation_id}/timeout", s.transition(s.Engine.HandleTimeout))
			authed.Post("/investigations/{investigation_id}/archive", s.transition(s.Engine.ArchiveInvestigation))

			authed.Post("/investigations/{investigation_id}/evidence", s.submitEvidence)
			authed.Get("/investigations/{investigation_id}/evidence/{evidence_id}", s.getEvidence)
			authed.Post("/investigations/{investigation_id}/evidence/{evidence_id}/verify", s.verifyEvidence)
			authed.Post("/investigations/{investigation_id}/evidence/{evidence_id}/decryption", s.requestDecryption)
			authed.Post("/investigations/{investigation_id}/evidence/{evidence_id}/refund", s.evidenceRefund)

			authed.Post("/investigations/{investigation_id}/witnesses", s.submitWitness)
			authed.Get("/investigations/{investigation_id}/witnesses/{witness_id}", s.getWitness)
			authed.Post("/investigations/{investigation_id}/witnesses/{witness_id}/refund", s.witnessRefund)

			authed.Post("/investigations/{investigation_id}/verdicts", s.submitVerdict)
			authed.Get("/investigations/{investigation_id}/verdicts/{identity}", s.hasVoted)

			authed.Get("/decryptions", s.pendingDecryptions)
			authed.Get("/decryptions/{request_id}", s.getDecryption)

			if s.Events != nil {
				authed.Get("/events/ws", s.Events.ServeHTTP)
			}
			if s.History != nil {
				authed.Get("/investigations/{investigation_id}/events", s.investigationEvents)
			}
			if s.Recent != nil {
				authed.Get("/events/recent", s.recentEvents)
			}
		})
	})
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.Auth.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			if !errors.Is(err, authn.ErrUnauthorized) {
				httpx.WriteError(w, 500, "AUTH_ERROR", err.Error(), nil)
				return
			}
			if rec, ok := s.Auth.(authn.FailureRecorder); ok {
				rec.RecordFailure(r.Context(), serviceName, r.Method+" "+r.URL.Path, "", "invalid bearer token", nil)
			}
			httpx.WriteError(w, 401, "UNAUTHORIZED", "valid bearer token required", nil)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, model.Identity(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestError struct {
	code string
	msg  string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(code, msg string) error { return &requestError{code: code, msg: msg} }

// writeEngineError maps custody rejections onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var re *requestError
	if errors.As(err, &re) {
		httpx.WriteError(w, 400, re.code, re.msg, nil)
		return
	}
	ce, ok := custody.AsError(err)
	if !ok {
		httpx.WriteError(w, 500, "INTERNAL", err.Error(), nil)
		return
	}
	status := 500
	switch ce.Class {
	case custody.ClassAuthorization:
		status = 403
	case custody.ClassState:
		status = 409
	case custody.ClassValidation:
		status = 400
	case custody.ClassIntegrity:
		switch ce {
		case custody.ErrNotFound:
			status = 404
		case custody.ErrInvalidProof:
			status = 401
		}
	case custody.ClassResource:
		status = 409
		if ce == custody.ErrTransferFailed {
			status = 502
		}
	}
	httpx.WriteError(w, status, ce.Code, err.Error(), map[string]any{"class": ce.Class})
}

// mutate runs a state-changing call with Idempotency-Key replay. Only
// successful responses are remembered.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, run func(caller model.Identity) (int, map[string]any, error)) {
	caller := callerFrom(r.Context())
	actor := idempotency.ActorContext{
		ActorID:        string(caller),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
	endpoint := r.Method + " " + r.URL.Path
	if s.Idem != nil {
		status, body, found, err := idempotency.Replay(r.Context(), s.Idem, actor, endpoint)
		if err != nil {
			httpx.WriteError(w, 500, "IDEMPOTENCY_ERROR", err.Error(), nil)
			return
		}
		if found {
			httpx.WriteJSON(w, status, body)
			return
		}
	}

	status, body, err := run(caller)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if body == nil {
		body = map[string]any{}
	}
	body["request_id"] = httpx.NewRequestID()
	if s.Idem != nil {
		if err := idempotency.Save(r.Context(), s.Idem, actor, endpoint, status, body); err != nil {
			log.Printf("[courtlane] idempotency save %s failed: %v", endpoint, err)
		}
	}
	httpx.WriteJSON(w, status, body)
}

func pathID(r *http.Request, name string) (uint64, error) {
	id, ok := httpx.ParseID(chi.URLParam(r, name))
	if !ok {
		return 0, badRequest("BAD_ID", name+" must be a positive integer")
	}
	return id, nil
}

func readBody(r *http.Request, dst any) error {
	if err := httpx.ReadJSON(r, dst); err != nil {
		return badRequest("BAD_JSON", err.Error())
	}
	return nil
}
