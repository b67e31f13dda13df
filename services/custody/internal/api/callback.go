package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/accordsai/courtlane/pkg/httpx"
	"github.com/accordsai/courtlane/pkg/signature"
)

const maxCallbackBody = 64 << 10

// CallbackRequest is what a remote oracle posts back. Exactly one of
// Cleartexts and Failure is set; Proof signs the matching decryption payload.
type CallbackRequest struct {
	RequestID  uint64             `json:"request_id"`
	Cleartexts []uint64           `json:"cleartexts,omitempty"`
	Failure    string             `json:"failure,omitempty"`
	Proof      signature.Envelope `json:"proof"`
}

func (s *Server) oracleCallback(w http.ResponseWriter, r *http.Request) {
	if s.Callbacks == nil {
		httpx.WriteError(w, 404, "NOT_FOUND", "oracle callbacks are not enabled", nil)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody+1))
	if err != nil {
		httpx.WriteError(w, 400, "BAD_BODY", err.Error(), nil)
		return
	}
	if len(raw) > maxCallbackBody {
		httpx.WriteError(w, 413, "BODY_TOO_LARGE", "callback body too large", nil)
		return
	}
	res, err := s.Callbacks.Verify(r.Header, raw, s.now(), s.CallbackSecret)
	if err != nil {
		httpx.WriteError(w, 500, "CALLBACK_CONFIG", err.Error(), nil)
		return
	}
	if !res.Valid {
		httpx.WriteError(w, 401, "BAD_SIGNATURE", "callback signature invalid", res.Details)
		return
	}

	var req CallbackRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	if req.RequestID == 0 {
		httpx.WriteError(w, 400, "BAD_REQUEST", "request_id is required", nil)
		return
	}
	failure := strings.TrimSpace(req.Failure)
	if failure != "" && len(req.Cleartexts) > 0 {
		httpx.WriteError(w, 400, "BAD_REQUEST", "cleartexts and failure are exclusive", nil)
		return
	}

	if failure != "" {
		err = s.Engine.DecryptionFailure(r.Context(), s.OracleIdentity, req.RequestID, failure, req.Proof)
	} else {
		err = s.Engine.DecryptionCallback(r.Context(), s.OracleIdentity, req.RequestID, req.Cleartexts, req.Proof)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"request_id":            httpx.NewRequestID(),
		"decryption_request_id": req.RequestID,
		"delivery_id":           res.DeliveryID,
		"accepted":              true,
	})
}
