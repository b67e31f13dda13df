// Package courtsdk is a thin HTTP client for the custody service.
package courtsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Bearer     string
}

func New(baseURL, bearer string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
		Bearer:     bearer,
	}
}

// APIError is a non-2xx response in the service's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d: %s: %s", e.Status, e.Code, e.Message)
}

type Investigation struct {
	ID              uint64    `json:"id"`
	Creator         string    `json:"creator"`
	Status          string    `json:"status"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
	CaseIDHandle    string    `json:"case_id_handle,omitempty"`
	AggregateHandle string    `json:"aggregate_handle,omitempty"`
}

type InvestigationTimes struct {
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type InvestigationCounts struct {
	EvidenceCountTotal int    `json:"evidence_count_total"`
	WitnessCountTotal  int    `json:"witness_count_total"`
	VerdictCount       int    `json:"verdict_count"`
	ParticipantCount   int    `json:"participant_count"`
	TotalStake         uint64 `json:"total_stake"`
}

type InvestigationResponse struct {
	RequestID     string               `json:"request_id"`
	Investigation Investigation        `json:"investigation"`
	Times         *InvestigationTimes  `json:"times,omitempty"`
	Counts        *InvestigationCounts `json:"counts,omitempty"`
}

type StartInvestigationRequest struct {
	CaseID          uint64 `json:"case_id"`
	DurationSeconds uint64 `json:"duration_seconds"`
}

type Revealed struct {
	Type       uint8  `json:"type"`
	Level      uint64 `json:"level"`
	EvidenceID uint64 `json:"evidence_id"`
}

type Evidence struct {
	InvestigationID     uint64    `json:"investigation_id"`
	ID                  uint64    `json:"id"`
	TypeHandle          string    `json:"type_handle"`
	LevelHandle         string    `json:"level_handle"`
	IDHandle            string    `json:"id_handle"`
	Submitter           string    `json:"submitter"`
	SubmittedAt         time.Time `json:"submitted_at"`
	ExpiresAt           time.Time `json:"expires_at"`
	IsVerified          bool      `json:"is_verified"`
	Stake               uint64    `json:"stake"`
	DecryptionStatus    string    `json:"decryption_status"`
	DecryptionRequestID uint64    `json:"decryption_request_id"`
	Refunded            bool      `json:"refunded"`
	Revealed            *Revealed `json:"revealed,omitempty"`
}

type EvidenceResponse struct {
	RequestID string   `json:"request_id"`
	Evidence  Evidence `json:"evidence"`
}

type SubmitEvidenceRequest struct {
	Type                 uint8  `json:"type"`
	ConfidentialityLevel uint64 `json:"confidentiality_level"`
	Stake                uint64 `json:"stake"`
}

type DecryptionResponse struct {
	RequestID           string `json:"request_id"`
	DecryptionRequestID uint64 `json:"decryption_request_id"`
	Status              string `json:"status"`
}

type Decryption struct {
	ID              uint64    `json:"id"`
	InvestigationID uint64    `json:"investigation_id"`
	EvidenceID      uint64    `json:"evidence_id"`
	Requester       string    `json:"requester"`
	RequestedAt     time.Time `json:"requested_at"`
	Completed       bool      `json:"completed"`
	Failed          bool      `json:"failed"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

type RefundResponse struct {
	RequestID string `json:"request_id"`
	Refunded  uint64 `json:"refunded"`
}

type ParticipantResponse struct {
	RequestID        string `json:"request_id"`
	InvestigationID  uint64 `json:"investigation_id"`
	ParticipantCount int    `json:"participant_count"`
}

type SubmitWitnessRequest struct {
	CredibilityScore uint64 `json:"credibility_score"`
	TestimonyDigest  uint64 `json:"testimony_digest"`
	Stake            uint64 `json:"stake"`
}

type Witness struct {
	InvestigationID uint64    `json:"investigation_id"`
	ID              uint64    `json:"id"`
	ScoreHandle     string    `json:"score_handle"`
	TestimonyHandle string    `json:"testimony_handle"`
	Protected       bool      `json:"protected"`
	SubmittedAt     time.Time `json:"submitted_at"`
	Stake           uint64    `json:"stake"`
	Refunded        bool      `json:"refunded"`
}

type WitnessResponse struct {
	RequestID string  `json:"request_id"`
	Witness   Witness `json:"witness"`
}

// Input is a sealed verdict weight and the proof binding it to the caller.
type Input struct {
	RequestID string `json:"request_id"`
	Handle    string `json:"handle"`
	Proof     string `json:"proof"`
}

type SubmitVerdictRequest struct {
	Verdict      uint8  `json:"verdict"`
	Confidence   uint64 `json:"confidence"`
	WeightHandle string `json:"weight_handle"`
	WeightProof  string `json:"weight_proof"`
}

type Verdict struct {
	InvestigationID  uint64    `json:"investigation_id"`
	Judge            string    `json:"judge"`
	VerdictHandle    string    `json:"verdict_handle"`
	ConfidenceHandle string    `json:"confidence_handle"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

type VerdictResponse struct {
	RequestID string  `json:"request_id"`
	Verdict   Verdict `json:"verdict"`
}

func (c *Client) StartInvestigation(ctx context.Context, in StartInvestigationRequest, idempotencyKey string) (*InvestigationResponse, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/custody/v1/investigations", in)
	if err != nil {
		return nil, err
	}
	setIdempotencyKey(req, idempotencyKey)
	return doJSON[InvestigationResponse](c, req)
}

func (c *Client) Investigation(ctx context.Context, invID uint64) (*InvestigationResponse, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, fmt.Sprintf("/custody/v1/investigations/%d", invID), nil)
	if err != nil {
		return nil, err
	}
	return doJSON[InvestigationResponse](c, req)
}

func (c *Client) SubmitEvidence(ctx context.Context, invID uint64, in SubmitEvidenceRequest, idempotencyKey string) (*EvidenceResponse, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, fmt.Sprintf("/custody/v1/investigations/%d/evidence", invID), in)
	if err != nil {
		return nil, err
	}
	setIdempotencyKey(req, idempotencyKey)
	return doJSON[EvidenceResponse](c, req)
}

func (c *Client) Evidence(ctx context.Context, invID, evID uint64) (*EvidenceResponse, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, fmt.Sprintf("/custody/v1/investigations/%d/evidence/%d", invID, evID), nil)
	if err != nil {
		return nil, err
	}
	return doJSON[EvidenceResponse](c, req)
}

func (c *Client) RequestDecryption(ctx context.Context, invID, evID uint64, idempotencyKey string) (*DecryptionResponse, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, fmt.Sprintf("/custody/v1/investigations/%d/evidence/%d/decryption", invID, evID), nil)
	if err != nil {
		return nil, err
	}
	setIdempotencyKey(req, idempotencyKey)
	return doJSON[DecryptionResponse](c, req)
}

func (c *Client) Decryption(ctx context.Context, requestID uint64) (*Decryption, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, fmt.Sprintf("/custody/v1/decryptions/%d", requestID), nil)
	if err != nil {
		return nil, err
	}
	out, err := doJSON[struct {
		Decryption Decryption `json:"decryption"`
	}](c, req)
	if err != nil {
		return nil, err
	}
	return &out.Decryption, nil
}

func (c *Client) EvidenceRefund(ctx context.Context, invID, evID uint64, idempotencyKey string) (*RefundResponse, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, fmt.Sprintf("/custody/v1/investigations/%d/evidence/%d/refund", invID, evID), nil)
	if err != nil {
		return nil, err
	}
	setIdempotencyKey(req, idempotencyKey)
	return doJSON[RefundResponse](c, req)
}

func (c *Client) AuthorizeParticipant(ctx context.Context, invID uint64, participant, idempotencyKey string) (*ParticipantResponse, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, fmt.Sprintf("/custody/v1/investigations/%d/participants", invID), map[string]string{"participant": participant})
	if err != nil {
		return nil, err
	}
	setIdempotencyKey(req, idempotencyKey)
	return doJSON[ParticipantResponse](c, req)
}

func (c *Client) CompleteInvestigation(ctx context.Context, invID uint64, idempotencyKey string) (*InvestigationResponse, error) {
	return c.transition(ctx, invID, "complete", idempotencyKey)
}

// HandleTimeout expires an active investigation whose deadline has passed.
func (c *Client) HandleTimeout(ctx context.Context, invID uint64, idempotencyKey string) (*InvestigationResponse, error) {
	return c.transition(ctx, invID, "timeout", idempotencyKey)
}

func (c *Client) ArchiveInvestigation(ctx context.Context, invID uint64, idempotencyKey string) (*InvestigationResponse, error) {
	return c.transition(ctx, invID, "archive", idempotencyKey)
}

func (c *Client) transition(ctx context.Context, invID uint64, action, idempotencyKey string) (*InvestigationResponse, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, fmt.Sprintf("/custody/v1/investigations/%d/%s", invID, action), nil)
	if err != nil {
		return nil, err
	}
	setIdempotencyKey(req, idempotencyKey)
	return doJSON[InvestigationResponse](c, req)
}

func (c *Client) VerifyEvidence(ctx context.Context, invID, evID uint64, idempotencyKey string) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, fmt.Sprintf("/custody/v1/investigations/%d/evidence/%d/verify", invID, evID), nil)
	if err != nil {
		return err
	}
	setIdempotencyKey(req, idempotencyKey)
	_, err = doJSON[struct{}](c, req)
	return err
}

func (c *Client) SubmitWitness(ctx context.Context, invID uint64, in SubmitWitnessRequest, idempotencyKey string) (*WitnessResponse, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, fmt.Sprintf("/custody/v1/investigations/%d/witnesses", invID), in)
	if err != nil {
		return nil, err
	}
	setIdempotencyKey(req, idempotencyKey)
	return doJSON[WitnessResponse](c, req)
}

func (c *Client) Witness(ctx context.Context, invID, witID uint64) (*WitnessResponse, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, fmt.Sprintf("/custody/v1/investigations/%d/witnesses/%d", invID, witID), nil)
	if err != nil {
		return nil, err
	}
	return doJSON[WitnessResponse](c, req)
}

func (c *Client) WitnessRefund(ctx context.Context, invID, witID uint64, idempotencyKey string) (*RefundResponse, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, fmt.Sprintf("/custody/v1/investigations/%d/witnesses/%d/refund", invID, witID), nil)
	if err != nil {
		return nil, err
	}
	setIdempotencyKey(req, idempotencyKey)
	return doJSON[RefundResponse](c, req)
}

// EncryptInput seals a verdict weight for the calling judge.
func (c *Client) EncryptInput(ctx context.Context, value uint64) (*Input, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/custody/v1/inputs", map[string]uint64{"value": value})
	if err != nil {
		return nil, err
	}
	return doJSON[Input](c, req)
}

func (c *Client) SubmitVerdict(ctx context.Context, invID uint64, in SubmitVerdictRequest, idempotencyKey string) (*VerdictResponse, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, fmt.Sprintf("/custody/v1/investigations/%d/verdicts", invID), in)
	if err != nil {
		return nil, err
	}
	setIdempotencyKey(req, idempotencyKey)
	return doJSON[VerdictResponse](c, req)
}

func (c *Client) HasVoted(ctx context.Context, invID uint64, judge string) (bool, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, fmt.Sprintf("/custody/v1/investigations/%d/verdicts/%s", invID, url.PathEscape(judge)), nil)
	if err != nil {
		return false, err
	}
	out, err := doJSON[struct {
		HasVoted bool `json:"has_voted"`
	}](c, req)
	if err != nil {
		return false, err
	}
	return out.HasVoted, nil
}

// PendingDecryptions lists request ids still waiting on the oracle.
func (c *Client) PendingDecryptions(ctx context.Context) ([]uint64, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, "/custody/v1/decryptions", nil)
	if err != nil {
		return nil, err
	}
	out, err := doJSON[struct {
		Pending []uint64 `json:"pending"`
	}](c, req)
	if err != nil {
		return nil, err
	}
	return out.Pending, nil
}

// EventsURL is the websocket address of the live event stream.
func (c *Client) EventsURL() (string, error) {
	u, err := url.Parse(c.BaseURL + "/custody/v1/events/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

// AuthHeader returns the headers a websocket dial needs.
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	if c.Bearer != "" {
		h.Set("Authorization", "Bearer "+c.Bearer)
	}
	return h
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	} else if method != http.MethodGet {
		body = bytes.NewReader([]byte("{}"))
	}
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	}
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func setIdempotencyKey(req *http.Request, key string) {
	if key = strings.TrimSpace(key); key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
}

func doJSON[T any](c *Client, req *http.Request) (*T, error) {
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var errBody struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return nil, &APIError{Status: resp.StatusCode, Code: errBody.Error.Code, Message: errBody.Error.Message}
	}
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
