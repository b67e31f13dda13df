package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/accordsai/courtlane/pkg/fhe"
)

// HTTPClient drives a remote oracle. Results come back through the custody
// callback endpoint.
type HTTPClient struct {
	BaseURL     string
	HTTPClient  *http.Client
	Bearer      string
	CallbackURL string
}

func NewHTTPClient(baseURL, bearer, callbackURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		HTTPClient:  &http.Client{Timeout: 15 * time.Second},
		Bearer:      bearer,
		CallbackURL: callbackURL,
	}
}

type requestBody struct {
	Handles     []fhe.Handle `json:"handles"`
	CallbackURL string       `json:"callback_url,omitempty"`
}

type requestResponse struct {
	RequestID uint64 `json:"request_id"`
}

func (c *HTTPClient) Request(ctx context.Context, handles []fhe.Handle) (uint64, error) {
	body, err := json.Marshal(requestBody{Handles: handles, CallbackURL: c.CallbackURL})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/oracle/v1/requests", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out requestResponse
	if err := c.do(req, &out); err != nil {
		return 0, err
	}
	if out.RequestID == 0 {
		return 0, fmt.Errorf("oracle: response missing request_id")
	}
	return out.RequestID, nil
}

func (c *HTTPClient) Dispatch(ctx context.Context, requestID uint64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/oracle/v1/requests/%d/dispatch", c.BaseURL, requestID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *HTTPClient) Discard(ctx context.Context, requestID uint64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/oracle/v1/requests/%d", c.BaseURL, requestID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("oracle http %d: %v", resp.StatusCode, errBody)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
