// Package cloud implements the live JSON-over-HTTP transport used by
// sessions that talk to a real provider endpoint.
//
// Every call is a POST to the endpoint with the operation in the
// X-Target header and the params as the JSON body. Responses with a status
// of 400 or above are decoded into a *session.APIError.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sourceops/cloud-custodian/internal/session"
)

// TargetHeader carries the "service.Method" operation identity.
const TargetHeader = "X-Target"

// RegionHeader carries the session region.
const RegionHeader = "X-Region"

// DefaultTimeout bounds a single live call when no client is supplied.
const DefaultTimeout = 30 * time.Second

// Transport dispatches session requests to a live endpoint.
type Transport struct {
	endpoint string
	region   string
	client   *http.Client
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		t.client = c
	}
}

// WithRegion sets the value sent in the region header.
func WithRegion(region string) Option {
	return func(t *Transport) {
		t.region = region
	}
}

// NewTransport creates a transport for endpoint.
func NewTransport(endpoint string, opts ...Option) *Transport {
	t := &Transport{
		endpoint: endpoint,
		region:   session.DefaultRegion,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// errorBody matches both {"code": ...} and the provider's {"__type": ...} forms.
type errorBody struct {
	Code    string `json:"code"`
	Type    string `json:"__type"`
	Message string `json:"message"`
}

// Handle implements session.Handler.
func (t *Transport) Handle(ctx context.Context, req *session.Request) (*session.Response, error) {
	body := req.Params
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.Operation(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(TargetHeader, req.Operation())
	httpReq.Header.Set(RegionHeader, t.region)

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Operation(), err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Operation(), err)
	}

	if httpResp.StatusCode >= http.StatusBadRequest {
		return nil, decodeAPIError(httpResp.StatusCode, raw)
	}

	resp := &session.Response{StatusCode: httpResp.StatusCode}
	if len(bytes.TrimSpace(raw)) == 0 {
		return resp, nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return nil, fmt.Errorf("%s returned invalid JSON: %w", req.Operation(), err)
	}
	resp.Body = compact.Bytes()
	return resp, nil
}

func decodeAPIError(status int, raw []byte) *session.APIError {
	apiErr := &session.APIError{StatusCode: status}
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err != nil {
		apiErr.Code = http.StatusText(status)
		apiErr.Message = string(raw)
		return apiErr
	}
	apiErr.Code = eb.Code
	if apiErr.Code == "" {
		apiErr.Code = eb.Type
	}
	if apiErr.Code == "" {
		apiErr.Code = http.StatusText(status)
	}
	apiErr.Message = eb.Message
	return apiErr
}
