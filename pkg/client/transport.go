package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"

	"threadsync/pkg/auth"
	"threadsync/pkg/models"
)

// Transport is the client's view of the sync server. The orchestrator only
// talks to this interface; tests substitute a fake.
type Transport interface {
	// Sync uploads one batch and returns the server's resolution.
	Sync(ctx context.Context, req models.SyncRequest) (*models.SyncResponse, error)
	// Purge deletes every server-side record of the calling user.
	Purge(ctx context.Context) error
}

// TransportError is a structured HTTP-level failure. The orchestrator
// branches on Status rather than parsing error strings.
type TransportError struct {
	Status  int
	Message string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

const defaultRequestTimeout = 30 * time.Second

// HTTPTransport talks to the sync server over HTTP. Identity is carried
// per request: the API key plus the HMAC-signed user id.
type HTTPTransport struct {
	BaseURL    string
	APIKey     string
	SigningKey string
	UserID     string

	c *fasthttp.Client
}

// NewHTTPTransport builds a transport for one user against one server.
func NewHTTPTransport(baseURL, apiKey, signingKey, userID string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		SigningKey: signingKey,
		UserID:     userID,
		c:          &fasthttp.Client{},
	}
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(t.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	req.Header.Set("X-API-Key", t.APIKey)
	req.Header.Set("X-User-ID", t.UserID)
	req.Header.Set("X-User-Signature", auth.SignUserID(t.UserID, t.SigningKey))
	if body != nil {
		req.SetBody(body)
	}

	deadline := time.Now().Add(defaultRequestTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := t.c.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}

	status := resp.StatusCode()
	out := append([]byte(nil), resp.Body()...)
	if status != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(out, &e)
		if e.Error == "" {
			e.Error = http.StatusText(status)
		}
		return nil, &TransportError{Status: status, Message: e.Error}
	}
	return out, nil
}

// Sync implements Transport.
func (t *HTTPTransport) Sync(ctx context.Context, req models.SyncRequest) (*models.SyncResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	out, err := t.do(ctx, http.MethodPost, "/v1/sync", body)
	if err != nil {
		return nil, err
	}
	var resp models.SyncResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("invalid sync response: %w", err)
	}
	return &resp, nil
}

// Purge implements Transport.
func (t *HTTPTransport) Purge(ctx context.Context) error {
	_, err := t.do(ctx, http.MethodDelete, "/v1/sync", nil)
	return err
}
