package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gweid/qwencli2api/internal/domain"
	"github.com/tidwall/gjson"
)

const defaultBaseURL = "http://localhost:3008"

// maxResponseBytes caps response body reads so a misbehaving server cannot
// consume unbounded memory.
const maxResponseBytes = 1 << 20

// APIError is a well-formed error answer from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
}

// UserMessage returns the text the server meant for the operator.
func (e *APIError) UserMessage() string {
	return e.Message
}

// Unwrap lets errors.Is(err, domain.ErrUnauthorized) match 401 answers.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return domain.ErrUnauthorized
	}
	return nil
}

// Client talks to the token admin backend.
// Every call carries the operator password as a bearer credential.
type Client struct {
	baseURL  string
	password string
	client   *http.Client
}

// Ensure Client implements DeviceAuthBackend.
var _ domain.DeviceAuthBackend = (*Client)(nil)

// NewClient creates a backend client.
// Pass an empty baseURL to use the local default. Pass a test server URL in tests.
func NewClient(baseURL string, password string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		password: password,
		client:   &http.Client{Timeout: timeout},
	}
}

// Initialize asks the backend to start a device authorization.
// A non-2xx status or success=false yields an *APIError carrying the server message,
// or a generic one when the server gave none.
func (c *Client) Initialize(ctx context.Context) (domain.DeviceAuthSession, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/api/oauth-init", nil)
	if err != nil {
		return domain.DeviceAuthSession{}, err
	}
	if status >= 300 || !gjson.GetBytes(body, "success").Bool() {
		return domain.DeviceAuthSession{}, &APIError{Status: status, Message: errorMessage(body, "OAuth initialization failed")}
	}
	stateID := gjson.GetBytes(body, "stateId").String()
	if stateID == "" {
		return domain.DeviceAuthSession{}, &APIError{Status: status, Message: "OAuth initialization returned no stateId"}
	}
	expiresAt := gjson.GetBytes(body, "expiresAt").Int()
	if expiresAt <= 0 {
		return domain.DeviceAuthSession{}, &APIError{Status: status, Message: "OAuth initialization returned no expiresAt"}
	}
	return domain.DeviceAuthSession{
		StateID:         stateID,
		VerificationURI: gjson.GetBytes(body, "verificationUriComplete").String(),
		ExpiresAt:       time.UnixMilli(expiresAt),
	}, nil
}

// Poll asks whether the user has completed authorization for stateID.
// Transport failures and non-JSON bodies are returned wrapped in domain.ErrTransport;
// a well-formed error answer becomes a PollFailed result, not an error.
func (c *Client) Poll(ctx context.Context, stateID string) (domain.PollResult, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/api/oauth-poll", stateBody(stateID))
	if err != nil {
		return domain.PollResult{}, err
	}
	if status < 300 {
		if gjson.GetBytes(body, "success").Bool() {
			return domain.PollResult{Status: domain.PollAuthorized}, nil
		}
		if gjson.GetBytes(body, "status").String() == string(domain.PollPending) {
			return domain.PollResult{
				Status:  domain.PollPending,
				Warning: gjson.GetBytes(body, "warning").String(),
			}, nil
		}
		return domain.PollResult{Status: domain.PollFailed, Message: errorMessage(body, "OAuth authorization failed")}, nil
	}
	return domain.PollResult{Status: domain.PollFailed, Message: errorMessage(body, "polling failed")}, nil
}

// Cancel tells the backend to forget stateID. Callers treat it as fire-and-forget.
func (c *Client) Cancel(ctx context.Context, stateID string) error {
	status, body, err := c.do(ctx, http.MethodPost, "/api/oauth-cancel", stateBody(stateID))
	if err != nil {
		return err
	}
	if status >= 300 {
		return &APIError{Status: status, Message: errorMessage(body, "cancel failed")}
	}
	return nil
}

// TokenStatus returns how many tokens the backend holds.
func (c *Client) TokenStatus(ctx context.Context) (domain.TokenStatus, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/api/token-status", nil)
	if err != nil {
		return domain.TokenStatus{}, err
	}
	if status >= 300 {
		return domain.TokenStatus{}, &APIError{Status: status, Message: errorMessage(body, "token status failed")}
	}
	return domain.TokenStatus{
		HasToken: gjson.GetBytes(body, "hasToken").Bool(),
		Count:    int(gjson.GetBytes(body, "tokenCount").Int()),
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return 0, nil, fmt.Errorf("building URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s %s: %v", domain.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: reading %s response: %v", domain.ErrTransport, path, err)
	}
	if !gjson.ValidBytes(data) {
		return 0, nil, fmt.Errorf("%w: %s answered %s with a non-JSON body", domain.ErrTransport, path, resp.Status)
	}
	return resp.StatusCode, data, nil
}

// errorMessage picks the server-provided message. The backend uses "error" for
// its own answers and FastAPI uses "detail" for rejected requests.
func errorMessage(body []byte, fallback string) string {
	for _, key := range []string{"error", "detail", "message"} {
		if v := gjson.GetBytes(body, key); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return fallback
}

func stateBody(stateID string) io.Reader {
	payload, _ := json.Marshal(struct {
		StateID string `json:"stateId"`
	}{StateID: stateID})
	return bytes.NewReader(payload)
}
