// Package rest connects vuser to an HTTP service. [Client] is the backend
// side; [Handler] is a server that exposes any vuser.Backend with the same
// protocol.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	vuser "github.com/surrealdb/vuser.go"
	"github.com/surrealdb/vuser.go/pkg/constants"
	"github.com/surrealdb/vuser.go/pkg/envelope"
)

// StatusError is a response the client did not expect.
type StatusError struct {
	StatusCode int
	Message    string

	// Wait is the Retry-After hint of a 429 or 503 response. HasWait tells
	// whether one was sent at all.
	Wait    time.Duration
	HasWait bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rest: status %d: %s", e.StatusCode, e.Message)
}

// RetryAfter reports the server's Retry-After hint.
func (e *StatusError) RetryAfter() (time.Duration, bool) {
	return e.Wait, e.HasWait
}

func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return 0, false
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(time.Until(at), 0), true
	}
	return 0, false
}

// Client is a vuser.Backend talking to a Handler. It is safe for concurrent
// use.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu   sync.Mutex
	user string
	pass string
}

// NewClient creates a client for the service at baseURL, such as
// "http://localhost:8080". The HTTP client has a 30 second timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

func (c *Client) credentials() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user, c.pass
}

// Authenticate checks (user, password) with the server and keeps them for
// later requests. Without credentials it succeeds once a user was accepted.
func (c *Client) Authenticate(ctx context.Context, credentials ...any) error {
	if len(credentials) == 0 {
		if user, _ := c.credentials(); user == "" {
			return constants.ErrNotSignedIn
		}
		return nil
	}
	if len(credentials) < 2 {
		return fmt.Errorf("rest: want user and password, got %d credentials", len(credentials))
	}
	user, ok1 := credentials[0].(string)
	pass, ok2 := credentials[1].(string)
	if !ok1 || !ok2 || user == "" {
		return fmt.Errorf("rest: user and password must be strings")
	}

	resp, err := c.doRequest(ctx, http.MethodPost, user, pass, "/auth", nil)
	if err != nil {
		return err
	}
	if err := checkStatus(resp, http.StatusNoContent); err != nil {
		return err
	}

	c.mu.Lock()
	c.user, c.pass = user, pass
	c.mu.Unlock()
	return nil
}

// Load fetches the payload of key, or vuser.ErrNotFound.
func (c *Client) Load(ctx context.Context, key string) (envelope.Payload, error) {
	user, pass := c.credentials()
	if user == "" {
		return nil, constants.ErrNotSignedIn
	}

	resp, err := c.doRequest(ctx, http.MethodGet, user, pass, "/data/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, vuser.ErrNotFound
	}
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Store replaces the payload of key.
func (c *Client) Store(ctx context.Context, key string, payload envelope.Payload) error {
	user, pass := c.credentials()
	if user == "" {
		return constants.ErrNotSignedIn
	}

	resp, err := c.doRequest(ctx, http.MethodPut, user, pass, "/data/"+url.PathEscape(key), payload)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// doRequest performs a request below /users/{user} with basic auth.
func (c *Client) doRequest(ctx context.Context, method, user, pass, path string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/users/"+url.PathEscape(user)+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(user, pass)
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	return c.httpClient.Do(req)
}

// checkStatus closes the body unless the status is want.
func checkStatus(resp *http.Response, want int) error {
	if resp.StatusCode == want {
		if want == http.StatusNoContent {
			resp.Body.Close()
		}
		return nil
	}
	defer resp.Body.Close()

	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = string(data)
	}
	statusErr := &StatusError{StatusCode: resp.StatusCode, Message: body.Error}
	statusErr.Wait, statusErr.HasWait = retryAfter(resp)
	return statusErr
}

var _ vuser.Backend = (*Client)(nil)
