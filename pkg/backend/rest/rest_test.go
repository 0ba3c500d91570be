package rest_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vuser "github.com/surrealdb/vuser.go"
	"github.com/surrealdb/vuser.go/internal/mock"
	"github.com/surrealdb/vuser.go/pkg/backend/rest"
	"github.com/surrealdb/vuser.go/pkg/constants"
	"github.com/surrealdb/vuser.go/pkg/envelope"
	"github.com/surrealdb/vuser.go/pkg/logger"
)

type users struct {
	mu       sync.Mutex
	backends map[string]*mock.Backend
}

func (u *users) backendFor(user string) (vuser.Backend, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if user == "broken" {
		return nil, errors.New("no storage for user")
	}
	b, ok := u.backends[user]
	if !ok {
		b = mock.CreateSignedOut(user + "-pass")
		u.backends[user] = b
	}
	return b, nil
}

func (u *users) verify(_ context.Context, user, pass string) error {
	if pass != user+"-pass" {
		return vuser.ErrAuthentication
	}
	return nil
}

func (u *users) get(user string) *mock.Backend {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.backends[user]
}

func newServer(t *testing.T) (*httptest.Server, *users) {
	t.Helper()
	u := &users{backends: map[string]*mock.Backend{}}
	srv := httptest.NewServer(rest.NewHandler(u.backendFor, u.verify, logger.Nop()))
	t.Cleanup(srv.Close)
	return srv, u
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv, u := newServer(t)
	c := rest.NewClient(srv.URL)

	assert.ErrorIs(t, c.Authenticate(ctx), constants.ErrNotSignedIn)
	_, err := c.Load(ctx, "k")
	assert.ErrorIs(t, err, constants.ErrNotSignedIn)

	err = c.Authenticate(ctx, "alice", "wrong")
	var statusErr *rest.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, "authentication failed", statusErr.Message)

	require.NoError(t, c.Authenticate(ctx, "alice", "alice-pass"))
	require.NoError(t, c.Authenticate(ctx))

	_, err = c.Load(ctx, "settings/ui")
	assert.ErrorIs(t, err, vuser.ErrNotFound)

	payload := envelope.Payload(`{"value":"dark","timestamp":7}`)
	require.NoError(t, c.Store(ctx, "settings/ui", payload))

	got, err := c.Load(ctx, "settings/ui")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	env, ok := u.get("alice").Envelope("settings/ui")
	require.True(t, ok)
	assert.Equal(t, envelope.Envelope{Value: "dark", Timestamp: 7}, env)
}

func requester(t *testing.T, srv *httptest.Server) func(method, path, user, pass, body string) *http.Response {
	return func(method, path, user, pass, body string) *http.Response {
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		if user != "" {
			req.SetBasicAuth(user, pass)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}
}

func TestHandlerRejects(t *testing.T) {
	srv, _ := newServer(t)
	do := requester(t, srv)

	resp := do(http.MethodGet, "/users/alice/data/k", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	resp = do(http.MethodGet, "/users/alice/data/k", "bob", "bob-pass", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(http.MethodGet, "/users/broken/data/k", "broken", "broken-pass", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp = do(http.MethodDelete, "/users/alice/data/k", "alice", "alice-pass", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = do(http.MethodPut, "/users/alice/data/k", "alice", "alice-pass", strings.Repeat("x", rest.MaxPayloadSize+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestHandlerBackendFailure(t *testing.T) {
	ctx := context.Background()
	srv, u := newServer(t)
	c := rest.NewClient(srv.URL)
	require.NoError(t, c.Authenticate(ctx, "alice", "alice-pass"))

	u.get("alice").Fail("k", mock.ErrOffline)
	_, err := c.Load(ctx, "k")
	var statusErr *rest.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Contains(t, statusErr.Message, "backend offline")
}

func TestThroughUser(t *testing.T) {
	ctx := context.Background()
	srv, _ := newServer(t)

	u, err := vuser.New(ctx, vuser.NewConfig(rest.NewClient(srv.URL)))
	require.NoError(t, err)
	require.NoError(t, u.Authenticate(ctx, "alice", "alice-pass"))

	require.NoError(t, u.Set(ctx, "settings", map[string]any{"lang": "en"}, vuser.SyncImmediately()))

	other, err := vuser.New(ctx, vuser.NewConfig(rest.NewClient(srv.URL)))
	require.NoError(t, err)
	require.NoError(t, other.Authenticate(ctx, "alice", "alice-pass"))

	v, err := other.Get(ctx, "settings")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"lang": "en"}, v)
}

func TestHandlerChecksPasswordOnEveryRequest(t *testing.T) {
	ctx := context.Background()
	srv, u := newServer(t)
	do := requester(t, srv)

	c := rest.NewClient(srv.URL)
	require.NoError(t, c.Authenticate(ctx, "alice", "alice-pass"))
	require.NoError(t, c.Store(ctx, "secret", envelope.Payload(`{"value":"s3cr3t","timestamp":1}`)))

	resp := do(http.MethodGet, "/users/alice/data/secret", "alice", "WRONG", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(http.MethodPut, "/users/alice/data/secret", "alice", "WRONG", `{"value":"owned","timestamp":2}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(http.MethodPost, "/users/alice/auth", "alice", "WRONG", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	err := rest.NewClient(srv.URL).Authenticate(ctx, "alice", "WRONG")
	var statusErr *rest.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)

	env, ok := u.get("alice").Envelope("secret")
	require.True(t, ok)
	assert.Equal(t, "s3cr3t", env.Value)

	resp = do(http.MethodGet, "/users/alice/data/secret", "alice", "alice-pass", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlerWithoutVerifier(t *testing.T) {
	u := &users{backends: map[string]*mock.Backend{}}
	srv := httptest.NewServer(rest.NewHandler(u.backendFor, nil, logger.Nop()))
	t.Cleanup(srv.Close)

	resp := requester(t, srv)(http.MethodPost, "/users/alice/auth", "alice", "alice-pass", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Nil(t, u.get("alice"))
}
