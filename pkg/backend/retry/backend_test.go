package retry_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vuser "github.com/surrealdb/vuser.go"
	"github.com/surrealdb/vuser.go/internal/mock"
	"github.com/surrealdb/vuser.go/pkg/backend/rest"
	"github.com/surrealdb/vuser.go/pkg/backend/retry"
	"github.com/surrealdb/vuser.go/pkg/constants"
	"github.com/surrealdb/vuser.go/pkg/envelope"
	"github.com/surrealdb/vuser.go/pkg/logger"
)

// flaky fails the first n calls of every key with mock.ErrOffline.
func flaky(b *mock.Backend, n int32) *atomic.Int32 {
	var calls atomic.Int32
	fail := func() error {
		if calls.Add(1) <= n {
			return mock.ErrOffline
		}
		return nil
	}
	b.BeforeLoad = func(context.Context, string) error { return fail() }
	b.BeforeStore = func(context.Context, string, envelope.Payload) error { return fail() }
	return &calls
}

func TestLoadRetriesTransientFailures(t *testing.T) {
	b := mock.Create()
	b.Put("theme", "dark", 10)
	calls := flaky(b, 2)

	r := retry.New(b, retry.Fixed(time.Millisecond, 3))
	p, err := r.Load(context.Background(), "theme")
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())

	env, err := envelope.JSON().Decode(p)
	require.NoError(t, err)
	assert.Equal(t, "dark", env.Value)
}

func TestStoreGivesUp(t *testing.T) {
	b := mock.Create()
	calls := flaky(b, 10)

	r := retry.New(b, retry.Fixed(time.Millisecond, 2))
	err := r.Store(context.Background(), "theme", envelope.Payload(`{"value":"dark","timestamp":1}`))
	require.ErrorIs(t, err, mock.ErrOffline)
	assert.EqualValues(t, 3, calls.Load())
	assert.Zero(t, b.Stores("theme"))
}

func TestNotRetried(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
	}{
		{"not found", vuser.ErrNotFound},
		{"authentication", fmt.Errorf("%w: bad password", vuser.ErrAuthentication)},
		{"canceled", context.Canceled},
		{"connection closed", fmt.Errorf("%w: %w", constants.ErrConnectionClosed, io.ErrClosedPipe)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := mock.Create()
			var calls atomic.Int32
			b.BeforeLoad = func(context.Context, string) error {
				calls.Add(1)
				return tc.err
			}

			r := retry.New(b, retry.Fixed(time.Millisecond, 5))
			_, err := r.Load(context.Background(), "k")
			require.ErrorIs(t, err, tc.err)
			assert.EqualValues(t, 1, calls.Load())
		})
	}
}

func TestCustomRetryable(t *testing.T) {
	b := mock.Create()
	calls := flaky(b, 5)

	r := retry.New(b, retry.Fixed(time.Millisecond, 5))
	r.Retryable = func(err error) bool { return !errors.Is(err, mock.ErrOffline) }

	_, err := r.Load(context.Background(), "k")
	require.ErrorIs(t, err, mock.ErrOffline)
	assert.EqualValues(t, 1, calls.Load())
}

func TestContextCancelsWait(t *testing.T) {
	b := mock.Create()
	flaky(b, 100)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := retry.New(b, retry.Fixed(time.Hour, 0))
	start := time.Now()
	_, err := r.Load(ctx, "k")
	require.ErrorIs(t, err, mock.ErrOffline)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestRetriesAreLogged(t *testing.T) {
	b := mock.Create()
	flaky(b, 1)

	buff := bytes.NewBuffer([]byte{})
	data, err := logger.NewBuild().FromBuffer(buff).Make()
	require.NoError(t, err)

	r := retry.New(b, retry.Fixed(time.Millisecond, 1))
	r.Logger = logger.Zerolog(data.Logger)

	_, err = r.Load(context.Background(), "theme")
	require.ErrorIs(t, err, vuser.ErrNotFound)
	assert.Contains(t, buff.String(), "retrying backend call")
	assert.Contains(t, buff.String(), `"key":"theme"`)
	assert.Contains(t, buff.String(), `"err":"backend offline"`)
}

func TestThroughUser(t *testing.T) {
	ctx := context.Background()
	b := mock.Create()
	b.Put("lang", "fr", 5)
	flaky(b, 1)

	u, err := vuser.New(ctx, vuser.NewConfig(retry.New(b, retry.Fixed(time.Millisecond, 3))))
	require.NoError(t, err)

	v, err := u.Get(ctx, "lang")
	require.NoError(t, err)
	assert.Equal(t, "fr", v)

	require.NoError(t, u.Set(ctx, "lang", "de", vuser.SyncImmediately()))
	env, ok := b.Envelope("lang")
	require.True(t, ok)
	assert.Equal(t, "de", env.Value)
	require.NoError(t, u.Close())
}

func TestHonorsRetryAfter(t *testing.T) {
	ctx := context.Background()
	b := mock.CreateSignedOut("alice-pass")
	handler := rest.NewHandler(
		func(string) (vuser.Backend, error) { return b, nil },
		func(_ context.Context, user, pass string) error {
			if pass != user+"-pass" {
				return vuser.ErrAuthentication
			}
			return nil
		},
		logger.Nop(),
	)

	var busy atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && busy.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, `{"error":"busy"}`, http.StatusServiceUnavailable)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	c := rest.NewClient(srv.URL)
	require.NoError(t, c.Authenticate(ctx, "alice", "alice-pass"))

	r := retry.New(c, retry.Fixed(time.Hour, 3))
	start := time.Now()
	require.NoError(t, r.Store(ctx, "theme", envelope.Payload(`{"value":"dark","timestamp":1}`)))
	assert.Less(t, time.Since(start), time.Minute)
	assert.EqualValues(t, 2, busy.Load())

	env, ok := b.Envelope("theme")
	require.True(t, ok)
	assert.Equal(t, "dark", env.Value)
}
