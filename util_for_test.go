package vuser_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	vuser "github.com/surrealdb/vuser.go"
	"github.com/surrealdb/vuser.go/internal/mock"
	"github.com/surrealdb/vuser.go/internal/testenv"
	"github.com/surrealdb/vuser.go/pkg/logger"
)

// T0 is the fake clock's starting time in milliseconds.
const T0 = 1700000000000

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.UnixMilli(T0)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return uint64(c.t.UnixMilli())
}

type fixture struct {
	user    *vuser.User
	backend *mock.Backend
	clock   *clock
	logs    *testenv.LogHandler
}

func newFixture(t *testing.T, opts ...func(*vuser.Config)) *fixture {
	t.Helper()

	f := &fixture{
		backend: mock.Create(),
		clock:   newClock(),
		logs:    testenv.NewLogHandler(),
	}

	cfg := &vuser.Config{
		Backend: f.backend,
		Logger:  logger.New(f.logs),
		Now:     f.clock.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	u, err := vuser.New(context.Background(), cfg)
	require.NoError(t, err)
	f.user = u
	return f
}

func (f *fixture) data(t *testing.T) *vuser.UserData {
	t.Helper()
	e, err := f.user.Data(context.Background())
	require.NoError(t, err)
	d, ok := e.(*vuser.UserData)
	require.True(t, ok, "engine is %T", e)
	return d
}
