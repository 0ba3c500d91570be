package surreal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	vuser "github.com/surrealdb/vuser.go"
	"github.com/surrealdb/vuser.go/internal/fakesurreal"
	"github.com/surrealdb/vuser.go/pkg/backend/surreal"
	"github.com/surrealdb/vuser.go/pkg/constants"
	"github.com/surrealdb/vuser.go/pkg/envelope"
	"github.com/surrealdb/vuser.go/pkg/logger"
)

type SurrealBackendTestSuite struct {
	suite.Suite
	ctx     context.Context
	server  *fakesurreal.Server
	backend *surreal.Backend
}

func TestSurrealBackendTestSuite(t *testing.T) {
	suite.Run(t, new(SurrealBackendTestSuite))
}

func (s *SurrealBackendTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.server = fakesurreal.NewServer("127.0.0.1:0")
	s.server.AddUser("alice", "secret")
	s.Require().NoError(s.server.Start())

	cfg := surreal.NewConfig(s.server.URL(), "app", "prod")
	cfg.Timeout = 2 * time.Second
	cfg.Logger = logger.Nop()
	cfg.MirrorDir = s.T().TempDir()

	b, err := surreal.Connect(s.ctx, cfg)
	s.Require().NoError(err)
	s.backend = b
}

func (s *SurrealBackendTestSuite) TearDownTest() {
	s.NoError(s.backend.Close())
	s.NoError(s.server.Stop())
}

func (s *SurrealBackendTestSuite) record(key string) fakesurreal.RecordID {
	return fakesurreal.RecordID{Namespace: "app", Database: "prod", Table: constants.DefaultTable, Owner: "alice", Key: key}
}

func (s *SurrealBackendTestSuite) TestRequiresSignIn() {
	_, err := s.backend.Load(s.ctx, "k")
	s.ErrorIs(err, constants.ErrNotSignedIn)
	s.ErrorIs(s.backend.Store(s.ctx, "k", envelope.Payload("x")), constants.ErrNotSignedIn)
	s.ErrorIs(s.backend.Authenticate(s.ctx), constants.ErrNotSignedIn)

	err = s.backend.Authenticate(s.ctx, "alice", "nope")
	var rpcErr *surreal.RPCError
	s.Require().ErrorAs(err, &rpcErr)
	s.Contains(rpcErr.Message, "authentication")
	s.Empty(s.backend.Owner())
}

func (s *SurrealBackendTestSuite) TestSignsInOnce() {
	s.Require().NoError(s.backend.Authenticate(s.ctx, "alice", "secret"))
	s.Equal("alice", s.backend.Owner())

	s.Require().NoError(s.backend.Authenticate(s.ctx))
	s.Require().NoError(s.backend.Authenticate(s.ctx, "alice", "secret"))
	s.ErrorIs(s.backend.Authenticate(s.ctx, "mallory", "whatever"), constants.ErrAuthentication)
	s.Equal("alice", s.backend.Owner())
	s.Equal(1, s.server.Requests("signin"))
}

func (s *SurrealBackendTestSuite) TestLoadStore() {
	s.Require().NoError(s.backend.Authenticate(s.ctx, "alice", "secret"))

	_, err := s.backend.Load(s.ctx, "settings")
	s.ErrorIs(err, vuser.ErrNotFound)

	payload := envelope.Payload(`{"value":{"lang":"en"},"timestamp":1700000000000}`)
	s.Require().NoError(s.backend.Store(s.ctx, "settings", payload))

	r, ok := s.server.Record(s.record("settings"))
	s.Require().True(ok)
	s.Equal("eyJ2YWx1ZSI6eyJsYW5nIjoiZW4ifSwidGltZXN0YW1wIjoxNzAwMDAwMDAwMDAwfQ==", r.Payload)

	got, err := s.backend.Load(s.ctx, "settings")
	s.Require().NoError(err)
	s.Equal(payload, got)
}

func (s *SurrealBackendTestSuite) TestBinaryPayload() {
	s.Require().NoError(s.backend.Authenticate(s.ctx, "alice", "secret"))

	payload, err := envelope.CBOR().Encode([]any{"a", 1}, 42)
	s.Require().NoError(err)
	s.Require().NoError(s.backend.Store(s.ctx, "bin", payload))

	got, err := s.backend.Load(s.ctx, "bin")
	s.Require().NoError(err)
	s.Equal(payload, got)
}

func (s *SurrealBackendTestSuite) TestRPCError() {
	s.Require().NoError(s.backend.Authenticate(s.ctx, "alice", "secret"))
	s.server.AddStubResponse(fakesurreal.ErrorStubResponse(fakesurreal.MatchQuery("UPSERT"), -32000, "read only"))

	err := s.backend.Store(s.ctx, "k", envelope.Payload("x"))
	var rpcErr *surreal.RPCError
	s.Require().ErrorAs(err, &rpcErr)
	s.Equal(int64(-32000), rpcErr.Code)
	s.Equal("read only", rpcErr.Message)
}

func (s *SurrealBackendTestSuite) TestStatementError() {
	s.Require().NoError(s.backend.Authenticate(s.ctx, "alice", "secret"))
	s.server.AddStubResponse(fakesurreal.StubResponse{
		Matcher: fakesurreal.MatchQuery("SELECT"),
		Result:  []any{map[string]any{"status": "ERR", "time": "0ms", "result": "table is locked"}},
	})

	_, err := s.backend.Load(s.ctx, "k")
	var qErr *surreal.QueryError
	s.Require().ErrorAs(err, &qErr)
	s.Equal("table is locked", qErr.Message)
}

func (s *SurrealBackendTestSuite) TestTimeout() {
	s.Require().NoError(s.backend.Authenticate(s.ctx, "alice", "secret"))
	s.server.AddStubResponse(fakesurreal.StubResponse{
		Matcher: fakesurreal.MatchQuery("SELECT"),
		Failure: &fakesurreal.FailureConfig{Type: fakesurreal.FailureNoResponse, Probability: 1},
	})

	ctx, cancel := context.WithTimeout(s.ctx, 100*time.Millisecond)
	defer cancel()
	_, err := s.backend.Load(ctx, "k")
	s.ErrorIs(err, constants.ErrTimeout)
}

func (s *SurrealBackendTestSuite) TestDroppedConnection() {
	s.Require().NoError(s.backend.Authenticate(s.ctx, "alice", "secret"))
	s.server.AddStubResponse(fakesurreal.StubResponse{
		Matcher: fakesurreal.MatchQuery("SELECT"),
		Failure: &fakesurreal.FailureConfig{Type: fakesurreal.FailureDropConnection, Probability: 1},
	})

	_, err := s.backend.Load(s.ctx, "k")
	s.ErrorIs(err, constants.ErrConnectionClosed)

	_, err = s.backend.Load(s.ctx, "k")
	s.ErrorIs(err, constants.ErrConnectionClosed)
}

func (s *SurrealBackendTestSuite) TestThroughUser() {
	cfg := s.backend.Options()
	s.True(cfg.CacheInLocalStorage)
	s.NotNil(cfg.Mirror)

	u, err := vuser.New(s.ctx, cfg)
	s.Require().NoError(err)

	_, err = u.Get(s.ctx, "settings")
	s.ErrorIs(err, vuser.ErrAuthentication)

	s.Require().NoError(u.Authenticate(s.ctx, "alice", "secret"))
	s.Require().NoError(u.Set(s.ctx, "settings", map[string]any{"lang": "en"}))

	report, err := u.Sync(s.ctx)
	s.Require().NoError(err)
	o, _ := report.Outcome("settings")
	s.Equal(vuser.SyncPushed, o.Action)

	s.server.Put(s.record("theme"), "eyJ2YWx1ZSI6ImRhcmsiLCJ0aW1lc3RhbXAiOjF9")
	v, err := u.Get(s.ctx, "theme")
	s.Require().NoError(err)
	s.Equal("dark", v)
}

func TestConnectValidation(t *testing.T) {
	ctx := context.Background()

	_, err := surreal.Connect(ctx, &surreal.Config{})
	assert.ErrorIs(t, err, constants.ErrNoBaseURL)

	_, err = surreal.Connect(ctx, &surreal.Config{URL: "ws://127.0.0.1:1/rpc"})
	assert.Error(t, err)

	_, err = surreal.Connect(ctx, surreal.NewConfig("http://127.0.0.1:1/rpc", "ns", "db"))
	assert.ErrorContains(t, err, "unsupported url scheme")

	_, err = surreal.Connect(ctx, surreal.NewConfig("ws://127.0.0.1:1/rpc", "ns", "db"))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, constants.ErrNoBaseURL))
}

func TestNewConfig(t *testing.T) {
	cfg := surreal.NewConfig("ws://localhost:8000/rpc", "app", "prod")
	require.NotNil(t, cfg.Logger)
	assert.Equal(t, constants.DefaultTable, cfg.Table)
	assert.Equal(t, constants.DefaultWSTimeout, cfg.Timeout)
	assert.Contains(t, cfg.MirrorDir, "vuser")
}
