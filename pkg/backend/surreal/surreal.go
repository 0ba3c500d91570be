// Package surreal stores user data in SurrealDB through its WebSocket
// JSON-RPC endpoint.
//
// Every key of a user lives in its own record, addressed by the array id
// [owner, key] in a single table:
//
//	user_data:['alice', 'settings'] { payload: '<base64>', updated_at: d'...' }
//
// The owner is the user name given to Authenticate.
package surreal

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"github.com/spf13/afero"
	vuser "github.com/surrealdb/vuser.go"
	"github.com/surrealdb/vuser.go/pkg/constants"
	"github.com/surrealdb/vuser.go/pkg/envelope"
	"github.com/surrealdb/vuser.go/pkg/logger"
	"github.com/surrealdb/vuser.go/pkg/mirror"
)

const (
	selectPayload = "SELECT VALUE payload FROM ONLY type::thing($tb, [$owner, $key]);"
	upsertPayload = "UPSERT type::thing($tb, [$owner, $key]) SET payload = $payload, updated_at = time::now() RETURN NONE;"
)

// Config describes where the user data lives.
type Config struct {
	// URL is the RPC endpoint, such as "ws://localhost:8000/rpc".
	URL       string
	Namespace string
	Database  string
	Table     string

	// Timeout bounds every RPC round trip. Zero disables it.
	Timeout time.Duration
	Logger  logger.Logger

	// MirrorDir is where Options keeps the durable copy of the cache.
	MirrorDir string
}

// NewConfig returns a Config for url with defaults for everything else.
func NewConfig(url, namespace, database string) *Config {
	return &Config{
		URL:       url,
		Namespace: namespace,
		Database:  database,
		Table:     constants.DefaultTable,
		Timeout:   constants.DefaultWSTimeout,
		Logger:    logger.Default(),
		MirrorDir: defaultMirrorDir(namespace, database),
	}
}

func defaultMirrorDir(namespace, database string) string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "vuser", namespace, database)
}

func (c *Config) preConnectionChecks() error {
	if c.URL == "" {
		return constants.ErrNoBaseURL
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("surreal: invalid url: %w", err)
	}
	if u.Scheme != constants.WebsocketScheme && u.Scheme != constants.WebsocketSecureScheme {
		return fmt.Errorf("surreal: unsupported url scheme %q", u.Scheme)
	}
	if c.Namespace == "" || c.Database == "" {
		return fmt.Errorf("surreal: namespace and database are required")
	}
	return nil
}

// Backend is a vuser.Backend on one SurrealDB connection. It is safe for
// concurrent use.
type Backend struct {
	cfg  Config
	conn *conn

	mu    sync.Mutex
	owner string
}

// Connect dials cfg.URL and selects the namespace and database.
func Connect(ctx context.Context, cfg *Config) (*Backend, error) {
	if err := cfg.preConnectionChecks(); err != nil {
		return nil, err
	}
	c := *cfg
	if c.Table == "" {
		c.Table = constants.DefaultTable
	}
	if c.Logger == nil {
		c.Logger = logger.Default()
	}
	if c.MirrorDir == "" {
		c.MirrorDir = defaultMirrorDir(c.Namespace, c.Database)
	}

	conn, err := dial(ctx, c.URL, c.Timeout, c.Logger)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Send(ctx, methodUse, c.Namespace, c.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}

	return &Backend{cfg: c, conn: conn}, nil
}

// Options returns a vuser configuration for b that also keeps the cache on
// disk, so a session can start offline with the values it saw last.
func (b *Backend) Options() *vuser.Config {
	cfg := vuser.NewConfig(b)
	cfg.Mirror = mirror.NewFile(afero.NewOsFs(), b.cfg.MirrorDir)
	cfg.CacheInLocalStorage = true
	return cfg
}

// Authenticate signs in with (user, password) the first time it is called.
// Once signed in, calls without credentials or for the same user are no-ops;
// credentials for any other user are rejected.
func (b *Backend) Authenticate(ctx context.Context, credentials ...any) error {
	if owner := b.Owner(); owner != "" {
		if len(credentials) == 0 {
			return nil
		}
		if user, _ := credentials[0].(string); user != owner {
			return fmt.Errorf("%w: signed in as %q", constants.ErrAuthentication, owner)
		}
		return nil
	}

	if len(credentials) < 2 {
		return constants.ErrNotSignedIn
	}
	user, ok := credentials[0].(string)
	if !ok || user == "" {
		return fmt.Errorf("surreal: user must be a non-empty string, got %T", credentials[0])
	}
	pass, ok := credentials[1].(string)
	if !ok {
		return fmt.Errorf("surreal: password must be a string, got %T", credentials[1])
	}

	if _, err := b.conn.Send(ctx, methodSignIn, map[string]any{
		"user": user,
		"pass": pass,
		"NS":   b.cfg.Namespace,
		"DB":   b.cfg.Database,
	}); err != nil {
		return err
	}

	b.mu.Lock()
	b.owner = user
	b.mu.Unlock()
	b.cfg.Logger.Debug("signed in", "user", user)
	return nil
}

// Owner returns the signed in user, or "" before Authenticate succeeded.
func (b *Backend) Owner() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.owner
}

func (b *Backend) vars(key string) (map[string]any, error) {
	owner := b.Owner()
	if owner == "" {
		return nil, constants.ErrNotSignedIn
	}
	return map[string]any{"tb": b.cfg.Table, "owner": owner, "key": key}, nil
}

func (b *Backend) query(ctx context.Context, sql string, vars map[string]any) ([]byte, jsonparser.ValueType, error) {
	res, err := b.conn.Send(ctx, methodQuery, sql, vars)
	if err != nil {
		return nil, jsonparser.NotExist, err
	}
	result, _, err := res.result()
	if err != nil {
		return nil, jsonparser.NotExist, fmt.Errorf("surreal: malformed query result: %w", err)
	}
	return firstStatement(result)
}

// Load returns the payload stored for key, or vuser.ErrNotFound.
func (b *Backend) Load(ctx context.Context, key string) (envelope.Payload, error) {
	vars, err := b.vars(key)
	if err != nil {
		return nil, err
	}

	value, dataType, err := b.query(ctx, selectPayload, vars)
	if err != nil {
		return nil, err
	}

	switch dataType {
	case jsonparser.Null, jsonparser.NotExist:
		return nil, vuser.ErrNotFound
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return nil, fmt.Errorf("surreal: payload of %q: %w", key, err)
		}
		return base64.StdEncoding.DecodeString(s)
	}
	return nil, fmt.Errorf("surreal: payload of %q is a %s", key, dataType)
}

// Store upserts the record for key.
func (b *Backend) Store(ctx context.Context, key string, payload envelope.Payload) error {
	vars, err := b.vars(key)
	if err != nil {
		return err
	}
	// []byte is sent as base64 text.
	vars["payload"] = []byte(payload)

	_, _, err = b.query(ctx, upsertPayload, vars)
	return err
}

// Close closes the connection, waiting at most the configured timeout for the
// close handshake.
func (b *Backend) Close() error {
	ctx := context.Background()
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}
	return b.conn.Close(ctx)
}

var _ vuser.Backend = (*Backend)(nil)
