// Package mock provides an in-memory backend with call counters and failure
// injection for tests.
package mock

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/surrealdb/vuser.go/pkg/constants"
	"github.com/surrealdb/vuser.go/pkg/envelope"
)

var ErrOffline = errors.New("backend offline")

type Backend struct {
	mu      sync.Mutex
	data    map[string]envelope.Payload
	signed  bool
	loads   map[string]int
	stores  map[string]int
	auths   int
	creds   [][]any
	codec   envelope.Codec
	failing map[string]error

	// Password, when set, must be passed as the second credential of the first
	// Authenticate call. Until then every Load and Store fails.
	Password string

	// BeforeLoad and BeforeStore run before the operation, outside the lock.
	// Returning an error fails the operation.
	BeforeLoad  func(ctx context.Context, key string) error
	BeforeStore func(ctx context.Context, key string, payload envelope.Payload) error
}

func Create() *Backend {
	return &Backend{
		data:    map[string]envelope.Payload{},
		loads:   map[string]int{},
		stores:  map[string]int{},
		codec:   envelope.JSON(),
		failing: map[string]error{},
		signed:  true,
	}
}

// CreateSignedOut returns a backend that demands Authenticate(user, password)
// before serving data.
func CreateSignedOut(password string) *Backend {
	b := Create()
	b.signed = false
	b.Password = password
	return b
}

func (b *Backend) Authenticate(_ context.Context, credentials ...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.auths++
	b.creds = append(b.creds, credentials)
	if b.signed {
		return nil
	}
	if len(credentials) < 2 {
		return constants.ErrNotSignedIn
	}
	if pass, _ := credentials[1].(string); pass != b.Password {
		return errors.New("invalid credentials")
	}
	b.signed = true
	return nil
}

func (b *Backend) Load(ctx context.Context, key string) (envelope.Payload, error) {
	if b.BeforeLoad != nil {
		if err := b.BeforeLoad(ctx, key); err != nil {
			return nil, err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads[key]++
	if !b.signed {
		return nil, constants.ErrNotSignedIn
	}
	if err := b.failing[key]; err != nil {
		return nil, err
	}
	p, ok := b.data[key]
	if !ok {
		return nil, constants.ErrNotFound
	}
	return append(envelope.Payload(nil), p...), nil
}

func (b *Backend) Store(ctx context.Context, key string, payload envelope.Payload) error {
	if b.BeforeStore != nil {
		if err := b.BeforeStore(ctx, key, payload); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stores[key]++
	if !b.signed {
		return constants.ErrNotSignedIn
	}
	if err := b.failing[key]; err != nil {
		return err
	}
	b.data[key] = append(envelope.Payload(nil), payload...)
	return nil
}

// Fail makes every Load and Store of key fail with err. A nil err heals it.
func (b *Backend) Fail(key string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failing, key)
		return
	}
	b.failing[key] = err
}

// Put stores value remotely as if another device had written it at timestamp.
func (b *Backend) Put(key string, value any, timestamp uint64) {
	p, err := b.codec.Encode(value, timestamp)
	if err != nil {
		panic(err)
	}
	b.PutRaw(key, p)
}

func (b *Backend) PutRaw(key string, p envelope.Payload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = p
}

// Envelope returns the decoded remote state of key.
func (b *Backend) Envelope(key string) (envelope.Envelope, bool) {
	b.mu.Lock()
	p, ok := b.data[key]
	b.mu.Unlock()
	if !ok {
		return envelope.Envelope{}, false
	}
	env, err := b.codec.Decode(p)
	if err != nil {
		panic(err)
	}
	return env, true
}

func (b *Backend) Loads(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads[key]
}

func (b *Backend) Stores(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stores[key]
}

func (b *Backend) TotalLoads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.loads {
		n += c
	}
	return n
}

func (b *Backend) Auths() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.auths
}

// Credentials returns the arguments of every Authenticate call.
func (b *Backend) Credentials() [][]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]any(nil), b.creds...)
}

// Data returns a copy of the stored payloads.
func (b *Backend) Data() map[string]envelope.Payload {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Clone(b.data)
}
