package remote

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
	"github.com/nikolaj20/erp-phonetech/internal/replica/store"
)

// TokenKey is the store key holding the persisted API token.
const TokenKey = "auth/token"

// Credentials holds the API token used for remote calls.
// A nil store keeps the token in memory only.
type Credentials struct {
	mu    sync.RWMutex
	token string
	store store.Store
}

// NewCredentials creates an empty credential holder backed by s.
func NewCredentials(s store.Store) *Credentials {
	return &Credentials{store: s}
}

// StaticCredentials returns an in-memory holder preloaded with token.
func StaticCredentials(token string) *Credentials {
	return &Credentials{token: token}
}

// Load reads the persisted token, if any.
func (c *Credentials) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	data, err := c.store.Get(ctx, TokenKey)
	if errors.Is(err, schema.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.token = strings.TrimSpace(string(data))
	c.mu.Unlock()
	return nil
}

// Token returns the current token, or "" when signed out.
func (c *Credentials) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Valid reports whether a token is held.
func (c *Credentials) Valid() bool {
	return c.Token() != ""
}

// Set replaces the token and persists it.
func (c *Credentials) Set(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	return c.store.Put(ctx, store.Entry{Key: TokenKey, Value: []byte(token)})
}

// Clear forgets the token, in memory first and then in the store.
func (c *Credentials) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	return c.store.Delete(ctx, TokenKey)
}
