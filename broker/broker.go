/*
Package broker holds the session store: each submitted credential
triple is exchanged for an opaque session id, and every proxied call
resolves that id back to its triple. Sessions live only in process
memory. The store is bounded two ways: entries expire after a TTL
(touched on resolution, so active sessions stay alive) and total
entries are capped with oldest-first eviction.
*/
package broker

import (
	"log/slog"
	"time"

	"github.com/OrchardMediaLabs/orchard/remote"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// Session maps an opaque id to one immutable credential triple. The
// struct carries no serialization tags on purpose; it must never cross
// a process boundary.
type Session struct {
	ID        string
	CloudName string
	APIKey    string
	APISecret string
	CreatedAt time.Time
}

// Credentials returns the triple as the per-call argument the remote
// gateway expects. Credentials travel as values, never as shared
// client configuration, so concurrent requests against different
// sessions cannot interleave each other's state.
func (s *Session) Credentials() remote.Credentials {
	return remote.Credentials{
		CloudName: s.CloudName,
		APIKey:    s.APIKey,
		APISecret: s.APISecret,
	}
}

// Store is the broker's session surface.
type Store interface {
	// Create validates the triple and mints a new session id.
	Create(cloudName, apiKey, apiSecret string) (*Session, error)

	// Resolve returns the session for an id, or *ErrInvalidSession.
	Resolve(id string) (*Session, error)

	// Revoke discards a session. Revoking an unknown id is a no-op.
	Revoke(id string)

	// Len reports the number of live sessions.
	Len() int
}

// MemStore is the in-memory, TTL-bounded session store.
type MemStore struct {
	logger   *slog.Logger
	sessions *ttlcache.Cache[string, *Session]
}

var _ Store = &MemStore{}

// New creates a MemStore. A zero ttl means sessions never expire; a
// zero capacity means the entry count is unbounded.
func New(logger *slog.Logger, ttl time.Duration, capacity uint64) *MemStore {
	opts := []ttlcache.Option[string, *Session]{}
	if ttl > 0 {
		opts = append(opts, ttlcache.WithTTL[string, *Session](ttl))
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, *Session](capacity))
	}

	sessions := ttlcache.New(opts...)
	go sessions.Start()

	return &MemStore{
		logger:   logger,
		sessions: sessions,
	}
}

func (m *MemStore) Create(cloudName, apiKey, apiSecret string) (*Session, error) {
	switch {
	case cloudName == "":
		return nil, &ErrMissingCredentials{Field: "cloudName"}
	case apiKey == "":
		return nil, &ErrMissingCredentials{Field: "apiKey"}
	case apiSecret == "":
		return nil, &ErrMissingCredentials{Field: "apiSecret"}
	}

	session := &Session{
		ID:        uuid.NewString(),
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		CreatedAt: time.Now().UTC(),
	}

	m.sessions.Set(session.ID, session, ttlcache.DefaultTTL)
	m.logger.Debug("session created", "session_id", session.ID, "cloud_name", cloudName)
	return session, nil
}

func (m *MemStore) Resolve(id string) (*Session, error) {
	if id == "" {
		return nil, &ErrInvalidSession{ID: id}
	}
	item := m.sessions.Get(id)
	if item == nil {
		return nil, &ErrInvalidSession{ID: id}
	}
	return item.Value(), nil
}

func (m *MemStore) Revoke(id string) {
	m.sessions.Delete(id)
	m.logger.Debug("session revoked", "session_id", id)
}

func (m *MemStore) Len() int {
	return m.sessions.Len()
}

// Stop halts the expiry runner. Only needed on shutdown.
func (m *MemStore) Stop() {
	m.sessions.Stop()
}
