// Package session tracks in-flight protocol flows. Each flow is bound to
// an eSessionId the server mints on the flow's first message; subsequent
// messages carry the id back and are routed to the same flow instance.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
)

// Flow is a per-session state machine. Handle consumes one decoded message
// body and returns the response to send. done reports that the flow reached
// a terminal state and the session should be closed.
type Flow interface {
	Handle(ctx context.Context, messageType string, body []byte) (resp any, done bool, err error)
}

// DefaultTTL is the idle lifetime of a session. Every message on the
// session resets the clock.
const DefaultTTL = 5 * time.Minute

// idLength is the session id length in hex characters.
const idLength = 16

// maxIDAttempts bounds the retry loop on session id collision.
const maxIDAttempts = 8

var (
	ErrNoSession    = errors.New("session: unknown eSessionId")
	ErrIDsExhausted = errors.New("session: could not mint a fresh eSessionId")
)

// Registry is the set of live sessions, keyed by eSessionId. Entries that
// sit idle longer than the registry's TTL are evicted.
type Registry struct {
	cache *ttlcache.Cache[string, Flow]
	log   *zap.Logger
}

// NewRegistry starts a registry whose sessions expire after ttl of
// inactivity.
func NewRegistry(ttl time.Duration, log *zap.Logger) *Registry {
	cache := ttlcache.New[string, Flow](
		ttlcache.WithTTL[string, Flow](ttl),
	)
	go cache.Start()
	return &Registry{cache: cache, log: log}
}

// Create registers flow under a freshly minted eSessionId and returns the
// id. Ids are 16 lowercase hex characters from a CSPRNG; on the
// vanishingly unlikely collision the mint is retried.
func (r *Registry) Create(flow Flow) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := newSessionID()
		if err != nil {
			return "", err
		}
		if _, existed := r.cache.GetOrSet(id, flow); !existed {
			r.log.Debug("session created", zap.String("eSessionId", id))
			return id, nil
		}
	}
	return "", ErrIDsExhausted
}

// Lookup returns the flow bound to id. A hit refreshes the idle TTL.
func (r *Registry) Lookup(id string) (Flow, error) {
	item := r.cache.Get(id)
	if item == nil {
		return nil, ErrNoSession
	}
	return item.Value(), nil
}

// Close ends the session with the given id. Closing an already expired or
// unknown session is a no-op.
func (r *Registry) Close(id string) {
	r.cache.Delete(id)
	r.log.Debug("session closed", zap.String("eSessionId", id))
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Stop shuts down the expiry janitor.
func (r *Registry) Stop() {
	r.cache.Stop()
}

func newSessionID() (string, error) {
	raw := make([]byte, idLength/2)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
