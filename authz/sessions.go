package authz

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/hengadev/medx"
	"github.com/hengadev/medx/internal/security"
)

const (
	DefaultSessionTTL = 8 * time.Hour
	tokenLength       = 32
)

type session struct {
	principal medx.Principal
	expires   time.Time
}

// Sessions is an in-memory session table. Tokens are random and expire
// after the configured TTL.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]session
	ttl      time.Duration
	now      func() time.Time
}

type SessionOption func(*Sessions)

func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(s *Sessions) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func withClock(now func() time.Time) SessionOption {
	return func(s *Sessions) {
		s.now = now
	}
}

func NewSessions(opts ...SessionOption) *Sessions {
	s := &Sessions{
		sessions: make(map[string]session),
		ttl:      DefaultSessionTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue opens a session for p and returns its token.
func (s *Sessions) Issue(ctx context.Context, p medx.Principal) (string, error) {
	if p.ID == "" {
		return "", fmt.Errorf("%w: principal has no id", medx.ErrInvalidAttributes)
	}
	if p.Role == "" {
		return "", medx.NewUnknownRoleError(p.Role)
	}

	raw, err := security.RandomBytes(tokenLength)
	if err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = session{principal: p, expires: s.now().Add(s.ttl)}
	return token, nil
}

// Resolve returns the principal of a live session. Unknown and expired
// tokens fail with medx.ErrUnauthenticated.
func (s *Sessions) Resolve(ctx context.Context, token string) (medx.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return medx.Principal{}, fmt.Errorf("%w: unknown session", medx.ErrUnauthenticated)
	}
	if !s.now().Before(sess.expires) {
		delete(s.sessions, token)
		return medx.Principal{}, fmt.Errorf("%w: session expired", medx.ErrUnauthenticated)
	}
	return sess.principal, nil
}

// Revoke ends a session. Revoking an unknown token is a no-op.
func (s *Sessions) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// RevokePrincipal ends every session of the principal with the given id,
// e.g. after its staff record was deleted.
func (s *Sessions) RevokePrincipal(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for token, sess := range s.sessions {
		if sess.principal.ID == id {
			delete(s.sessions, token)
			n++
		}
	}
	return n
}

var _ medx.SessionResolver = (*Sessions)(nil)
