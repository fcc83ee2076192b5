package auth

import (
	"errors"
	"strings"
	"sync"
	"time"

	"userdir.org/internal/obs"
)

const (
	// DefaultSessionTTL is the fixed lifetime of a session. Sessions do not slide.
	DefaultSessionTTL = 24 * time.Hour
	// DefaultRoleName is assigned to every new identity.
	DefaultRoleName = RoleUser
)

// Service implements registration, login, logout, session validation and
// permission evaluation over a Store.
type Service struct {
	store       Store
	hasher      PasswordHasher
	tokens      TokenGenerator
	now         func() time.Time
	sessionTTL  time.Duration
	defaultRole string

	decoyOnce sync.Once
	decoyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithHasher replaces the bcrypt hasher.
func WithHasher(h PasswordHasher) ServiceOption {
	return func(s *Service) error {
		if h == nil {
			return errors.New("auth: nil password hasher")
		}
		s.hasher = h
		return nil
	}
}

// WithTokens replaces the session token generator.
func WithTokens(g TokenGenerator) ServiceOption {
	return func(s *Service) error {
		if g == nil {
			return errors.New("auth: nil token generator")
		}
		s.tokens = g
		return nil
	}
}

// WithSessionTTL configures session lifetime.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithDefaultRole overrides the role assigned on registration.
func WithDefaultRole(name string) ServiceOption {
	return func(s *Service) error {
		if name = strings.TrimSpace(name); name != "" {
			s.defaultRole = name
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:       store,
		hasher:      NewBcryptHasher(DefaultBcryptCost),
		tokens:      RandomTokens{},
		now:         time.Now,
		sessionTTL:  DefaultSessionTTL,
		defaultRole: DefaultRoleName,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Now returns the service clock reading in UTC.
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// Store returns the backing store.
func (s *Service) Store() Store {
	return s.store
}

// verifyDecoy spends one hash comparison on a throwaway hash so that an
// unknown email costs as much as a wrong password.
func (s *Service) verifyDecoy(password string) {
	s.decoyOnce.Do(func() {
		hash, err := s.hasher.Hash("userdir-decoy-password")
		if err != nil {
			obs.Error("decoy_hash_failed", map[string]any{"error": err})
			return
		}
		s.decoyHash = hash
	})
	if s.decoyHash == "" {
		return
	}
	_, _ = s.hasher.Verify(s.decoyHash, password)
}
