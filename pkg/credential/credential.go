// Package credential persists the bearer token and the strategy that issued
// it. Only the authentication coordinator writes through a Store.
package credential

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
	"github.com/ajitpratap0/feathers-client-go/pkg/storage"
)

// Storage keys.
const (
	KeyToken    = "feathers-jwt"
	KeyStrategy = "feathers-auth-strategy"
)

// Credential is a token plus the credential source that produced it. Expiry
// is not tracked; the server decides when a token is no longer good.
type Credential struct {
	Token    string
	IssuedBy protocol.Strategy
}

// Store reads and writes a Credential under fixed keys.
type Store struct {
	storage storage.Storage
}

// NewStore wraps a storage backend.
func NewStore(s storage.Storage) *Store {
	return &Store{storage: s}
}

func validIssuer(s protocol.Strategy) bool {
	return s == protocol.StrategyLocal || s == protocol.StrategyProvider
}

// Save persists cred. Only local and external-provider are valid issuers.
func (s *Store) Save(cred Credential) error {
	if cred.Token == "" {
		return fmt.Errorf("credential token is empty")
	}
	if !validIssuer(cred.IssuedBy) {
		return fmt.Errorf("invalid credential issuer %q", cred.IssuedBy)
	}
	if err := s.storage.Set(KeyToken, cred.Token); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	if err := s.storage.Set(KeyStrategy, string(cred.IssuedBy)); err != nil {
		return fmt.Errorf("failed to save credential strategy: %w", err)
	}
	return nil
}

// Load returns the stored credential. ok is false when either key is
// missing or the strategy tag is not recognised.
func (s *Store) Load() (cred Credential, ok bool, err error) {
	token, hasToken, err := s.storage.Get(KeyToken)
	if err != nil {
		return Credential{}, false, fmt.Errorf("failed to load credential: %w", err)
	}
	strategy, hasStrategy, err := s.storage.Get(KeyStrategy)
	if err != nil {
		return Credential{}, false, fmt.Errorf("failed to load credential strategy: %w", err)
	}
	if !hasToken || !hasStrategy || token == "" || !validIssuer(protocol.Strategy(strategy)) {
		return Credential{}, false, nil
	}
	return Credential{Token: token, IssuedBy: protocol.Strategy(strategy)}, true, nil
}

// Clear removes both keys. Clearing an empty store is a no-op.
func (s *Store) Clear() error {
	return stderrors.Join(
		s.storage.Delete(KeyToken),
		s.storage.Delete(KeyStrategy),
	)
}

// Claims are the readable parts of an access token.
type Claims struct {
	Subject   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Inspect decodes a token's claims without verifying its signature. It is
// for display only; the server remains the authority on validity.
func Inspect(token string) (*Claims, error) {
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &rc); err != nil {
		return nil, fmt.Errorf("failed to decode access token: %w", err)
	}

	c := &Claims{Subject: rc.Subject, Issuer: rc.Issuer}
	if rc.IssuedAt != nil {
		c.IssuedAt = rc.IssuedAt.Time
	}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time
	}
	return c, nil
}

// Expired reports whether the token carries an expiry in the past.
func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}
