// Package auth decides which credential source is active, performs the
// handshake against the active transport and exposes a single current
// identity.
//
// The Coordinator is the only writer of the credential store. Other
// components read the identity through the Coordinator.
package auth

import (
	"encoding/json"
	"errors"

	"github.com/ajitpratap0/feathers-client-go/pkg/credential"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
	"github.com/ajitpratap0/feathers-client-go/pkg/transport"
)

// ErrLoginRequired means no credential source could establish an identity
// and the caller should present a login flow.
var ErrLoginRequired = errors.New("login required")

// ErrLoggedOut is returned to callers of a handshake that was overtaken by
// Logout.
var ErrLoggedOut = errors.New("logged out while authenticating")

// ErrProviderUnavailable is returned by LoginWithProvider when no external
// provider is configured or it is not ready.
var ErrProviderUnavailable = errors.New("external identity provider is not available")

// State of the coordinator.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// Identity is the authenticated user and the credential that proves it.
type Identity struct {
	// User is the user record returned by the server
	User json.RawMessage

	// Credential is what the credential store holds for this identity
	Credential credential.Credential

	// Source is the credential source that started the session, either
	// local or external-provider
	Source protocol.Strategy
}

// DecodeUser unmarshals the user record into v.
func (i *Identity) DecodeUser(v interface{}) error {
	if i == nil || len(i.User) == 0 {
		return ErrLoginRequired
	}
	return json.Unmarshal(i.User, v)
}

func (i *Identity) clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.User = append(json.RawMessage(nil), i.User...)
	return &c
}

// Listener observes state changes. identity is nil unless the state is
// StateAuthenticated.
type Listener func(state State, identity *Identity)

// Transports gives the coordinator the transport to authenticate against.
// A switchboard.Switchboard satisfies it.
type Transports interface {
	// Active returns the transport new calls use
	Active() transport.Transport

	// All returns every transport that may hold a session
	All() []transport.Transport
}
