package auth

import (
	"context"
	"encoding/json"
	"sync"
)

// ExternalProvider is an identity provider outside the server, such as a
// wallet, whose session can be exchanged for an access token.
type ExternalProvider interface {
	// Ready reports whether the provider finished initializing
	Ready() bool

	// Authenticated reports whether the provider holds a live session
	Authenticated() bool

	// Session returns the live session
	Session(ctx context.Context) (ProviderSession, error)

	// Logout ends the provider session
	Logout(ctx context.Context) error
}

// ProviderSession is what the provider hands over for the handshake.
type ProviderSession struct {
	// Token proves the session to the server
	Token string

	// User is the provider's view of the user, sent as providerUserSnapshot
	User json.RawMessage
}

// StaticProvider is an ExternalProvider with a fixed session. The CLI uses
// it for --provider-token logins and tests use it to script provider state.
type StaticProvider struct {
	mu        sync.Mutex
	session   ProviderSession
	ready     bool
	loggedOut bool
	logoutErr error
	logouts   int
}

// NewStaticProvider returns a ready provider holding the given session.
// snapshot is marshalled to JSON.
func NewStaticProvider(token string, snapshot interface{}) (*StaticProvider, error) {
	user, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}
	return &StaticProvider{
		session: ProviderSession{Token: token, User: user},
		ready:   true,
	}, nil
}

func (p *StaticProvider) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *StaticProvider) Authenticated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.loggedOut && p.session.Token != ""
}

func (p *StaticProvider) Session(ctx context.Context) (ProviderSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loggedOut || p.session.Token == "" {
		return ProviderSession{}, ErrLoginRequired
	}
	return p.session, nil
}

func (p *StaticProvider) Logout(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logouts++
	p.loggedOut = true
	return p.logoutErr
}

// SetReady toggles readiness.
func (p *StaticProvider) SetReady(ready bool) {
	p.mu.Lock()
	p.ready = ready
	p.mu.Unlock()
}

// FailLogout makes every later Logout return err. The session still ends.
func (p *StaticProvider) FailLogout(err error) {
	p.mu.Lock()
	p.logoutErr = err
	p.mu.Unlock()
}

// Logouts returns how many times Logout was called.
func (p *StaticProvider) Logouts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logouts
}
