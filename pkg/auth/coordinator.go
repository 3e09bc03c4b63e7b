package auth

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/credential"
	"github.com/ajitpratap0/feathers-client-go/pkg/logging"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
	"github.com/ajitpratap0/feathers-client-go/pkg/transport"
)

// flightKey groups every handshake; at most one runs at a time.
const flightKey = "authenticate"

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithProvider sets the external identity provider.
func WithProvider(p ExternalProvider) Option {
	return func(c *Coordinator) {
		c.provider = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Coordinator runs the authentication state machine
//
//	Unauthenticated -> Authenticating -> Authenticated -> Unauthenticated
//
// against whichever transport is active when a handshake starts.
type Coordinator struct {
	transports Transports
	store      *credential.Store
	provider   ExternalProvider
	logger     logging.Logger

	group singleflight.Group

	// commit orders credential writes. Logout bumps generation under it so
	// a handshake that started earlier cannot persist its result.
	commit     sync.Mutex
	generation uint64

	mu        sync.Mutex
	state     State
	identity  *Identity
	settled   chan struct{}
	listeners map[int]Listener
	nextID    int
}

// NewCoordinator creates a coordinator in the Unauthenticated state. Call
// Start to restore a previous session.
func NewCoordinator(transports Transports, store *credential.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		transports: transports,
		store:      store,
		logger:     logging.NewNop(),
		listeners:  make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields(logging.String("component", "auth"))

	// The coordinator lives as long as its transports, so the
	// subscriptions are never removed.
	for _, t := range transports.All() {
		if w, ok := transport.AsSessionWatcher(t); ok {
			kind := t.Kind()
			w.OnSessionLost(func(token string, err error) {
				c.sessionLost(kind, token, err)
			})
		}
	}
	return c
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the identity without waiting for an in-flight handshake.
func (c *Coordinator) Current() *Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity.clone()
}

// Start restores identity on startup. A live and ready external provider
// wins; otherwise a stored credential issued by the local strategy is
// presented as a jwt. With neither, Start returns ErrLoginRequired.
func (c *Coordinator) Start(ctx context.Context) (*Identity, error) {
	if p := c.provider; p != nil && p.Ready() && p.Authenticated() {
		c.logger.Debug("Restoring session from external provider")
		return c.LoginWithProvider(ctx)
	}

	cred, ok, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoginRequired
	}
	if cred.IssuedBy != protocol.StrategyLocal {
		// The provider session is gone. The credential stays for when it
		// comes back.
		c.logger.Debug("Stored credential needs its external provider",
			logging.String("issued_by", string(cred.IssuedBy)))
		return nil, ErrLoginRequired
	}

	c.logger.Debug("Restoring session from stored credential")
	return c.resume(ctx, cred)
}

// Login authenticates with payload on the active transport and persists the
// resulting credential. A Login that arrives while another handshake is in
// flight joins it and returns its result.
func (c *Coordinator) Login(ctx context.Context, payload protocol.AuthPayload) (*Identity, error) {
	if payload == nil {
		return nil, svcerrors.ValidationFailed("authentication payload is required", nil)
	}
	if payload.Strategy() == protocol.StrategyJWT {
		return c.authenticate(ctx, payload, c.storedIssuer(), true)
	}
	return c.authenticate(ctx, payload, payload.Strategy(), false)
}

// LoginWithProvider exchanges the external provider's session for an
// access token.
func (c *Coordinator) LoginWithProvider(ctx context.Context) (*Identity, error) {
	p := c.provider
	if p == nil || !p.Ready() {
		return nil, ErrProviderUnavailable
	}
	if !p.Authenticated() {
		return nil, ErrLoginRequired
	}
	session, err := p.Session(ctx)
	if err != nil {
		return nil, err
	}
	return c.authenticate(ctx, protocol.ProviderPayload{
		ProviderUserSnapshot: session.User,
		ProviderToken:        session.Token,
	}, protocol.StrategyProvider, false)
}

// Reauthenticate presents the stored credential to the active transport.
// Use it after switching transports.
func (c *Coordinator) Reauthenticate(ctx context.Context) (*Identity, error) {
	cred, ok, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoginRequired
	}
	return c.resume(ctx, cred)
}

// resume presents cred as a jwt. A rejected credential is cleared.
func (c *Coordinator) resume(ctx context.Context, cred credential.Credential) (*Identity, error) {
	return c.authenticate(ctx, protocol.JWTPayload{AccessToken: cred.Token}, cred.IssuedBy, true)
}

func (c *Coordinator) storedIssuer() protocol.Strategy {
	if cred, ok, err := c.store.Load(); err == nil && ok {
		return cred.IssuedBy
	}
	return protocol.StrategyLocal
}

// authenticate runs or joins the flight. The flight is detached from the
// caller that started it; every caller stops waiting on its own context.
func (c *Coordinator) authenticate(ctx context.Context, payload protocol.AuthPayload, issuer protocol.Strategy, clearOnReject bool) (*Identity, error) {
	flight := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		return c.handshake(flight, payload, issuer, clearOnReject)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("Joined in-flight authentication")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Identity).clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handshake runs inside the flight; exactly one executes at a time. The
// transports bound it with their own timeouts.
func (c *Coordinator) handshake(ctx context.Context, payload protocol.AuthPayload, issuer protocol.Strategy, clearOnReject bool) (*Identity, error) {
	c.commit.Lock()
	generation := c.generation
	c.commit.Unlock()

	c.transition(StateAuthenticating, nil)

	t := c.transports.Active()
	logger := c.logger.WithFields(
		logging.String("strategy", string(payload.Strategy())),
		logging.String("transport", string(t.Kind())),
	)

	result, err := t.Authenticate(ctx, payload)

	c.commit.Lock()
	if c.generation != generation {
		c.commit.Unlock()
		if err == nil {
			// Logout already cleared the store; end the session just opened
			if lerr := t.Logout(ctx); lerr != nil {
				logger.WithError(lerr).Warn("Transport logout after cancelled login failed")
			}
		}
		logger.Info("Logged out while authenticating; result discarded")
		return nil, ErrLoggedOut
	}
	defer c.commit.Unlock()

	if err != nil {
		if clearOnReject && svcerrors.IsAuthRejected(err) {
			if cerr := c.store.Clear(); cerr != nil {
				logger.Error("Failed to clear rejected credential", logging.ErrorField(cerr))
			}
			logger.Info("Stored credential rejected; cleared")
		}
		c.transition(StateUnauthenticated, nil)
		logger.WithError(err).Warn("Authentication failed")
		return nil, err
	}

	cred := credential.Credential{Token: result.AccessToken, IssuedBy: result.IssuedBy(issuer)}
	if err := c.store.Save(cred); err != nil {
		c.transition(StateUnauthenticated, nil)
		logger.Error("Failed to persist credential", logging.ErrorField(err))
		return nil, err
	}

	id := &Identity{User: result.User, Credential: cred, Source: cred.IssuedBy}
	c.transition(StateAuthenticated, id)
	logger.Info("Authenticated", logging.String("source", string(id.Source)))
	return id, nil
}

// Identity returns the current identity. While a handshake is in flight it
// waits for the outcome instead of starting another one.
func (c *Coordinator) Identity(ctx context.Context) (*Identity, error) {
	c.mu.Lock()
	for c.state == StateAuthenticating {
		settled := c.settled
		c.mu.Unlock()
		select {
		case <-settled:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c.mu.Lock()
	}
	defer c.mu.Unlock()

	if c.identity == nil {
		return nil, ErrLoginRequired
	}
	return c.identity.clone(), nil
}

// Logout ends the session everywhere it is known. Network failures are
// logged and swallowed; the credential store is always cleared and the
// state always ends Unauthenticated. The only error returned is a failure
// to clear local storage. A handshake still in flight is discarded and its
// callers receive ErrLoggedOut.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.commit.Lock()
	c.generation++
	c.commit.Unlock()

	source := protocol.Strategy("")
	if id := c.Current(); id != nil {
		source = id.Source
	} else if cred, ok, err := c.store.Load(); err == nil && ok {
		source = cred.IssuedBy
	}

	if source == protocol.StrategyProvider && c.provider != nil {
		if err := c.provider.Logout(ctx); err != nil {
			c.logger.WithError(err).Warn("External provider logout failed")
		}
	}

	for _, t := range c.transports.All() {
		if t.Session() == nil {
			continue
		}
		if err := t.Logout(ctx); err != nil {
			c.logger.WithError(err).Warn("Transport logout failed",
				logging.String("transport", string(t.Kind())))
		}
	}

	c.commit.Lock()
	clearErr := c.store.Clear()
	c.transition(StateUnauthenticated, nil)
	c.commit.Unlock()

	if clearErr != nil {
		c.logger.Error("Failed to clear credential store", logging.ErrorField(clearErr))
		return clearErr
	}
	c.logger.Info("Logged out")
	return nil
}

// TransportSwitched recomputes the identity after the active transport
// changed. If the new transport already holds a session it is adopted;
// otherwise the coordinator drops to Unauthenticated and keeps the stored
// credential for Reauthenticate. Its signature matches
// switchboard.Listener.
func (c *Coordinator) TransportSwitched(previous, current transport.Kind) {
	c.mu.Lock()
	if c.state == StateAuthenticating {
		// The in-flight handshake decides the outcome
		c.mu.Unlock()
		return
	}
	issuer := protocol.StrategyLocal
	if c.identity != nil {
		issuer = c.identity.Source
	}
	c.mu.Unlock()

	session := c.transports.Active().Session()
	if session == nil {
		c.logger.Info("Active transport has no session",
			logging.String("from", string(previous)),
			logging.String("to", string(current)))
		c.transition(StateUnauthenticated, nil)
		return
	}

	cred := credential.Credential{Token: session.AccessToken, IssuedBy: session.IssuedBy(issuer)}
	c.commit.Lock()
	defer c.commit.Unlock()
	if err := c.store.Save(cred); err != nil {
		c.logger.Error("Failed to persist credential", logging.ErrorField(err))
	}
	c.transition(StateAuthenticated, &Identity{User: session.User, Credential: cred, Source: cred.IssuedBy})
}

// sessionLost clears a credential the server rejected when the active
// transport re-authenticated on its own.
func (c *Coordinator) sessionLost(kind transport.Kind, token string, cause error) {
	logger := c.logger.WithFields(logging.String("transport", string(kind)))
	if c.transports.Active().Kind() != kind {
		logger.Debug("Inactive transport lost its session")
		return
	}

	c.commit.Lock()
	defer c.commit.Unlock()
	if c.State() == StateAuthenticating {
		// The in-flight handshake decides the outcome
		return
	}
	if cred, ok, err := c.store.Load(); err == nil && ok && cred.Token != token {
		logger.Debug("Lost session is older than the stored credential")
		return
	}

	if err := c.store.Clear(); err != nil {
		logger.Error("Failed to clear rejected credential", logging.ErrorField(err))
	}
	c.transition(StateUnauthenticated, nil)
	logger.WithError(cause).Warn("Session rejected after reconnect; credential cleared")
}

// OnChange registers l and returns a function that removes it. Listeners
// run synchronously in registration order and must not call Login or
// Logout.
func (c *Coordinator) OnChange(l Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Coordinator) transition(state State, identity *Identity) {
	c.mu.Lock()
	c.state = state
	c.identity = identity.clone()
	if state == StateAuthenticating {
		if c.settled == nil {
			c.settled = make(chan struct{})
		}
	} else if c.settled != nil {
		close(c.settled)
		c.settled = nil
	}

	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, c.listeners[id])
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(state, identity.clone())
	}
}
