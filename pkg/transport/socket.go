package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/logging"
	"github.com/ajitpratap0/feathers-client-go/pkg/observability"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
)

// Disconnect reasons reported with the disconnect event.
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonServerDisconnect = "io server disconnect"
	ReasonTransportClose   = "transport close"
)

var errNotConnected = errors.New("socket transport is not connected; call Connect first")

type socketState int

const (
	socketIdle socketState = iota
	socketConnecting
	socketConnected
	socketReconnecting
	socketFailed
	socketClosed
)

func (s socketState) String() string {
	switch s {
	case socketIdle:
		return "idle"
	case socketConnecting:
		return "connecting"
	case socketConnected:
		return "connected"
	case socketReconnecting:
		return "reconnecting"
	case socketFailed:
		return "failed"
	case socketClosed:
		return "closed"
	}
	return "unknown"
}

type callResult struct {
	result json.RawMessage
	err    error
}

// pendingCall is one call frame waiting to be written or answered.
type pendingCall struct {
	id        uint64
	method    protocol.Operation
	service   string
	data      []byte
	done      chan callResult
	written   atomic.Bool
	abandoned atomic.Bool
}

func (pc *pendingCall) finish(res callResult) {
	select {
	case pc.done <- res:
	default:
	}
}

// connection is one live WebSocket and its outbound queue.
type connection struct {
	ws     *websocket.Conn
	sid    string
	outbox chan *pendingCall
}

// SocketTransport keeps one WebSocket open to the server and multiplexes
// calls over it. While disconnected, calls are queued in submission order
// and flushed once the connection returns and the session has been
// re-established. When the reconnect budget runs out, queued calls fail and
// new calls fail fast until Connect is called again.
type SocketTransport struct {
	config   TransportConfig
	endpoint string
	dialer   *websocket.Dialer
	logger   logging.Logger
	layer    *observability.Layer

	lifetime context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	nextID   atomic.Uint64

	mu       sync.Mutex
	state    socketState
	changed  chan struct{}
	conn     *connection
	ready    bool
	session  *protocol.AuthResult
	queue    []*pendingCall
	inflight map[uint64]*pendingCall
	subs     map[string]map[uint64]EventHandler
	lost     map[uint64]SessionLostHandler
	nextSub  uint64
}

// NewSocketTransport creates a socket transport. No connection is opened
// until Connect.
func NewSocketTransport(config TransportConfig) (*SocketTransport, error) {
	config.Kind = KindSocket
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	endpoint, err := socketURL(config.Endpoint, config.SocketPath)
	if err != nil {
		return nil, err
	}

	dialer := config.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: config.Streaming.ConnectTimeout,
		}
	}

	lifetime, stop := context.WithCancel(context.Background())
	return &SocketTransport{
		config:   config,
		endpoint: endpoint,
		dialer:   dialer,
		logger:   loggerFor(config),
		layer:    config.Layer.ForTransport(string(KindSocket)),
		lifetime: lifetime,
		stop:     stop,
		changed:  make(chan struct{}),
		inflight: make(map[uint64]*pendingCall),
		subs:     make(map[string]map[uint64]EventHandler),
		lost:     make(map[uint64]SessionLostHandler),
	}, nil
}

// socketURL turns the http(s) base endpoint into the ws(s) upgrade URL.
func socketURL(endpoint, path string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", svcerrors.ValidationFailed(fmt.Sprintf("invalid endpoint %q", endpoint), nil)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", svcerrors.ValidationFailed(fmt.Sprintf("endpoint %q must use http or https", endpoint), nil)
	}
	if path == "" {
		path = "/ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = ""
	return u.String(), nil
}

func (t *SocketTransport) Kind() Kind { return KindSocket }

// Endpoint returns the WebSocket URL the transport dials.
func (t *SocketTransport) Endpoint() string { return t.endpoint }

// Connected reports whether a connection is live and ready for calls.
func (t *SocketTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == socketConnected && t.ready
}

// setState must be called with t.mu held.
func (t *SocketTransport) setState(s socketState) {
	if t.state == s {
		return
	}
	t.logger.Debug("Socket state changed",
		logging.String("from", t.state.String()),
		logging.String("to", s.String()),
	)
	t.state = s
	close(t.changed)
	t.changed = make(chan struct{})
}

// Connect opens a fresh connection. It never resumes an earlier session id.
// If the first dial fails the error is returned and reconnection continues
// in the background under the configured budget. Connect after the budget
// was exhausted starts over.
func (t *SocketTransport) Connect(ctx context.Context) error {
	for {
		t.mu.Lock()
		switch t.state {
		case socketClosed:
			t.mu.Unlock()
			return svcerrors.TransportClosed(string(KindSocket))
		case socketConnected:
			t.mu.Unlock()
			return nil
		case socketConnecting, socketReconnecting:
			changed := t.changed
			t.mu.Unlock()
			select {
			case <-changed:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		t.setState(socketConnecting)
		t.mu.Unlock()
		break
	}

	ws, sid, err := t.dial(ctx)
	if err != nil {
		t.lifecycle(observability.LifecycleEvent{Name: observability.EventConnectError, Message: err.Error()})

		t.mu.Lock()
		if t.state == socketClosed {
			t.mu.Unlock()
			return svcerrors.TransportClosed(string(KindSocket))
		}
		t.setState(socketReconnecting)
		t.mu.Unlock()

		t.startReconnect()
		return err
	}

	return t.establish(ws, sid, 0)
}

// dial opens the WebSocket and waits for the welcome frame.
func (t *SocketTransport) dial(ctx context.Context) (*websocket.Conn, string, error) {
	timeout := t.config.Streaming.ConnectTimeout
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ws, resp, err := t.dialer.DialContext(ctx, t.endpoint, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, "", svcerrors.ConnectionTimeout(string(KindSocket), "connect", timeout)
		}
		if resp != nil {
			err = fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, "", svcerrors.ConnectionFailed(string(KindSocket), t.endpoint, err)
	}

	if t.config.Streaming.MaxFrameSize > 0 {
		ws.SetReadLimit(t.config.Streaming.MaxFrameSize)
	}

	deadline, _ := ctx.Deadline()
	_ = ws.SetReadDeadline(deadline)
	_, data, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return nil, "", svcerrors.ConnectionFailed(string(KindSocket), t.endpoint, fmt.Errorf("no welcome frame: %w", err))
	}
	t.layer.Frame(observability.Incoming, data)

	var welcome protocol.Frame
	if err := json.Unmarshal(data, &welcome); err != nil || welcome.Type != protocol.FrameWelcome {
		ws.Close()
		return nil, "", svcerrors.ConnectionFailed(string(KindSocket), t.endpoint, errors.New("first frame was not a welcome"))
	}
	_ = ws.SetReadDeadline(time.Time{})

	return ws, welcome.SID, nil
}

// establish installs a freshly dialed connection, re-authenticates if a
// session exists, then releases the queue.
func (t *SocketTransport) establish(ws *websocket.Conn, sid string, attempt int) error {
	t.mu.Lock()
	if t.state == socketClosed {
		t.mu.Unlock()
		ws.Close()
		return svcerrors.TransportClosed(string(KindSocket))
	}
	c := &connection{
		ws:     ws,
		sid:    sid,
		outbox: make(chan *pendingCall, t.config.Streaming.QueueSize),
	}
	t.conn = c
	t.ready = false
	t.setState(socketConnected)
	session := copySession(t.session)
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.serve(c)
	}()

	if attempt > 0 {
		t.lifecycle(observability.LifecycleEvent{Name: observability.EventReconnect, Attempt: attempt, SessionID: sid})
	}
	t.lifecycle(observability.LifecycleEvent{Name: observability.EventConnect, SessionID: sid})

	if session != nil && session.AccessToken != "" {
		t.reauthenticate(c, session)
	}

	t.release(c)
	return nil
}

// reauthenticate presents the session's token on a new connection before any
// queued call is written.
func (t *SocketTransport) reauthenticate(c *connection, session *protocol.AuthResult) {
	body, err := protocol.MarshalAuthPayload(protocol.JWTPayload{AccessToken: session.AccessToken})
	if err != nil {
		return
	}
	pc, err := t.newPending(&protocol.Call{
		Service: protocol.AuthenticationPath,
		Method:  protocol.OpCreate,
		Data:    json.RawMessage(body),
	})
	if err != nil {
		return
	}

	t.mu.Lock()
	if t.conn != c {
		t.mu.Unlock()
		return
	}
	t.inflight[pc.id] = pc
	select {
	case c.outbox <- pc:
	default:
		delete(t.inflight, pc.id)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	raw, err := t.await(context.Background(), pc)
	if err != nil {
		t.logger.Warn("Re-authentication after reconnect failed", logging.ErrorField(err))
		t.lifecycle(observability.LifecycleEvent{Name: observability.EventError, Message: "re-authentication failed: " + err.Error()})
		if svcerrors.IsAuthRejected(err) {
			t.sessionLost(session.AccessToken, err)
		}
		return
	}

	result, err := decodeAuthResult(raw)
	if err != nil {
		return
	}
	if result.AuthType == "" {
		result.AuthType = session.AuthType
	}
	t.mu.Lock()
	t.session = result
	t.mu.Unlock()
	t.logger.Debug("Re-authenticated after reconnect")
}

// sessionLost drops the session if it still holds token and tells the
// watchers. A Login that replaced the session in the meantime wins.
func (t *SocketTransport) sessionLost(token string, cause error) {
	t.mu.Lock()
	if t.session == nil || t.session.AccessToken != token {
		t.mu.Unlock()
		return
	}
	t.session = nil
	ids := make([]uint64, 0, len(t.lost))
	for id := range t.lost {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]SessionLostHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, t.lost[id])
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h(token, cause)
	}
}

// OnSessionLost registers handler for sessions the server rejects on
// reconnect.
func (t *SocketTransport) OnSessionLost(handler SessionLostHandler) func() {
	t.mu.Lock()
	t.nextSub++
	id := t.nextSub
	t.lost[id] = handler
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.lost, id)
		t.mu.Unlock()
	}
}

// release marks c ready and moves the queue onto it in order.
func (t *SocketTransport) release(c *connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != c {
		return
	}
	t.ready = true
	queue := t.queue
	t.queue = nil
	for i, pc := range queue {
		t.inflight[pc.id] = pc
		select {
		case c.outbox <- pc:
		default:
			// outbox and queue share one bound, so this only happens if
			// the outbox was filled concurrently
			delete(t.inflight, pc.id)
			rest := queue[i:]
			err := svcerrors.NewErrorf(svcerrors.CodeUnavailable,
				"socket outbox is full (%d calls)", t.config.Streaming.QueueSize)
			for _, left := range rest {
				left.finish(callResult{err: err})
			}
			t.logger.Warn("Outbox full while flushing queue",
				logging.Int("flushed", i), logging.Int("failed", len(rest)))
			return
		}
	}
	if len(queue) > 0 {
		t.logger.Debug("Flushed queued calls", logging.Int("count", len(queue)))
	}
}

// serve runs the reader and writer of one connection until it dies.
func (t *SocketTransport) serve(c *connection) {
	g, ctx := errgroup.WithContext(t.lifetime)

	g.Go(func() error { return t.readLoop(c) })
	g.Go(func() error { return t.writeLoop(ctx, c) })
	g.Go(func() error {
		<-ctx.Done()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return c.ws.Close()
	})

	err := g.Wait()
	t.connectionLost(c, err)
}

func (t *SocketTransport) readLoop(c *connection) error {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		t.layer.Frame(observability.Incoming, data)

		var f protocol.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.logger.Warn("Dropping malformed frame", logging.ErrorField(err))
			continue
		}

		switch f.Type {
		case protocol.FrameResult:
			t.resolve(&f)
		case protocol.FrameEvent:
			t.dispatch(&f)
		default:
			t.logger.Debug("Ignoring frame", logging.String("type", string(f.Type)))
		}
	}
}

func (t *SocketTransport) writeLoop(ctx context.Context, c *connection) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case pc := <-c.outbox:
			if pc.abandoned.Load() {
				continue
			}
			// Marked before the write: a call that may have reached the
			// server is never re-sent.
			pc.written.Store(true)
			_ = c.ws.SetWriteDeadline(time.Now().Add(t.config.Streaming.ConnectTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, pc.data); err != nil {
				return err
			}
			t.layer.Frame(observability.Outgoing, pc.data)
		}
	}
}

func (t *SocketTransport) resolve(f *protocol.Frame) {
	t.mu.Lock()
	pc, ok := t.inflight[f.ID]
	delete(t.inflight, f.ID)
	t.mu.Unlock()

	if !ok {
		t.logger.Debug("Result for unknown call", logging.Int64("id", int64(f.ID)))
		return
	}
	if f.Error != nil {
		pc.finish(callResult{err: svcerrors.FromWire(f.Error)})
		return
	}
	result := f.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	pc.finish(callResult{result: result})
}

// connectionLost fails written calls, requeues unwritten ones and starts
// reconnecting unless the transport was closed.
func (t *SocketTransport) connectionLost(c *connection, cause error) {
	t.mu.Lock()
	if t.conn != c {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.ready = false

	var lost, requeue []*pendingCall
	for _, pc := range t.inflight {
		if pc.written.Load() {
			lost = append(lost, pc)
		} else {
			requeue = append(requeue, pc)
		}
	}
	t.inflight = make(map[uint64]*pendingCall)
	t.queue = append(requeue, t.queue...)
	sort.Slice(t.queue, func(i, j int) bool { return t.queue[i].id < t.queue[j].id })

	closing := t.state == socketClosed
	if !closing {
		t.setState(socketReconnecting)
	}
	t.mu.Unlock()

	for _, pc := range lost {
		pc.finish(callResult{err: svcerrors.ConnectionLost(string(KindSocket), t.endpoint, cause)})
	}

	reason, clean := disconnectReason(cause, closing)
	t.lifecycle(observability.LifecycleEvent{
		Name:      observability.EventDisconnect,
		SessionID: c.sid,
		Reason:    reason,
		Clean:     clean,
	})

	if !closing {
		t.startReconnect()
	}
}

func disconnectReason(err error, byClient bool) (string, bool) {
	if byClient {
		return ReasonClientDisconnect, true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return ReasonServerDisconnect, true
	}
	return ReasonTransportClose, false
}

func (t *SocketTransport) startReconnect() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.reconnectLoop()
	}()
}

func (t *SocketTransport) reconnectLoop() {
	limit := t.config.Streaming.ReconnectAttempts
	delay := t.config.Streaming.ReconnectDelay

	for attempt := 1; attempt <= limit; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-t.lifetime.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		t.lifecycle(observability.LifecycleEvent{Name: observability.EventReconnectAttempt, Attempt: attempt})

		ws, sid, err := t.dial(t.lifetime)
		if err == nil {
			_ = t.establish(ws, sid, attempt)
			return
		}
		if t.lifetime.Err() != nil {
			return
		}
		t.lifecycle(observability.LifecycleEvent{Name: observability.EventConnectError, Attempt: attempt, Message: err.Error()})
	}

	t.mu.Lock()
	if t.state == socketClosed {
		t.mu.Unlock()
		return
	}
	t.setState(socketFailed)
	queued := t.queue
	t.queue = nil
	t.mu.Unlock()

	for _, pc := range queued {
		pc.finish(callResult{err: svcerrors.ReconnectFailed(string(KindSocket), t.endpoint, limit)})
	}
	t.lifecycle(observability.LifecycleEvent{Name: observability.EventReconnectFailed, Attempt: limit})
}

func (t *SocketTransport) Authenticate(ctx context.Context, payload protocol.AuthPayload) (*protocol.AuthResult, error) {
	body, err := protocol.MarshalAuthPayload(payload)
	if err != nil {
		return nil, err
	}

	raw, err := t.roundTrip(ctx, &protocol.Call{
		Service: protocol.AuthenticationPath,
		Method:  protocol.OpCreate,
		Data:    json.RawMessage(body),
	})
	if err != nil {
		return nil, err
	}

	result, err := decodeAuthResult(raw)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.session = result
	t.mu.Unlock()

	t.logger.Debug("Authenticated", logging.String("strategy", string(payload.Strategy())))
	return copySession(result), nil
}

func (t *SocketTransport) Invoke(ctx context.Context, call *protocol.Call) (json.RawMessage, error) {
	if err := call.Validate(); err != nil {
		return nil, err
	}
	return t.roundTrip(ctx, call)
}

// Logout removes the server-side session. It does not wait for a
// connection: when none is live the local session is dropped and a
// transport error returned.
func (t *SocketTransport) Logout(ctx context.Context) error {
	t.mu.Lock()
	had := t.session != nil
	t.session = nil
	live := t.state == socketConnected && t.ready
	t.mu.Unlock()

	if !had {
		return nil
	}
	if !live {
		return svcerrors.ConnectionFailed(string(KindSocket), t.endpoint, errNotConnected)
	}

	_, err := t.roundTrip(ctx, &protocol.Call{
		Service: protocol.AuthenticationPath,
		Method:  protocol.OpRemove,
	})
	return err
}

func (t *SocketTransport) Session() *protocol.AuthResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copySession(t.session)
}

// On subscribes to a server-pushed service event.
func (t *SocketTransport) On(path, event string, handler EventHandler) func() {
	key := eventKey(path, event)

	t.mu.Lock()
	t.nextSub++
	id := t.nextSub
	if t.subs[key] == nil {
		t.subs[key] = make(map[uint64]EventHandler)
	}
	t.subs[key][id] = handler
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs[key], id)
			if len(t.subs[key]) == 0 {
				delete(t.subs, key)
			}
			t.mu.Unlock()
		})
	}
}

func eventKey(path, event string) string {
	return strings.Trim(path, "/") + " " + event
}

func (t *SocketTransport) dispatch(f *protocol.Frame) {
	key := eventKey(f.Path, f.Event)

	t.mu.Lock()
	ids := make([]uint64, 0, len(t.subs[key]))
	for id := range t.subs[key] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]EventHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, t.subs[key][id])
	}
	t.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					t.logger.Error("Event handler panicked",
						logging.String("path", f.Path),
						logging.String("event", f.Event),
						logging.Any("panic", rec),
					)
				}
			}()
			h(f.Data)
		}()
	}
}

// Close stops reconnection, fails every pending call and closes the
// connection with a normal closure.
func (t *SocketTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.state == socketClosed {
		t.mu.Unlock()
		return nil
	}
	t.setState(socketClosed)
	pending := t.queue
	for _, pc := range t.inflight {
		pending = append(pending, pc)
	}
	t.queue = nil
	t.inflight = make(map[uint64]*pendingCall)
	t.session = nil
	t.mu.Unlock()

	for _, pc := range pending {
		pc.finish(callResult{err: svcerrors.TransportClosed(string(KindSocket))})
	}

	t.stop()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *SocketTransport) newPending(call *protocol.Call) (*pendingCall, error) {
	id := t.nextID.Add(1)
	frame, err := protocol.CallFrame(id, call)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, svcerrors.ValidationFailed(fmt.Sprintf("cannot encode call frame: %v", err), nil)
	}
	return &pendingCall{
		id:      id,
		method:  call.Method,
		service: call.Service,
		data:    data,
		done:    make(chan callResult, 1),
	}, nil
}

func (t *SocketTransport) roundTrip(ctx context.Context, call *protocol.Call) (json.RawMessage, error) {
	pc, err := t.newPending(call)
	if err != nil {
		return nil, err
	}
	if err := t.submit(pc); err != nil {
		return nil, err
	}
	return t.await(ctx, pc)
}

// submit writes pc to the live connection or queues it.
func (t *SocketTransport) submit(pc *pendingCall) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case socketClosed:
		return svcerrors.TransportClosed(string(KindSocket))
	case socketFailed:
		return svcerrors.ReconnectFailed(string(KindSocket), t.endpoint, t.config.Streaming.ReconnectAttempts)
	case socketIdle:
		return svcerrors.ConnectionFailed(string(KindSocket), t.endpoint, errNotConnected)
	}

	if t.state == socketConnected && t.ready {
		t.inflight[pc.id] = pc
		select {
		case t.conn.outbox <- pc:
			return nil
		default:
			delete(t.inflight, pc.id)
			return svcerrors.NewErrorf(svcerrors.CodeUnavailable,
				"socket outbox is full (%d calls)", t.config.Streaming.QueueSize)
		}
	}

	if len(t.queue) >= t.config.Streaming.QueueSize {
		return svcerrors.NewErrorf(svcerrors.CodeUnavailable,
			"socket queue is full (%d calls)", t.config.Streaming.QueueSize)
	}
	t.queue = append(t.queue, pc)
	return nil
}

// await waits for the answer, the invoke timeout or the caller.
func (t *SocketTransport) await(ctx context.Context, pc *pendingCall) (json.RawMessage, error) {
	timeout := t.config.Streaming.InvokeTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-pc.done:
		return res.result, res.err
	case <-timer.C:
		if res, ok := t.abandon(pc); ok {
			return res.result, res.err
		}
		return nil, svcerrors.ConnectionTimeout(string(KindSocket), string(pc.method), timeout)
	case <-ctx.Done():
		if res, ok := t.abandon(pc); ok {
			return res.result, res.err
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, svcerrors.ConnectionTimeout(string(KindSocket), string(pc.method), 0)
		}
		return nil, ctx.Err()
	}
}

// abandon forgets pc. If its answer raced in, the answer is returned.
func (t *SocketTransport) abandon(pc *pendingCall) (callResult, bool) {
	pc.abandoned.Store(true)

	t.mu.Lock()
	delete(t.inflight, pc.id)
	for i, q := range t.queue {
		if q == pc {
			t.queue = append(t.queue[:i], t.queue[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	select {
	case res := <-pc.done:
		return res, true
	default:
		return callResult{}, false
	}
}

func (t *SocketTransport) lifecycle(ev observability.LifecycleEvent) {
	t.layer.Lifecycle(ev)
	if ev.Name == observability.EventConnectError || ev.Name == observability.EventReconnectFailed {
		t.logger.Warn("Socket "+ev.Name, logging.Int("attempt", ev.Attempt), logging.String("message", ev.Message))
		return
	}
	t.logger.Debug("Socket "+ev.Name, logging.String("sid", ev.SessionID), logging.Int("attempt", ev.Attempt))
}
