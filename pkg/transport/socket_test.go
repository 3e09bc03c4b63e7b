package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/observability"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
)

func TestSocketURL(t *testing.T) {
	tests := []struct {
		endpoint, path, want string
	}{
		{"http://localhost:3030", "/ws", "ws://localhost:3030/ws"},
		{"https://api.example.com/", "socket", "wss://api.example.com/socket"},
		{"https://api.example.com/v1", "", "wss://api.example.com/v1/ws"},
	}
	for _, tt := range tests {
		got, err := socketURL(tt.endpoint, tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestSocketConnectAuthenticateInvoke(t *testing.T) {
	ctx := testContext(t)
	_, url := newMemserver(t)
	sink := observability.NewMemorySink()
	st := newTestSocket(t, testConfig(KindSocket, url, sink))

	require.NoError(t, st.Connect(ctx))
	assert.True(t, st.Connected())
	require.True(t, sink.WaitEvent(time.Second, observability.EventConnect))
	connects := sink.Kind(observability.KindLifecycle)
	assert.NotEmpty(t, connects[0].SessionID)

	// Connect on a live transport is a no-op
	require.NoError(t, st.Connect(ctx))

	result, err := st.Authenticate(ctx, localLogin())
	require.NoError(t, err)
	assert.Equal(t, protocol.StrategyLocal, result.AuthType)

	raw, err := st.Invoke(ctx, createMessage("over the socket"))
	require.NoError(t, err)
	id, _ := decodeRecord(t, raw)["id"].(string)
	require.NotEmpty(t, id)

	_, err = st.Invoke(ctx, &protocol.Call{Service: "messages", Method: protocol.OpGet, ID: "missing"})
	assert.True(t, svcerrors.IsNotFound(err))

	frames := sink.Kind(observability.KindFrame)
	assert.NotEmpty(t, frames)
	assert.Equal(t, observability.Incoming, frames[0].Direction)
}

func TestSocketInvokeBeforeConnectFailsFast(t *testing.T) {
	ctx := testContext(t)
	_, url := newMemserver(t)
	st := newTestSocket(t, testConfig(KindSocket, url, nil))

	_, err := st.Invoke(ctx, &protocol.Call{Service: "messages", Method: protocol.OpFind})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeConnectionFailed))
	assert.Equal(t, 0, queued(st))
}

func TestSocketEvents(t *testing.T) {
	ctx := testContext(t)
	_, url := newMemserver(t)
	st := newTestSocket(t, testConfig(KindSocket, url, nil))
	require.NoError(t, st.Connect(ctx))
	_, err := st.Authenticate(ctx, localLogin())
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []string
	)
	got := make(chan json.RawMessage, 4)
	unsubscribe := st.On("messages", protocol.EventCreated, func(data json.RawMessage) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		got <- data
	})
	st.On("/messages/", protocol.EventCreated, func(json.RawMessage) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	})
	st.On("messages", protocol.EventCreated, func(json.RawMessage) { panic("handler bug") })

	_, err = st.Invoke(ctx, createMessage("evented"))
	require.NoError(t, err)

	select {
	case data := <-got:
		assert.Equal(t, "evented", decodeRecord(t, data)["text"])
	case <-time.After(2 * time.Second):
		t.Fatal("created event not delivered")
	}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"first", "second"}, order)
	mu.Unlock()

	unsubscribe()
	unsubscribe()
	_, err = st.Invoke(ctx, createMessage("silent"))
	require.NoError(t, err)
	select {
	case <-got:
		t.Fatal("handler called after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSocketReconnectReauthenticatesAndFlushesInOrder(t *testing.T) {
	ctx := testContext(t)
	srv, url := newMemserver(t)
	sink := observability.NewMemorySink()
	st := newTestSocket(t, testConfig(KindSocket, url, sink))

	require.NoError(t, st.Connect(ctx))
	_, err := st.Authenticate(ctx, localLogin())
	require.NoError(t, err)

	srv.SetAccepting(false)
	require.Equal(t, 1, srv.DropConnections())
	require.True(t, sink.Wait(2*time.Second, func(r observability.Record) bool {
		return r.Kind == observability.KindLifecycle && r.Event == observability.EventDisconnect
	}))
	disconnect := sink.Kind(observability.KindLifecycle)
	last := disconnect[len(disconnect)-1]
	assert.Equal(t, ReasonTransportClose, last.Reason)
	assert.False(t, last.Clean)
	assert.False(t, st.Connected())

	const n = 3
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = st.Invoke(ctx, createMessage(fmt.Sprintf("queued-%d", i)))
		}()
		require.Eventually(t, func() bool { return queued(st) == i+1 }, time.Second, 5*time.Millisecond)
	}

	srv.SetAccepting(true)
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	records := srv.Records("messages")
	require.Len(t, records, n)
	for i, r := range records {
		assert.Equal(t, fmt.Sprintf("queued-%d", i), r["text"])
	}

	events := sink.Events()
	assert.Contains(t, events, observability.EventReconnectAttempt)
	assert.Contains(t, events, observability.EventReconnect)
	assert.NotNil(t, st.Session())
}

func TestSocketRejectedReauthenticationReportsSessionLost(t *testing.T) {
	ctx := testContext(t)
	srv, url := newMemserver(t)
	st := newTestSocket(t, testConfig(KindSocket, url, nil))
	require.NoError(t, st.Connect(ctx))
	session, err := st.Authenticate(ctx, localLogin())
	require.NoError(t, err)

	type loss struct {
		token string
		err   error
	}
	lost := make(chan loss, 1)
	w, ok := AsSessionWatcher(st)
	require.True(t, ok)
	defer w.OnSessionLost(func(token string, err error) { lost <- loss{token, err} })()

	require.NoError(t, srv.RevokeToken(session.AccessToken))
	require.Equal(t, 1, srv.DropConnections())

	select {
	case l := <-lost:
		assert.Equal(t, session.AccessToken, l.token)
		assert.True(t, svcerrors.IsAuthRejected(l.err))
	case <-time.After(2 * time.Second):
		t.Fatal("session loss was not reported")
	}
	assert.Nil(t, st.Session())

	require.Eventually(t, st.Connected, time.Second, 5*time.Millisecond)
	_, err = st.Invoke(ctx, &protocol.Call{Service: "messages", Method: protocol.OpFind})
	assert.True(t, svcerrors.IsAuthRejected(err))
}

func TestSocketReleaseFailsCallsThatDoNotFit(t *testing.T) {
	st, err := NewSocketTransport(testConfig(KindSocket, "http://localhost:3030", nil))
	require.NoError(t, err)

	calls := make([]*pendingCall, 3)
	for i := range calls {
		calls[i], err = st.newPending(createMessage(fmt.Sprintf("queued-%d", i)))
		require.NoError(t, err)
	}
	c := &connection{outbox: make(chan *pendingCall, 1)}
	st.mu.Lock()
	st.conn = c
	st.queue = append([]*pendingCall(nil), calls...)
	st.mu.Unlock()

	st.release(c)

	require.Len(t, c.outbox, 1)
	assert.Same(t, calls[0], <-c.outbox)
	for _, pc := range calls[1:] {
		select {
		case res := <-pc.done:
			assert.True(t, svcerrors.IsCode(res.err, svcerrors.CodeUnavailable))
		default:
			t.Fatalf("call %d was neither written nor failed", pc.id)
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.True(t, st.ready)
	assert.Empty(t, st.queue)
	assert.Len(t, st.inflight, 1)
}

func TestSocketReconnectBudgetExhausted(t *testing.T) {
	ctx := testContext(t)
	srv, url := newMemserver(t)
	sink := observability.NewMemorySink()
	config := testConfig(KindSocket, url, sink)
	config.Streaming.ReconnectAttempts = 2
	config.Streaming.ReconnectDelay = 150 * time.Millisecond
	st := newTestSocket(t, config)

	require.NoError(t, st.Connect(ctx))
	_, err := st.Authenticate(ctx, localLogin())
	require.NoError(t, err)

	srv.SetAccepting(false)
	srv.DropConnections()
	require.True(t, sink.WaitEvent(2*time.Second, observability.EventDisconnect))

	// Queued while reconnecting, failed once the budget runs out
	queuedErr := make(chan error, 1)
	go func() {
		_, err := st.Invoke(ctx, &protocol.Call{Service: "messages", Method: protocol.OpFind})
		queuedErr <- err
	}()

	require.True(t, sink.WaitEvent(3*time.Second, observability.EventReconnectFailed))
	select {
	case err := <-queuedErr:
		assert.True(t, svcerrors.IsCode(err, svcerrors.CodeReconnectFailed))
		assert.True(t, svcerrors.IsTransportUnavailable(err))
	case <-time.After(time.Second):
		t.Fatal("queued call was not failed")
	}

	attempts := 0
	for _, e := range sink.Events() {
		if e == observability.EventReconnectAttempt {
			attempts++
		}
	}
	assert.Equal(t, 2, attempts)

	// New calls fail fast
	start := time.Now()
	_, err = st.Invoke(ctx, &protocol.Call{Service: "messages", Method: protocol.OpFind})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeReconnectFailed))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// An explicit Connect starts over and restores the session
	srv.SetAccepting(true)
	require.NoError(t, st.Connect(ctx))
	_, err = st.Invoke(ctx, &protocol.Call{Service: "messages", Method: protocol.OpFind})
	require.NoError(t, err)
}

func TestSocketFailedFirstConnectKeepsTrying(t *testing.T) {
	ctx := testContext(t)
	srv, url := newMemserver(t)
	sink := observability.NewMemorySink()
	st := newTestSocket(t, testConfig(KindSocket, url, sink))

	srv.SetAccepting(false)
	err := st.Connect(ctx)
	require.Error(t, err)
	assert.True(t, svcerrors.IsTransportUnavailable(err))
	assert.Contains(t, sink.Events(), observability.EventConnectError)

	srv.SetAccepting(true)
	require.True(t, sink.WaitEvent(3*time.Second, observability.EventReconnect))
	assert.Eventually(t, st.Connected, time.Second, 10*time.Millisecond)
}

func TestSocketWrittenCallsFailWhenConnectionDrops(t *testing.T) {
	ctx := testContext(t)
	received := make(chan struct{}, 1)
	url := newStubSocketServer(t, func(ws *websocket.Conn) {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		received <- struct{}{}
		// Drop without answering
		_ = ws.UnderlyingConn().Close()
	})

	config := testConfig(KindSocket, url, nil)
	config.Streaming.ReconnectAttempts = 0
	st := newTestSocket(t, config)
	require.NoError(t, st.Connect(ctx))

	_, err := st.Invoke(ctx, createMessage("maybe delivered"))
	<-received
	require.Error(t, err)
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeConnectionLost))
	assert.Equal(t, 0, queued(st))
}

func TestSocketInvokeTimeout(t *testing.T) {
	ctx := testContext(t)
	url := newStubSocketServer(t, func(ws *websocket.Conn) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	config := testConfig(KindSocket, url, nil)
	config.Streaming.InvokeTimeout = 100 * time.Millisecond
	st := newTestSocket(t, config)
	require.NoError(t, st.Connect(ctx))

	_, err := st.Invoke(ctx, &protocol.Call{Service: "messages", Method: protocol.OpFind})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeConnectionTimeout))

	st.mu.Lock()
	inflight := len(st.inflight)
	st.mu.Unlock()
	assert.Equal(t, 0, inflight)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = st.Invoke(cancelled, &protocol.Call{Service: "messages", Method: protocol.OpFind})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSocketCloseReasons(t *testing.T) {
	t.Run("client", func(t *testing.T) {
		ctx := testContext(t)
		_, url := newMemserver(t)
		sink := observability.NewMemorySink()
		st := newTestSocket(t, testConfig(KindSocket, url, sink))
		require.NoError(t, st.Connect(ctx))
		_, err := st.Authenticate(ctx, localLogin())
		require.NoError(t, err)

		require.NoError(t, st.Close(ctx))
		require.True(t, sink.WaitEvent(time.Second, observability.EventDisconnect))
		last := sink.Kind(observability.KindLifecycle)
		ev := last[len(last)-1]
		assert.Equal(t, ReasonClientDisconnect, ev.Reason)
		assert.True(t, ev.Clean)
		assert.Nil(t, st.Session())

		_, err = st.Invoke(ctx, &protocol.Call{Service: "messages", Method: protocol.OpFind})
		assert.True(t, svcerrors.IsCode(err, svcerrors.CodeTransportClosed))
		assert.True(t, svcerrors.IsCode(st.Connect(ctx), svcerrors.CodeTransportClosed))
	})

	t.Run("server", func(t *testing.T) {
		ctx := testContext(t)
		srv, url := newMemserver(t)
		sink := observability.NewMemorySink()
		config := testConfig(KindSocket, url, sink)
		config.Streaming.ReconnectAttempts = 0
		st := newTestSocket(t, config)
		require.NoError(t, st.Connect(ctx))

		srv.Close()
		require.True(t, sink.WaitEvent(2*time.Second, observability.EventDisconnect))
		var ev observability.Record
		for _, r := range sink.Kind(observability.KindLifecycle) {
			if r.Event == observability.EventDisconnect {
				ev = r
			}
		}
		assert.Equal(t, ReasonServerDisconnect, ev.Reason)
		assert.True(t, ev.Clean)
	})
}

func TestSocketLogout(t *testing.T) {
	ctx := testContext(t)
	srv, url := newMemserver(t)
	st := newTestSocket(t, testConfig(KindSocket, url, nil))
	require.NoError(t, st.Connect(ctx))

	// Without a session there is nothing to end
	require.NoError(t, st.Logout(ctx))

	_, err := st.Authenticate(ctx, localLogin())
	require.NoError(t, err)
	require.NoError(t, st.Logout(ctx))
	assert.Nil(t, st.Session())

	_, err = st.Invoke(ctx, &protocol.Call{Service: "messages", Method: protocol.OpFind})
	assert.True(t, svcerrors.IsAuthRejected(err))

	// Logging out while disconnected still drops the local session
	_, err = st.Authenticate(ctx, localLogin())
	require.NoError(t, err)
	srv.SetAccepting(false)
	srv.DropConnections()
	require.Eventually(t, func() bool { return !st.Connected() }, time.Second, 5*time.Millisecond)
	err = st.Logout(ctx)
	assert.True(t, svcerrors.IsTransportUnavailable(err))
	assert.Nil(t, st.Session())
}
