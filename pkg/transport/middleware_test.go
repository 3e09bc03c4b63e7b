package transport

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/observability"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
)

// fakeTransport answers calls from a script and counts them.
type fakeTransport struct {
	mu       sync.Mutex
	invokes  int
	auths    int
	failures int
	failWith error
	session  *protocol.AuthResult
}

func (f *fakeTransport) Kind() Kind                      { return KindREST }
func (f *fakeTransport) Connect(ctx context.Context) error { return nil }
func (f *fakeTransport) Close(ctx context.Context) error   { return nil }

func (f *fakeTransport) Authenticate(ctx context.Context, payload protocol.AuthPayload) (*protocol.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auths++
	if f.failures > 0 {
		f.failures--
		return nil, f.failWith
	}
	f.session = &protocol.AuthResult{AccessToken: "token", User: json.RawMessage(`{"id":"1"}`), AuthType: payload.Strategy()}
	return copySession(f.session), nil
}

func (f *fakeTransport) Invoke(ctx context.Context, call *protocol.Call) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invokes++
	if f.failures > 0 {
		f.failures--
		return nil, f.failWith
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (f *fakeTransport) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = nil
	return nil
}

func (f *fakeTransport) Session() *protocol.AuthResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copySession(f.session)
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invokes
}

func reliabilityConfig(retries int) ReliabilityConfig {
	config := DefaultTransportConfig(KindREST).Reliability
	config.MaxRetries = retries
	config.InitialRetryDelay = time.Millisecond
	config.MaxRetryDelay = 5 * time.Millisecond
	return config
}

func TestChainMiddlewareOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return MiddlewareFunc(func(next Transport) Transport {
			order = append(order, name)
			return next
		})
	}

	ChainMiddleware(tag("outer"), tag("middle"), tag("inner")).Wrap(&fakeTransport{})
	assert.Equal(t, []string{"inner", "middle", "outer"}, order)
}

func TestReliabilityRetriesReadsOnly(t *testing.T) {
	ctx := testContext(t)
	lost := svcerrors.ConnectionLost("socket", "ws://localhost/ws", nil)

	t.Run("find is retried", func(t *testing.T) {
		fake := &fakeTransport{failures: 2, failWith: lost}
		tr := NewReliabilityMiddleware(reliabilityConfig(3), nil).Wrap(fake)

		raw, err := tr.Invoke(ctx, &protocol.Call{Service: "messages", Method: protocol.OpFind})
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(raw))
		assert.Equal(t, 3, fake.calls())
	})

	t.Run("create is not retried", func(t *testing.T) {
		fake := &fakeTransport{failures: 2, failWith: lost}
		tr := NewReliabilityMiddleware(reliabilityConfig(3), nil).Wrap(fake)

		_, err := tr.Invoke(ctx, createMessage("once"))
		assert.True(t, svcerrors.IsCode(err, svcerrors.CodeConnectionLost))
		assert.Equal(t, 1, fake.calls())
	})

	t.Run("server errors are not retried", func(t *testing.T) {
		fake := &fakeTransport{failures: 2, failWith: svcerrors.NotFound("messages", "1")}
		tr := NewReliabilityMiddleware(reliabilityConfig(3), nil).Wrap(fake)

		_, err := tr.Invoke(ctx, &protocol.Call{Service: "messages", Method: protocol.OpGet, ID: "1"})
		assert.True(t, svcerrors.IsNotFound(err))
		assert.Equal(t, 1, fake.calls())
	})

	t.Run("retries run out", func(t *testing.T) {
		fake := &fakeTransport{failures: 10, failWith: lost}
		tr := NewReliabilityMiddleware(reliabilityConfig(2), nil).Wrap(fake)

		_, err := tr.Invoke(ctx, &protocol.Call{Service: "messages", Method: protocol.OpGet, ID: "1"})
		assert.True(t, svcerrors.IsCode(err, svcerrors.CodeConnectionLost))
		assert.Equal(t, 3, fake.calls())
	})
}

func TestReliabilityCircuitBreaker(t *testing.T) {
	ctx := testContext(t)
	config := reliabilityConfig(0)
	config.CircuitBreaker = CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          50 * time.Millisecond,
	}
	fake := &fakeTransport{failures: 2, failWith: svcerrors.ConnectionFailed("rest", "http://localhost", nil)}
	tr := NewReliabilityMiddleware(config, nil).Wrap(fake)
	find := &protocol.Call{Service: "messages", Method: protocol.OpFind}

	for i := 0; i < 2; i++ {
		_, err := tr.Invoke(ctx, find)
		require.Error(t, err)
	}

	_, err := tr.Invoke(ctx, find)
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeCircuitOpen))
	_, err = tr.Authenticate(ctx, localLogin())
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeCircuitOpen))
	assert.Equal(t, 2, fake.calls())

	time.Sleep(60 * time.Millisecond)
	_, err = tr.Invoke(ctx, find)
	require.NoError(t, err)
	_, err = tr.Invoke(ctx, find)
	require.NoError(t, err)
}

func TestBackoffIsBounded(t *testing.T) {
	rt := &reliabilityTransport{middleware: &ReliabilityMiddleware{config: ReliabilityConfig{
		InitialRetryDelay:  100 * time.Millisecond,
		MaxRetryDelay:      300 * time.Millisecond,
		RetryBackoffFactor: 2,
	}}}

	first := rt.calculateBackoff(1)
	assert.InDelta(t, float64(100*time.Millisecond), float64(first), float64(10*time.Millisecond))
	capped := rt.calculateBackoff(10)
	assert.LessOrEqual(t, capped, 330*time.Millisecond)
}

func TestRateLimitMiddleware(t *testing.T) {
	fake := &fakeTransport{}
	tr := NewRateLimitMiddleware(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}).Wrap(fake)
	find := &protocol.Call{Service: "messages", Method: protocol.OpFind}

	_, err := tr.Invoke(context.Background(), find)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = tr.Invoke(ctx, find)
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeTooManyRequests))
	assert.Equal(t, 1, fake.calls())
}

func TestObservabilityMiddlewareRecordsCalls(t *testing.T) {
	ctx := testContext(t)
	sink := observability.NewMemorySink()
	layer := observability.NewLayer(sink, nil).ForTransport("rest")
	fake := &fakeTransport{}
	tr := NewObservabilityMiddleware(layer).Wrap(fake)

	_, err := tr.Authenticate(ctx, localLogin())
	require.NoError(t, err)
	_, err = tr.Invoke(ctx, &protocol.Call{Service: "messages", Method: protocol.OpGet, ID: "7"})
	require.NoError(t, err)
	require.NoError(t, tr.Logout(ctx))

	before := sink.Kind(observability.KindBefore)
	after := sink.Kind(observability.KindAfter)
	require.Len(t, before, 3)
	require.Len(t, after, 3)

	auth := before[0]
	assert.Equal(t, protocol.AuthenticationPath, auth.Service)
	assert.Equal(t, protocol.OpCreate, auth.Operation)
	assert.Contains(t, string(auth.Payload), testEmail)
	assert.False(t, strings.Contains(string(auth.Payload), testPassword), "password leaked into record")
	assert.NotContains(t, string(after[0].Payload), "token")

	assert.Equal(t, "messages", before[1].Service)
	assert.JSONEq(t, `{"id":"7"}`, string(before[1].Payload))
	assert.Equal(t, before[1].CallID, after[1].CallID)
	assert.Equal(t, "rest", after[1].Transport)

	assert.Equal(t, protocol.OpRemove, before[2].Operation)
}

func TestObservabilityRecordsErrorCategory(t *testing.T) {
	sink := observability.NewMemorySink()
	fake := &fakeTransport{failures: 1, failWith: svcerrors.AuthRejected("nope")}
	tr := NewObservabilityMiddleware(observability.NewLayer(sink, nil)).Wrap(fake)

	_, err := tr.Invoke(context.Background(), &protocol.Call{Service: "messages", Method: protocol.OpFind})
	require.Error(t, err)

	after := sink.Kind(observability.KindAfter)
	require.Len(t, after, 1)
	assert.Equal(t, svcerrors.CategoryAuthRejected, after[0].ErrorCategory)
	assert.Empty(t, after[0].Payload)
}

func TestAsEventSourceThroughMiddleware(t *testing.T) {
	ctx := testContext(t)
	_, url := newMemserver(t)
	sink := observability.NewMemorySink()

	config := testConfig(KindSocket, url, sink)
	config.Features.EnableReliability = true
	config.Features.EnableRateLimiting = true
	tr, err := NewTransport(config)
	require.NoError(t, err)
	defer tr.Close(context.Background())

	_, isSocket := tr.(*SocketTransport)
	assert.False(t, isSocket, "expected middleware around the socket transport")

	es, ok := AsEventSource(tr)
	require.True(t, ok)

	require.NoError(t, tr.Connect(ctx))
	_, err = tr.Authenticate(ctx, localLogin())
	require.NoError(t, err)

	got := make(chan struct{}, 1)
	defer es.On("messages", protocol.EventCreated, func(json.RawMessage) { got <- struct{}{} })()

	_, err = tr.Invoke(ctx, createMessage("through the chain"))
	require.NoError(t, err)
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered through middleware")
	}
	assert.NotEmpty(t, sink.Kind(observability.KindBefore))

	rest, err := NewTransport(testConfig(KindREST, url, nil))
	require.NoError(t, err)
	_, ok = AsEventSource(rest)
	assert.False(t, ok)

	_, ok = AsSessionWatcher(tr)
	assert.True(t, ok)
	_, ok = AsSessionWatcher(rest)
	assert.False(t, ok)
}
