package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/feathers-client-go/pkg/observability"
	"github.com/ajitpratap0/feathers-client-go/pkg/utils"
)

func TestSocketCloseReleasesGoroutines(t *testing.T) {
	ctx := testContext(t)
	_, url := newMemserver(t)
	// Registered after the server so the check runs before it shuts down
	utils.VerifyNone(t)

	for i := 0; i < 5; i++ {
		st, err := NewSocketTransport(testConfig(KindSocket, url, nil))
		require.NoError(t, err)
		require.NoError(t, st.Connect(ctx))
		_, err = st.Authenticate(ctx, localLogin())
		require.NoError(t, err)
		_, err = st.Invoke(ctx, createMessage("leak check"))
		require.NoError(t, err)
		require.NoError(t, st.Close(ctx))
	}
}

func TestSocketCloseDuringReconnect(t *testing.T) {
	ctx := testContext(t)
	srv, url := newMemserver(t)
	detector := utils.NewLeakDetector(t).Start()

	sink := observability.NewMemorySink()
	config := testConfig(KindSocket, url, sink)
	config.Streaming.ReconnectDelay = 50 * time.Millisecond
	st, err := NewSocketTransport(config)
	require.NoError(t, err)
	require.NoError(t, st.Connect(ctx))

	srv.SetAccepting(false)
	srv.DropConnections()
	require.True(t, sink.WaitEvent(2*time.Second, observability.EventReconnectAttempt))

	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, st.Close(closeCtx))
	srv.SetAccepting(true)

	detector.Check()
}

func TestRESTCloseReleasesGoroutines(t *testing.T) {
	ctx := testContext(t)
	_, url := newMemserver(t)
	// The server side of a keep-alive connection may outlive the client
	detector := utils.NewLeakDetector(t).WithTolerance(1).Start()

	rt, err := NewRESTTransport(testConfig(KindREST, url, nil))
	require.NoError(t, err)
	require.NoError(t, rt.Connect(ctx))
	_, err = rt.Authenticate(ctx, localLogin())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = rt.Invoke(ctx, createMessage("leak check"))
		require.NoError(t, err)
	}
	require.NoError(t, rt.Close(ctx))

	detector.Check()
}
