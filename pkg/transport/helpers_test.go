package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/feathers-client-go/pkg/memserver"
	"github.com/ajitpratap0/feathers-client-go/pkg/observability"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
)

const (
	testEmail    = "ada@example.com"
	testPassword = "correct horse"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// newMemserver starts an in-memory server with one local user.
func newMemserver(t *testing.T) (*memserver.Server, string) {
	t.Helper()
	srv := memserver.New(memserver.Config{})
	url := srv.Start()
	t.Cleanup(srv.Close)
	_, err := srv.AddUser(testEmail, testPassword)
	require.NoError(t, err)
	return srv, url
}

func testConfig(kind Kind, url string, sink *observability.MemorySink) TransportConfig {
	config := DefaultTransportConfig(kind)
	config.Endpoint = url
	config.Connection.Timeout = 5 * time.Second
	config.Streaming.ReconnectAttempts = 100
	config.Streaming.ReconnectDelay = 20 * time.Millisecond
	config.Streaming.ConnectTimeout = 2 * time.Second
	config.Streaming.InvokeTimeout = 5 * time.Second
	if sink != nil {
		config.Layer = observability.NewLayer(sink, nil)
	}
	return config
}

func newTestSocket(t *testing.T, config TransportConfig) *SocketTransport {
	t.Helper()
	st, err := NewSocketTransport(config)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = st.Close(ctx)
	})
	return st
}

func localLogin() protocol.LocalPayload {
	return protocol.LocalPayload{Email: testEmail, Password: testPassword}
}

func createMessage(text string) *protocol.Call {
	return &protocol.Call{
		Service: "messages",
		Method:  protocol.OpCreate,
		Data:    map[string]string{"text": text},
	}
}

func decodeRecord(t *testing.T, raw json.RawMessage) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

// newStubSocketServer accepts WebSockets, sends a welcome and then hands the
// connection to handle. It lets tests control exactly when frames are
// answered.
func newStubSocketServer(t *testing.T, handle func(ws *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		if err := ws.WriteJSON(protocol.Frame{Type: protocol.FrameWelcome, SID: "stub"}); err != nil {
			return
		}
		handle(ws)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

// queued reports how many calls wait for a connection.
func queued(st *SocketTransport) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.queue)
}
