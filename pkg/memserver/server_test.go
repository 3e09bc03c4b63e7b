package memserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
)

func startServer(t *testing.T, config Config) (*Server, string) {
	t.Helper()
	s := New(config)
	url := s.Start()
	t.Cleanup(s.Close)
	return s, url
}

func doJSON(t *testing.T, method, url, token string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func login(t *testing.T, url, email, password string) string {
	t.Helper()
	status, body := doJSON(t, http.MethodPost, url+"/authentication", "", map[string]string{
		"strategy": "local",
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	var result protocol.AuthResult
	require.NoError(t, json.Unmarshal(body, &result))
	require.NotEmpty(t, result.AccessToken)
	return result.AccessToken
}

func TestRESTLocalLoginAndCRUD(t *testing.T) {
	s, url := startServer(t, Config{})
	_, err := s.AddUser("Alice@Example.com", "secret")
	require.NoError(t, err)

	token := login(t, url, "alice@example.com", "secret")

	status, body := doJSON(t, http.MethodPost, url+"/messages", token, map[string]string{"text": "hello"})
	require.Equal(t, http.StatusCreated, status, string(body))
	var created Record
	require.NoError(t, json.Unmarshal(body, &created))
	assert.NotEmpty(t, created.ID())
	assert.Equal(t, "hello", created["text"])

	status, body = doJSON(t, http.MethodPatch, url+"/messages/"+created.ID(), token, map[string]string{"read": "yes"})
	require.Equal(t, http.StatusOK, status, string(body))
	var patched Record
	require.NoError(t, json.Unmarshal(body, &patched))
	assert.Equal(t, "hello", patched["text"])
	assert.Equal(t, "yes", patched["read"])

	status, body = doJSON(t, http.MethodPut, url+"/messages/"+created.ID(), token, map[string]string{"text": "replaced"})
	require.Equal(t, http.StatusOK, status, string(body))
	var updated Record
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, "replaced", updated["text"])
	assert.NotContains(t, updated, "read")

	status, _ = doJSON(t, http.MethodGet, url+"/messages/"+created.ID(), token, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = doJSON(t, http.MethodDelete, url+"/messages/"+created.ID(), token, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = doJSON(t, http.MethodGet, url+"/messages/"+created.ID(), token, nil)
	assert.Equal(t, http.StatusNotFound, status)
	var wire svcerrors.WireError
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, "NotFound", wire.Name)
}

func TestRESTFindPaginates(t *testing.T) {
	s, url := startServer(t, Config{})
	_, err := s.AddUser("bob@example.com", "pw")
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		_, err := s.Seed("messages", Record{"n": i, "room": []string{"a", "b"}[i%2]})
		require.NoError(t, err)
	}
	token := login(t, url, "bob@example.com", "pw")

	status, body := doJSON(t, http.MethodGet, url+"/messages?$limit=10&$skip=20", token, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var page protocol.PaginatedResult[Record]
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Equal(t, 25, page.Total)
	assert.Equal(t, 10, page.Limit)
	assert.Equal(t, 20, page.Skip)
	assert.Len(t, page.Data, 5)

	status, body = doJSON(t, http.MethodGet, url+"/messages?room=a", token, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Equal(t, 13, page.Total)

	status, _ = doJSON(t, http.MethodGet, url+"/messages?$limit=-1", token, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRESTRejectsUnauthenticated(t *testing.T) {
	_, url := startServer(t, Config{})

	status, body := doJSON(t, http.MethodGet, url+"/messages", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	var wire svcerrors.WireError
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, "NotAuthenticated", wire.Name)

	status, _ = doJSON(t, http.MethodGet, url+"/messages", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = doJSON(t, http.MethodPost, url+"/authentication", "", map[string]string{
		"strategy": "local", "email": "nobody@example.com", "password": "x",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestUsersCreateIsPublicAndHidesPassword(t *testing.T) {
	s, url := startServer(t, Config{})

	status, body := doJSON(t, http.MethodPost, url+"/users", "", map[string]string{
		"email": "Carol@Example.com", "password": "pw",
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	assert.NotContains(t, string(body), "password")
	assert.Contains(t, string(body), "carol@example.com")

	status, _ = doJSON(t, http.MethodPost, url+"/users", "", map[string]string{
		"email": "carol@example.com", "password": "other",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	users := s.Records(UsersService)
	require.Len(t, users, 1)
	assert.NotContains(t, users[0], "password")

	login(t, url, "carol@example.com", "pw")
}

func TestUnknownServiceAndMethod(t *testing.T) {
	s, url := startServer(t, Config{})
	_, err := s.AddUser("dan@example.com", "pw")
	require.NoError(t, err)
	token := login(t, url, "dan@example.com", "pw")

	status, _ := doJSON(t, http.MethodGet, url+"/nope", token, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, http.MethodDelete, url+"/messages", token, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, status)

	assert.Equal(t, []string{"messages", "users"}, s.ServiceNames())
}

func TestLogoutRevokesToken(t *testing.T) {
	s, url := startServer(t, Config{})
	_, err := s.AddUser("erin@example.com", "pw")
	require.NoError(t, err)
	token := login(t, url, "erin@example.com", "pw")

	status, _ := doJSON(t, http.MethodDelete, url+"/authentication", token, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = doJSON(t, http.MethodGet, url+"/messages", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = doJSON(t, http.MethodPost, url+"/authentication", "", map[string]string{
		"strategy": "jwt", "accessToken": token,
	})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRevokeToken(t *testing.T) {
	s, url := startServer(t, Config{})
	_, err := s.AddUser("ivy@example.com", "pw")
	require.NoError(t, err)
	token := login(t, url, "ivy@example.com", "pw")

	require.NoError(t, s.RevokeToken(token))
	status, _ := doJSON(t, http.MethodGet, url+"/messages", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	err = s.RevokeToken(token)
	assert.True(t, svcerrors.IsAuthRejected(err))
	assert.True(t, svcerrors.IsAuthRejected(s.RevokeToken("not-a-token")))
}

func TestJWTHandshakeKeepsIssuer(t *testing.T) {
	_, url := startServer(t, Config{})

	status, body := doJSON(t, http.MethodPost, url+"/authentication", "", map[string]interface{}{
		"strategy":             "external-provider",
		"providerToken":        "signed-by-wallet",
		"providerUserSnapshot": map[string]string{"address": "0xABC"},
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	var first protocol.AuthResult
	require.NoError(t, json.Unmarshal(body, &first))
	assert.Equal(t, protocol.StrategyProvider, first.AuthType)
	assert.Contains(t, string(first.User), "0xabc@provider.local")

	status, body = doJSON(t, http.MethodPost, url+"/authentication", "", map[string]string{
		"strategy": "jwt", "accessToken": first.AccessToken,
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	var second protocol.AuthResult
	require.NoError(t, json.Unmarshal(body, &second))
	assert.Equal(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, protocol.StrategyProvider, second.IssuedBy(protocol.StrategyJWT))
}

func TestProviderVerificationFailure(t *testing.T) {
	_, url := startServer(t, Config{
		VerifyProvider: func(token string, _ map[string]interface{}) error {
			return errors.New("signature mismatch")
		},
	})

	status, body := doJSON(t, http.MethodPost, url+"/authentication", "", map[string]interface{}{
		"strategy":             "external-provider",
		"providerToken":        "x",
		"providerUserSnapshot": map[string]string{"email": "f@example.com"},
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, string(body), "signature mismatch")
}

func TestExpiredToken(t *testing.T) {
	s, url := startServer(t, Config{TokenTTL: time.Millisecond})
	user, err := s.AddUser("gus@example.com", "pw")
	require.NoError(t, err)
	token, err := s.IssueToken(user.ID(), protocol.StrategyLocal)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)
	status, body := doJSON(t, http.MethodGet, url+"/messages", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, string(body), "jwt expired")
}

func dialSocket(t *testing.T, url string) (*websocket.Conn, string) {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	var welcome protocol.Frame
	require.NoError(t, ws.ReadJSON(&welcome))
	require.Equal(t, protocol.FrameWelcome, welcome.Type)
	require.NotEmpty(t, welcome.SID)
	return ws, welcome.SID
}

func socketCall(t *testing.T, ws *websocket.Conn, id uint64, call *protocol.Call) *protocol.Frame {
	t.Helper()
	f, err := protocol.CallFrame(id, call)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(f))
	for {
		var resp protocol.Frame
		require.NoError(t, ws.ReadJSON(&resp))
		if resp.Type == protocol.FrameResult {
			require.Equal(t, id, resp.ID)
			return &resp
		}
	}
}

func TestSocketAuthenticateInvokeAndEvents(t *testing.T) {
	s, url := startServer(t, Config{})
	_, err := s.AddUser("hal@example.com", "pw")
	require.NoError(t, err)

	ws, _ := dialSocket(t, url)
	watcher, _ := dialSocket(t, url)

	resp := socketCall(t, ws, 1, &protocol.Call{Service: "messages", Method: protocol.OpFind})
	require.NotNil(t, resp.Error)
	assert.Equal(t, http.StatusUnauthorized, resp.Error.Code)

	raw, err := protocol.MarshalAuthPayload(protocol.LocalPayload{Email: "hal@example.com", Password: "pw"})
	require.NoError(t, err)
	auth := &protocol.Call{
		Service: protocol.AuthenticationPath,
		Method:  protocol.OpCreate,
		Data:    json.RawMessage(raw),
	}

	resp = socketCall(t, ws, 2, auth)
	require.Nil(t, resp.Error)
	resp = socketCall(t, watcher, 1, auth)
	require.Nil(t, resp.Error)

	resp = socketCall(t, ws, 3, &protocol.Call{
		Service: "messages",
		Method:  protocol.OpCreate,
		Data:    map[string]string{"text": "hi"},
	})
	require.Nil(t, resp.Error)

	require.NoError(t, watcher.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev protocol.Frame
	require.NoError(t, watcher.ReadJSON(&ev))
	assert.Equal(t, protocol.FrameEvent, ev.Type)
	assert.Equal(t, "messages", ev.Path)
	assert.Equal(t, protocol.EventCreated, ev.Event)
	assert.Contains(t, string(ev.Data), `"text":"hi"`)

	resp = socketCall(t, ws, 4, &protocol.Call{Service: protocol.AuthenticationPath, Method: protocol.OpRemove, ID: "x"})
	require.Nil(t, resp.Error)
	resp = socketCall(t, ws, 5, &protocol.Call{Service: "messages", Method: protocol.OpFind})
	require.NotNil(t, resp.Error)
	assert.Equal(t, http.StatusUnauthorized, resp.Error.Code)
}

func TestSetAcceptingAndDropConnections(t *testing.T) {
	s, url := startServer(t, Config{})
	dialSocket(t, url)

	assert.Eventually(t, func() bool { return s.Sockets() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, s.DropConnections())
	assert.Eventually(t, func() bool { return s.Sockets() == 0 }, time.Second, 10*time.Millisecond)

	s.SetAccepting(false)
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	s.SetAccepting(true)
	dialSocket(t, url)
}

func TestRequestMetrics(t *testing.T) {
	s, url := startServer(t, Config{})

	doJSON(t, http.MethodGet, url+"/messages", "", nil)
	doJSON(t, http.MethodGet, url+"/messages", "", nil)

	count := testutil.ToFloat64(s.requests.WithLabelValues("rest", "messages", "find", "401"))
	assert.Equal(t, float64(2), count)

	resp, err := http.Get(url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "memserver_requests_total")
}
