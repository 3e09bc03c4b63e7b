package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/logging"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
)

const maxResponseSize = 10 << 20

// RESTTransport sends one HTTP exchange per call. It keeps no connection
// state besides the session obtained by Authenticate, whose access token is
// attached to every request.
type RESTTransport struct {
	config   TransportConfig
	endpoint string
	client   *http.Client
	logger   logging.Logger

	mu      sync.RWMutex
	session *protocol.AuthResult
	closed  bool
}

// NewRESTTransport creates a REST transport for config.Endpoint.
func NewRESTTransport(config TransportConfig) (*RESTTransport, error) {
	config.Kind = KindREST
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   config.Connection.Timeout,
					KeepAlive: config.Connection.KeepAlive,
				}).DialContext,
				MaxIdleConns:        config.Connection.MaxIdleConns,
				MaxIdleConnsPerHost: config.Connection.MaxConnsPerHost,
				MaxConnsPerHost:     config.Connection.MaxConnsPerHost,
				IdleConnTimeout:     config.Connection.IdleConnTimeout,
			},
		}
	}

	return &RESTTransport{
		config:   config,
		endpoint: strings.TrimRight(config.Endpoint, "/"),
		client:   client,
		logger:   loggerFor(config),
	}, nil
}

func (t *RESTTransport) Kind() Kind { return KindREST }

// Connect only checks that the transport is still open. Each call opens its
// own exchange.
func (t *RESTTransport) Connect(ctx context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return svcerrors.TransportClosed(string(KindREST))
	}
	return nil
}

func (t *RESTTransport) Authenticate(ctx context.Context, payload protocol.AuthPayload) (*protocol.AuthResult, error) {
	body, err := protocol.MarshalAuthPayload(payload)
	if err != nil {
		return nil, err
	}

	raw, err := t.do(ctx, http.MethodPost, "/"+protocol.AuthenticationPath, nil, body, "", "authenticate")
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

func (t *RESTTransport) Invoke(ctx context.Context, call *protocol.Call) (json.RawMessage, error) {
	if err := call.Validate(); err != nil {
		return nil, err
	}

	var body []byte
	switch call.Method {
	case protocol.OpCreate, protocol.OpPatch, protocol.OpUpdate:
		data, err := call.EncodeData()
		if err != nil {
			return nil, err
		}
		body = data
	}

	var query url.Values
	if call.Method == protocol.OpFind {
		query = call.Query.Values()
	}

	return t.do(ctx, call.Method.HTTPMethod(), call.Path(), query, body, t.token(), string(call.Method))
}

// Logout removes the server-side session and always drops the local one.
func (t *RESTTransport) Logout(ctx context.Context) error {
	t.mu.Lock()
	session := t.session
	t.session = nil
	t.mu.Unlock()

	if session == nil {
		return nil
	}

	_, err := t.do(ctx, http.MethodDelete, "/"+protocol.AuthenticationPath, nil, nil, session.AccessToken, "logout")
	return err
}

func (t *RESTTransport) Session() *protocol.AuthResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copySession(t.session)
}

func (t *RESTTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.session = nil
	t.client.CloseIdleConnections()
	return nil
}

func (t *RESTTransport) token() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.session == nil {
		return ""
	}
	return t.session.AccessToken
}

// do performs one exchange and maps every failure into the error taxonomy.
func (t *RESTTransport) do(ctx context.Context, method, path string, query url.Values, body []byte, token, op string) (json.RawMessage, error) {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return nil, svcerrors.TransportClosed(string(KindREST))
	}

	timeout := t.config.Connection.Timeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	target := t.endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, svcerrors.ValidationFailed(fmt.Sprintf("cannot build request: %v", err), nil)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, svcerrors.ConnectionTimeout(string(KindREST), op, timeout)
		}
		return nil, svcerrors.HTTPTransportError(op, t.endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, svcerrors.HTTPTransportError(op, t.endpoint, err)
	}

	t.logger.Debug("HTTP exchange",
		logging.String("method", method),
		logging.String("path", path),
		logging.Int("status", resp.StatusCode),
		logging.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, svcerrors.FromHTTPResponse(resp.StatusCode, data)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(data) {
		return nil, svcerrors.Unknown(fmt.Errorf("server returned invalid JSON for %s %s", method, path))
	}
	return json.RawMessage(data), nil
}

func decodeAuthResult(raw json.RawMessage) (*protocol.AuthResult, error) {
	var result protocol.AuthResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, svcerrors.Unknown(fmt.Errorf("malformed authentication response: %w", err))
	}
	if result.AccessToken == "" {
		return nil, svcerrors.AuthRejected("authentication response carried no access token")
	}
	return &result, nil
}
