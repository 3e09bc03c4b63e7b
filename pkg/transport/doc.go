// Package transport carries service calls to a Feathers-style server.
//
// Two transports satisfy the same Transport interface:
//
// RESTTransport:
//   - One HTTP exchange per call, mapped onto the service routes
//     (GET /svc, GET /svc/id, POST /svc, PATCH and PUT /svc/id, DELETE /svc/id)
//   - The session's access token travels as a bearer header
//   - No connection state; Connect is a no-op
//
// SocketTransport:
//   - One persistent WebSocket multiplexing calls by correlation id
//   - Server-pushed service events delivered through On
//   - Automatic reconnection with a bounded attempt budget; the session is
//     re-established before queued calls are flushed in submission order
//   - Calls already written when a connection drops fail with ConnectionLost
//     instead of being resent
//
// # Usage
//
//	config := transport.DefaultTransportConfig(transport.KindSocket)
//	config.Endpoint = "https://api.example.com"
//	config.Streaming.ReconnectAttempts = 10
//	t, err := transport.NewTransport(config)
//	if err != nil {
//	    return err
//	}
//	defer t.Close(ctx)
//
//	if err := t.Connect(ctx); err != nil {
//	    return err
//	}
//	if _, err := t.Authenticate(ctx, protocol.LocalPayload{Email: email, Password: pw}); err != nil {
//	    return err
//	}
//	raw, err := t.Invoke(ctx, &protocol.Call{Service: "messages", Method: protocol.OpFind})
//
// # Middleware
//
// NewTransport wraps the base transport according to config.Features:
//
//   - Observability (on by default when a Layer is set): before and after
//     records for every call, handshake and logout
//   - Reliability (off by default): circuit breaker plus retries of find and
//     get calls that failed with a transport error; writes are never retried
//   - Rate limiting (off by default): a client-side token bucket
//
// Use AsEventSource to reach the socket's event subscriptions through the
// middleware chain.
//
// # Errors
//
// Every failure is a pkg/errors ServiceError. Connection problems fall in the
// transport_unavailable category with client codes 590-595; server answers
// keep the server's code and name.
package transport
