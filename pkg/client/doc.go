// Package client assembles a ready-to-use service client from a config.
//
// A Client owns one instance of each component:
//
//   - storage.Storage holding the credential and the transport selection
//   - a REST and a socket transport.Transport behind a switchboard.Switchboard
//   - an auth.Coordinator that is the only writer of the credential store
//   - a service.Proxy resolving the active transport per call
//   - an observability.Layer fanning records out to logging, metrics and tracing
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	c, err := client.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer c.Close(ctx)
//
//	if _, err := c.Start(ctx); errors.Is(err, auth.ErrLoginRequired) {
//	    _, err = c.Login(ctx, protocol.LocalPayload{Email: email, Password: password})
//	}
//
//	page, err := c.Service().Find(ctx, "messages", protocol.Query{Limit: 20})
//
// # Switching transports
//
// SwitchTransport changes where new calls go. Sessions are per transport, so
// after switching to a transport that was never authenticated the client is
// Unauthenticated until Reauthenticate presents the stored credential.
package client
