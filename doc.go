// Package feathers is a client for real-time service servers that expose
// named services over REST and WebSocket.
//
// A client authenticates once, keeps its session in a pluggable store and
// calls the find, get, create, patch, update and remove operations of any
// service over whichever transport is active. Over the WebSocket transport
// it also receives service events and reconnects on its own.
//
// # Overview
//
// The module consists of several sub-packages:
//
//   - pkg/client: Wires configuration, transports, authentication and services
//   - pkg/auth: Login, session restore, logout and external providers
//   - pkg/service: Untyped and generic service proxies
//   - pkg/transport: REST and WebSocket transports with middleware
//   - pkg/switchboard: Selects and persists the active transport
//   - pkg/config: YAML and environment configuration
//   - pkg/memserver: An in-memory server speaking the same protocol
//
// # Creating a Client
//
//	cfg := feathers.DefaultConfig()
//	cfg.Endpoint = "https://api.example.com"
//
//	c, err := feathers.NewClient(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close(context.Background())
//
//	// Resume a stored session, or log in
//	if _, err := c.Start(ctx); err != nil {
//	    if !errors.Is(err, auth.ErrLoginRequired) {
//	        log.Fatal(err)
//	    }
//	    _, err = c.Login(ctx, protocol.LocalPayload{Email: email, Password: password})
//	}
//
// # Calling Services
//
//	type Message struct {
//	    ID   string `json:"id"`
//	    Text string `json:"text"`
//	}
//
//	messages := service.For[Message](c.Service(), "messages")
//	created, err := messages.Create(ctx, Message{Text: "hello"})
//	page, err := messages.Find(ctx, protocol.Query{Limit: 10})
//
// # Events
//
// Events are delivered over the socket transport only:
//
//	if err := c.SwitchTransport(ctx, feathers.Socket); err != nil {
//	    log.Fatal(err)
//	}
//	off, err := messages.On(feathers.EventCreated, func(m Message) {
//	    fmt.Println("new message:", m.Text)
//	})
//	defer off()
package feathers
