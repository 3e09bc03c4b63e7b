package transport

import (
	"context"
	"encoding/json"

	"github.com/ajitpratap0/feathers-client-go/pkg/observability"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
)

// ObservabilityMiddleware records a before and an after entry around every
// call, handshake and logout. It never changes the outcome.
type ObservabilityMiddleware struct {
	layer *observability.Layer
}

// NewObservabilityMiddleware creates a new observability middleware
func NewObservabilityMiddleware(layer *observability.Layer) Middleware {
	return &ObservabilityMiddleware{layer: layer}
}

// Wrap implements the Middleware interface
func (om *ObservabilityMiddleware) Wrap(transport Transport) Transport {
	return &observabilityTransport{
		middlewareTransport: middlewareTransport{next: transport},
		layer:               om.layer,
	}
}

type observabilityTransport struct {
	middlewareTransport
	layer *observability.Layer
}

func (ot *observabilityTransport) Invoke(ctx context.Context, call *protocol.Call) (json.RawMessage, error) {
	token := ot.layer.Before(ctx, call.Service, call.Method, callInput(call))
	result, err := ot.next.Invoke(ctx, call)
	ot.layer.After(token, result, err)
	return result, err
}

func (ot *observabilityTransport) Authenticate(ctx context.Context, payload protocol.AuthPayload) (*protocol.AuthResult, error) {
	token := ot.layer.Before(ctx, protocol.AuthenticationPath, protocol.OpCreate, redactPayload(payload))
	result, err := ot.next.Authenticate(ctx, payload)
	if err != nil {
		ot.layer.After(token, nil, err)
	} else {
		ot.layer.After(token, map[string]interface{}{"user": result.User, "authType": result.AuthType}, nil)
	}
	return result, err
}

func (ot *observabilityTransport) Logout(ctx context.Context) error {
	token := ot.layer.Before(ctx, protocol.AuthenticationPath, protocol.OpRemove, nil)
	err := ot.next.Logout(ctx)
	ot.layer.After(token, nil, err)
	return err
}

// callInput is what the before record shows for a call
func callInput(call *protocol.Call) interface{} {
	input := map[string]interface{}{}
	if call.ID != "" {
		input["id"] = call.ID
	}
	if call.Data != nil {
		input["data"] = call.Data
	}
	if !call.Query.IsZero() {
		input["query"] = call.Query
	}
	if len(input) == 0 {
		return nil
	}
	return input
}

// redactPayload keeps secrets out of the before record
func redactPayload(payload protocol.AuthPayload) interface{} {
	if payload == nil {
		return nil
	}
	out := map[string]interface{}{"strategy": payload.Strategy()}
	switch p := payload.(type) {
	case protocol.LocalPayload:
		out["email"] = p.Email
	case *protocol.LocalPayload:
		out["email"] = p.Email
	}
	return out
}
