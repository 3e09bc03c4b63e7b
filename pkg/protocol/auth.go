package protocol

import (
	"encoding/json"
	"fmt"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
)

// Strategy names a way of proving identity.
type Strategy string

const (
	StrategyLocal    Strategy = "local"
	StrategyJWT      Strategy = "jwt"
	StrategyProvider Strategy = "external-provider"
)

// AuthenticationPath is the service that performs the handshake on both
// transports.
const AuthenticationPath = "authentication"

// AuthPayload is the handshake body. The concrete types below are the only
// implementations.
type AuthPayload interface {
	Strategy() Strategy
	authPayload()
}

// LocalPayload authenticates with email and password.
type LocalPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// JWTPayload re-authenticates with a previously issued access token.
type JWTPayload struct {
	AccessToken string `json:"accessToken"`
}

// ProviderPayload authenticates with a session obtained from an external
// identity provider.
type ProviderPayload struct {
	ProviderUserSnapshot json.RawMessage `json:"providerUserSnapshot"`
	ProviderToken        string          `json:"providerToken"`
}

func (LocalPayload) Strategy() Strategy    { return StrategyLocal }
func (JWTPayload) Strategy() Strategy      { return StrategyJWT }
func (ProviderPayload) Strategy() Strategy { return StrategyProvider }

func (LocalPayload) authPayload()    {}
func (JWTPayload) authPayload()      {}
func (ProviderPayload) authPayload() {}

// MarshalAuthPayload renders the payload with its "strategy" tag.
func MarshalAuthPayload(p AuthPayload) ([]byte, error) {
	switch v := p.(type) {
	case LocalPayload:
		return json.Marshal(struct {
			Strategy Strategy `json:"strategy"`
			LocalPayload
		}{StrategyLocal, v})
	case *LocalPayload:
		return MarshalAuthPayload(*v)
	case JWTPayload:
		return json.Marshal(struct {
			Strategy Strategy `json:"strategy"`
			JWTPayload
		}{StrategyJWT, v})
	case *JWTPayload:
		return MarshalAuthPayload(*v)
	case ProviderPayload:
		if len(v.ProviderUserSnapshot) == 0 {
			v.ProviderUserSnapshot = json.RawMessage("{}")
		}
		return json.Marshal(struct {
			Strategy Strategy `json:"strategy"`
			ProviderPayload
		}{StrategyProvider, v})
	case *ProviderPayload:
		return MarshalAuthPayload(*v)
	default:
		return nil, svcerrors.ValidationFailed(fmt.Sprintf("unsupported auth payload %T", p), nil)
	}
}

// DecodeAuthPayload reads the "strategy" tag and decodes the matching
// payload. Unknown strategies are a validation failure.
func DecodeAuthPayload(data []byte) (AuthPayload, error) {
	var tag struct {
		Strategy Strategy `json:"strategy"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, svcerrors.ValidationFailed("malformed authentication payload", nil)
	}

	switch tag.Strategy {
	case StrategyLocal:
		var p LocalPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, svcerrors.ValidationFailed("malformed local payload", nil)
		}
		return p, nil
	case StrategyJWT:
		var p JWTPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, svcerrors.ValidationFailed("malformed jwt payload", nil)
		}
		return p, nil
	case StrategyProvider:
		var p ProviderPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, svcerrors.ValidationFailed("malformed external-provider payload", nil)
		}
		return p, nil
	case "":
		return nil, svcerrors.ValidationFailed("authentication strategy is required", nil)
	default:
		return nil, svcerrors.ValidationFailed(fmt.Sprintf("unknown authentication strategy %q", tag.Strategy), nil)
	}
}

// AuthResult is the server's answer to a successful handshake.
type AuthResult struct {
	AccessToken string          `json:"accessToken"`
	User        json.RawMessage `json:"user"`
	AuthType    Strategy        `json:"authType,omitempty"`
}

// IssuedBy reports which credential source produced the token. A jwt
// handshake keeps the source of the token it presented, which the server
// echoes in authType; without the echo it falls back to fallback.
func (r *AuthResult) IssuedBy(fallback Strategy) Strategy {
	if r != nil && (r.AuthType == StrategyLocal || r.AuthType == StrategyProvider) {
		return r.AuthType
	}
	return fallback
}
