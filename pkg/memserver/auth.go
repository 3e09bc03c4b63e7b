package memserver

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
)

// principal is the authenticated caller of a request or socket.
type principal struct {
	userID   string
	tokenID  string
	token    string
	strategy protocol.Strategy
}

// tokenClaims are the claims of an issued access token. Strategy records
// which credential source the session started from.
type tokenClaims struct {
	Strategy protocol.Strategy `json:"strategy"`
	jwt.RegisteredClaims
}

// authResponse is the body returned by a successful handshake.
type authResponse struct {
	AccessToken    string            `json:"accessToken"`
	Authentication map[string]string `json:"authentication"`
	User           Record            `json:"user"`
	AuthType       protocol.Strategy `json:"authType"`
}

func randomSecret() []byte {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic(err)
	}
	return secret
}

func acceptProvider(token string, _ map[string]interface{}) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("provider token is required")
	}
	return nil
}

// authenticate runs one handshake and returns the response and the new
// principal.
func (s *Server) authenticate(payload protocol.AuthPayload) (*authResponse, *principal, error) {
	switch p := payload.(type) {
	case protocol.LocalPayload:
		return s.authenticateLocal(p)
	case protocol.JWTPayload:
		return s.authenticateJWT(p)
	case protocol.ProviderPayload:
		return s.authenticateProvider(p)
	default:
		return nil, nil, svcerrors.ValidationFailed("unsupported authentication strategy", nil)
	}
}

func (s *Server) authenticateLocal(p protocol.LocalPayload) (*authResponse, *principal, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))

	s.mu.RLock()
	user, ok := s.userByEmail(email)
	s.mu.RUnlock()

	// Same message for unknown email and bad password
	if !ok {
		return nil, nil, svcerrors.AuthRejected("Invalid login")
	}
	hash, _ := user["password"].(string)
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(p.Password)) != nil {
		return nil, nil, svcerrors.AuthRejected("Invalid login")
	}
	return s.issue(user, protocol.StrategyLocal)
}

func (s *Server) authenticateJWT(p protocol.JWTPayload) (*authResponse, *principal, error) {
	who, err := s.verify(p.AccessToken)
	if err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	user, ok := s.services[UsersService].items[who.userID]
	var presented Record
	if ok {
		presented = s.services[UsersService].present(user)
	}
	s.mu.RUnlock()
	if !ok {
		return nil, nil, svcerrors.AuthRejected("User no longer exists")
	}

	return &authResponse{
		AccessToken:    p.AccessToken,
		Authentication: map[string]string{"strategy": string(protocol.StrategyJWT)},
		User:           presented,
		AuthType:       who.strategy,
	}, who, nil
}

func (s *Server) authenticateProvider(p protocol.ProviderPayload) (*authResponse, *principal, error) {
	var snapshot map[string]interface{}
	if len(p.ProviderUserSnapshot) > 0 {
		if err := json.Unmarshal(p.ProviderUserSnapshot, &snapshot); err != nil {
			return nil, nil, svcerrors.ValidationFailed("providerUserSnapshot must be an object", nil)
		}
	}
	if err := s.config.VerifyProvider(p.ProviderToken, snapshot); err != nil {
		return nil, nil, svcerrors.AuthRejected("Invalid provider session: " + err.Error())
	}

	email, _ := snapshot["email"].(string)
	if email == "" {
		if addr, _ := snapshot["address"].(string); addr != "" {
			email = strings.ToLower(addr) + "@provider.local"
		}
	}
	if email == "" {
		return nil, nil, svcerrors.AuthRejected("Provider session carries no identity")
	}
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.Lock()
	user, ok := s.userByEmail(email)
	if !ok {
		data := Record{"email": email, "provider": true}
		for k, v := range snapshot {
			if _, taken := data[k]; !taken && k != "password" && k != "id" {
				data[k] = v
			}
		}
		var err error
		user, err = s.services[UsersService].create(data)
		if err != nil {
			s.mu.Unlock()
			return nil, nil, err
		}
	}
	s.mu.Unlock()

	return s.issue(user, protocol.StrategyProvider)
}

// userByEmail must be called with s.mu held.
func (s *Server) userByEmail(email string) (Record, bool) {
	users := s.services[UsersService]
	for _, id := range users.order {
		if u := users.items[id]; u["email"] == email {
			return u, true
		}
	}
	return nil, false
}

func (s *Server) issue(user Record, strategy protocol.Strategy) (*authResponse, *principal, error) {
	now := time.Now()
	claims := tokenClaims{
		Strategy: strategy,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID(),
			Issuer:    s.config.Issuer,
			Audience:  jwt.ClaimStrings{"feathers-client"},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenTTL)),
			ID:        uuid.NewString(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.Secret)
	if err != nil {
		return nil, nil, svcerrors.Unknown(err)
	}

	s.mu.RLock()
	presented := s.services[UsersService].present(user)
	s.mu.RUnlock()

	resp := &authResponse{
		AccessToken:    token,
		Authentication: map[string]string{"strategy": string(strategy)},
		User:           presented,
		AuthType:       strategy,
	}
	return resp, &principal{
		userID:   user.ID(),
		tokenID:  claims.ID,
		token:    token,
		strategy: strategy,
	}, nil
}

// verify checks the signature, expiry and revocation of an access token.
func (s *Server) verify(token string) (*principal, error) {
	if token == "" {
		return nil, svcerrors.AuthRejected("No access token")
	}

	var claims tokenClaims
	keyFunc := func(*jwt.Token) (interface{}, error) { return s.config.Secret, nil }
	parsed, err := jwt.ParseWithClaims(token, &claims, keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithAudience("feathers-client"),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, svcerrors.AuthRejected("jwt expired")
		}
		return nil, svcerrors.AuthRejected("Invalid access token")
	}
	if !parsed.Valid {
		return nil, svcerrors.AuthRejected("Invalid access token")
	}

	s.mu.RLock()
	_, revoked := s.revoked[claims.ID]
	s.mu.RUnlock()
	if revoked {
		return nil, svcerrors.AuthRejected("Session has been logged out")
	}

	return &principal{
		userID:   claims.Subject,
		tokenID:  claims.ID,
		token:    token,
		strategy: claims.Strategy,
	}, nil
}

// revoke ends the session of p.
func (s *Server) revoke(p *principal) {
	s.mu.Lock()
	s.revoked[p.tokenID] = struct{}{}
	s.mu.Unlock()
}

// IssueToken signs a token for an existing user. Tests use it to seed a
// stored credential.
func (s *Server) IssueToken(userID string, strategy protocol.Strategy) (string, error) {
	s.mu.RLock()
	user, ok := s.services[UsersService].items[userID]
	s.mu.RUnlock()
	if !ok {
		return "", svcerrors.NotFound(UsersService, userID)
	}
	resp, _, err := s.issue(user, strategy)
	if err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}

// RevokeToken ends the session of token as a server-side logout would.
func (s *Server) RevokeToken(token string) error {
	p, err := s.verify(token)
	if err != nil {
		return err
	}
	s.revoke(p)
	return nil
}
