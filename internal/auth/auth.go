package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"os"
	"strings"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
)

// Claims identifies the caller. Subject is the agent the token belongs to.
type Claims struct {
	Subject string
	Token   string
}

type Authenticator interface {
	Authenticate(r *http.Request) (Claims, error)
}

// TokenAuthenticator accepts a shared dev token and per-agent tokens.
type TokenAuthenticator struct {
	DevToken string
	// AgentTokens maps token to agent id.
	AgentTokens map[string]string
}

// NewAuthenticatorFromEnv reads ANTIBODY_DEV_TOKEN and ANTIBODY_AGENT_TOKENS
// ("agent=token,agent2=token2").
func NewAuthenticatorFromEnv() *TokenAuthenticator {
	return &TokenAuthenticator{
		DevToken:    os.Getenv("ANTIBODY_DEV_TOKEN"),
		AgentTokens: ParseAgentTokens(os.Getenv("ANTIBODY_AGENT_TOKENS")),
	}
}

func ParseAgentTokens(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		agent, token, ok := strings.Cut(strings.TrimSpace(pair), "=")
		agent, token = strings.TrimSpace(agent), strings.TrimSpace(token)
		if !ok || agent == "" || token == "" {
			continue
		}
		out[token] = agent
	}
	return out
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) (Claims, error) {
	bearer, err := extractBearer(r)
	if err != nil {
		return Claims{}, err
	}

	if a.DevToken != "" && equal(bearer, a.DevToken) {
		return Claims{Subject: "dev", Token: bearer}, nil
	}
	for token, agent := range a.AgentTokens {
		if equal(bearer, token) {
			return Claims{Subject: agent, Token: bearer}, nil
		}
	}
	return Claims{}, ErrInvalidToken
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func extractBearer(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
