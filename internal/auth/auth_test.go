package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
)

func TestAuthenticate(t *testing.T) {
	a := &TokenAuthenticator{DevToken: "dev-token", AgentTokens: ParseAgentTokens("EmpusaAI=tok-1, bad, =x, scout = tok-2")}

	cases := []struct {
		header  string
		subject string
		err     error
	}{
		{"", "", ErrMissingBearer},
		{"Basic abc", "", ErrInvalidToken},
		{"Bearer   ", "", ErrInvalidToken},
		{"Bearer nope", "", ErrInvalidToken},
		{"Bearer dev-token", "dev", nil},
		{"Bearer tok-1", "EmpusaAI", nil},
		{"Bearer tok-2", "scout", nil},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/v1/stats", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		claims, err := a.Authenticate(req)
		if !errors.Is(err, tc.err) {
			t.Fatalf("%q: err = %v, want %v", tc.header, err, tc.err)
		}
		if claims.Subject != tc.subject {
			t.Fatalf("%q: subject = %q, want %q", tc.header, claims.Subject, tc.subject)
		}
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("ANTIBODY_DEV_TOKEN", "d")
	t.Setenv("ANTIBODY_AGENT_TOKENS", "a=t")
	a := NewAuthenticatorFromEnv()
	if a.DevToken != "d" || a.AgentTokens["t"] != "a" {
		t.Fatalf("unexpected authenticator: %+v", a)
	}
}
