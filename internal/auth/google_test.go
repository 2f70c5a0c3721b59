package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"google.golang.org/api/idtoken"
)

func stubVerifier(payload *idtoken.Payload, err error) Verifier {
	return Verifier{
		audience: "client-123",
		validate: func(_ context.Context, _ string, audience string) (*idtoken.Payload, error) {
			if audience != "client-123" {
				return nil, errors.New("wrong audience")
			}
			return payload, err
		},
	}
}

func TestVerifyReturnsIdentity(t *testing.T) {
	verifier := stubVerifier(&idtoken.Payload{
		Subject: "sub-1",
		Claims:  map[string]any{"email": " Ada@Example.com ", "email_verified": true, "name": " Ada "},
	}, nil)

	identity, err := verifier.Verify(context.Background(), "token")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.Subject != "sub-1" || identity.Email != "ada@example.com" || identity.Name != "Ada" {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	if _, err := stubVerifier(nil, nil).Verify(context.Background(), " "); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}

	unverified := stubVerifier(&idtoken.Payload{Claims: map[string]any{"email": "a@b.c", "email_verified": false}}, nil)
	if _, err := unverified.Verify(context.Background(), "token"); !errors.Is(err, ErrUnverifiedEmail) {
		t.Fatalf("expected ErrUnverifiedEmail, got %v", err)
	}

	noEmail := stubVerifier(&idtoken.Payload{Claims: map[string]any{}}, nil)
	if _, err := noEmail.Verify(context.Background(), "token"); err == nil {
		t.Fatal("expected missing email error")
	}

	invalid := stubVerifier(nil, errors.New("expired"))
	if _, err := invalid.Verify(context.Background(), "token"); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  xyz ": "xyz",
		"Basic abc":    "",
		"":             "",
		"Bearer":       "",
	}
	for header, want := range cases {
		req := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if got := BearerToken(req); got != want {
			t.Fatalf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
