package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/idtoken"

	"deepresearch/backend/internal/config"
)

var (
	ErrMissingToken    = errors.New("bearer token is required")
	ErrUnverifiedEmail = errors.New("google account email is not verified")
)

type Identity struct {
	Subject string `json:"subject"`
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
}

type validateFunc func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)

// Verifier checks Google ID tokens issued for the configured OAuth client.
type Verifier struct {
	audience string
	validate validateFunc
}

func NewVerifier(cfg config.Config) Verifier {
	return Verifier{audience: cfg.GoogleClientID, validate: idtoken.Validate}
}

func (v Verifier) Verify(ctx context.Context, idToken string) (Identity, error) {
	if strings.TrimSpace(idToken) == "" {
		return Identity{}, ErrMissingToken
	}

	payload, err := v.validate(ctx, idToken, v.audience)
	if err != nil {
		return Identity{}, fmt.Errorf("validate id token: %w", err)
	}

	email, _ := payload.Claims["email"].(string)
	if strings.TrimSpace(email) == "" {
		return Identity{}, errors.New("google token missing email claim")
	}
	if verified, _ := payload.Claims["email_verified"].(bool); !verified {
		return Identity{}, ErrUnverifiedEmail
	}

	name, _ := payload.Claims["name"].(string)
	return Identity{
		Subject: payload.Subject,
		Email:   strings.ToLower(strings.TrimSpace(email)),
		Name:    strings.TrimSpace(name),
	}, nil
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
