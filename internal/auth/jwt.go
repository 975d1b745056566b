// Package auth verifies caller identity for the API namespace.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. The browser signs in with the identity provider and receives an ID token
//     (a signed JWT).
//  2. API calls carry it as "Authorization: Bearer <token>", or in a "session"
//     cookie when the call comes from a page load.
//  3. RequireIdentity extracts the token, hands it to an IdentityVerifier and
//     stores the resulting model.Identity in the request context.
//
// Two verifiers are provided: SecureTokenVerifier checks RS256 tokens against
// the provider's published certificates, TokenService checks HS256 tokens
// signed with a shared secret (local development and tests).
package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/sercy/internal/apperror"
	"github.com/sakif/sercy/internal/model"
)

// IdentityVerifier turns a raw ID token into an Identity.
//
// Implementations return an apperror with ErrUnauthenticated when the token
// is malformed, expired or badly signed, and ErrUnavailable when the provider
// could not be reached in time.
type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (*model.Identity, error)
}

// idTokenClaims is the ID token payload.
//
// The "firebase" object carries the linked sign-in identities, e.g.
//
//	"firebase": {"identities": {"github.com": ["1234567"]}, "sign_in_provider": "github.com"}
type idTokenClaims struct {
	jwt.RegisteredClaims
	Name     string         `json:"name,omitempty"`
	Email    string         `json:"email,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
	Firebase firebaseClaims `json:"firebase"`
}

type firebaseClaims struct {
	Identities     map[string][]any `json:"identities,omitempty"`
	SignInProvider string           `json:"sign_in_provider,omitempty"`
}

// identity converts verified claims into the request-scoped Identity.
func (c *idTokenClaims) identity() (*model.Identity, error) {
	subject := c.Subject
	if subject == "" {
		subject = c.UserID
	}
	if subject == "" {
		return nil, errors.New("token has no subject")
	}

	id := &model.Identity{
		Subject:        subject,
		Name:           c.Name,
		Email:          c.Email,
		SignInProvider: c.Firebase.SignInProvider,
	}

	// Map iteration order is random; sort so Linked is stable.
	providers := make([]string, 0, len(c.Firebase.Identities))
	for p := range c.Firebase.Identities {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	for _, p := range providers {
		for _, uid := range c.Firebase.Identities[p] {
			id.Linked = append(id.Linked, model.LinkedIdentity{Provider: p, UID: fmt.Sprint(uid)})
		}
	}

	return id, nil
}

func claimsFor(identity model.Identity, issuer string, audience string, now time.Time, ttl time.Duration) idTokenClaims {
	c := idTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:   identity.Name,
		Email:  identity.Email,
		UserID: identity.Subject,
	}
	if audience != "" {
		c.Audience = jwt.ClaimStrings{audience}
	}
	c.Firebase.SignInProvider = identity.SignInProvider
	if len(identity.Linked) > 0 {
		c.Firebase.Identities = make(map[string][]any)
		for _, l := range identity.Linked {
			c.Firebase.Identities[l.Provider] = append(c.Firebase.Identities[l.Provider], l.UID)
		}
	}
	return c
}

// TokenService signs and verifies HS256 ID tokens with a shared secret.
//
// The same secret must be used for both operations.
type TokenService struct {
	secret []byte
	issuer string
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: ID_TOKEN_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret, issuer string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: ID token secret must be at least 16 characters")
	}
	if issuer == "" {
		issuer = "sercy"
	}
	return &TokenService{secret: []byte(secret), issuer: issuer}, nil
}

// Sign issues a token for identity that expires after ttl.
// A negative ttl produces an already expired token, which tests rely on.
func (s *TokenService) Sign(identity model.Identity, ttl time.Duration) (string, error) {
	c := claimsFor(identity, s.issuer, "", time.Now(), ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Verify parses and checks an HS256 token.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid
//   - Token is not expired, and has an expiry at all
//   - Issuer matches
//   - Algorithm is HS256 (prevents algorithm confusion attacks)
func (s *TokenService) Verify(_ context.Context, idToken string) (*model.Identity, error) {
	var c idTokenClaims
	_, err := jwt.ParseWithClaims(
		idToken,
		&c,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, invalidToken(err)
	}

	identity, err := c.identity()
	if err != nil {
		return nil, invalidToken(err)
	}
	return identity, nil
}

// invalidToken wraps a jwt library error as Unauthenticated.
func invalidToken(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return apperror.Unauthenticated("token expired", err)
	}
	return apperror.Unauthenticated("invalid token", err)
}
