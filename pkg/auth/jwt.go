// Package auth validates JWT bearer tokens against a remote JWKS and makes
// the verified claims available on the request context. It guards the HTTP
// transport only; stdio runs are local by definition.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/iron-manus/jarvis/pkg/config"
)

// refreshFloor is the minimum JWKS re-fetch interval. Key rotation faster
// than this will reject tokens until the next refresh.
const refreshFloor = 15 * time.Minute

// Validator checks bearer tokens against a cached, auto-refreshing JWKS.
type Validator struct {
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
}

// NewFromConfig builds a Validator when auth is enabled. Disabled auth
// yields (nil, nil); a nil *Validator is a pass-through to Middleware.
func NewFromConfig(ctx context.Context, cfg config.AuthConfig) (*Validator, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}
	return NewValidator(ctx, cfg.JWKSURL, cfg.Issuer, cfg.Audience)
}

// NewValidator fetches the JWKS once to fail fast on a bad URL or dead
// provider, then keeps it refreshed in the background for key rotation.
// The refresh goroutine stops when ctx is canceled.
func NewValidator(ctx context.Context, jwksURL, issuer, audience string) (*Validator, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(refreshFloor)); err != nil {
		return nil, fmt.Errorf("registering JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("fetching JWKS from %s: %w", jwksURL, err)
	}
	return &Validator{
		jwksURL:  jwksURL,
		cache:    cache,
		issuer:   issuer,
		audience: audience,
	}, nil
}

// Validate parses and verifies one token: signature against the JWKS,
// expiry, and, when configured, issuer and audience.
func (v *Validator) Validate(ctx context.Context, raw string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("getting JWKS: %w", err)
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse([]byte(raw), opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claimsFromToken(ctx, token), nil
}

func claimsFromToken(ctx context.Context, token jwt.Token) *Claims {
	claims := &Claims{
		Subject: token.Subject(),
		Custom:  make(map[string]any),
	}
	if v, ok := token.Get("email"); ok {
		if s, ok := v.(string); ok {
			claims.Email = s
		}
	}
	if v, ok := token.Get("role"); ok {
		if s, ok := v.(string); ok {
			claims.Role = s
		}
	}
	for iter := token.Iterate(ctx); iter.Next(ctx); {
		pair := iter.Pair()
		key, ok := pair.Key.(string)
		if !ok {
			continue
		}
		switch key {
		case "sub", "email", "role", "iss", "aud", "exp", "iat", "nbf":
		default:
			claims.Custom[key] = pair.Value
		}
	}
	return claims
}
