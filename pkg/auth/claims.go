package auth

import "context"

type contextKey struct{}

// Claims are the verified identity attached to an authenticated request.
type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Role    string `json:"role,omitempty"`
	// Custom holds every claim not mapped to a field above.
	Custom map[string]any `json:"-"`
}

// GetString reads a custom claim as a string. Missing or non-string → "".
func (c *Claims) GetString(key string) string {
	if s, ok := c.Custom[key].(string); ok {
		return s
	}
	return ""
}

// HasRole reports whether the subject carries the given role claim.
func (c *Claims) HasRole(role string) bool {
	return c.Role == role
}

// ContextWithClaims attaches verified claims to ctx.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// ClaimsFromContext returns the request's verified claims, or nil when the
// request was not authenticated (auth disabled, or an exempt path).
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(contextKey{}).(*Claims)
	return claims
}
