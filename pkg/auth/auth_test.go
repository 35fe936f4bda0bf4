package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iron-manus/jarvis/pkg/config"
)

const (
	testIssuer   = "https://issuer.test"
	testAudience = "jarvis-api"
)

// jwksFixture is a signing key plus an httptest server publishing its JWKS.
type jwksFixture struct {
	key *rsa.PrivateKey
	url string
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.FromRaw(&key.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))

	keyset := jwk.NewSet()
	require.NoError(t, keyset.AddKey(pub))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keyset)
	}))
	t.Cleanup(srv.Close)

	return &jwksFixture{key: key, url: srv.URL + "/.well-known/jwks.json"}
}

type tokenSpec struct {
	issuer   string
	audience string
	subject  string
	expiry   time.Time
	claims   map[string]any
}

func (f *jwksFixture) sign(t *testing.T, spec tokenSpec) string {
	t.Helper()

	token := jwt.New()
	require.NoError(t, token.Set(jwt.IssuerKey, spec.issuer))
	require.NoError(t, token.Set(jwt.AudienceKey, spec.audience))
	require.NoError(t, token.Set(jwt.SubjectKey, spec.subject))
	require.NoError(t, token.Set(jwt.IssuedAtKey, time.Now()))
	if spec.expiry.IsZero() {
		spec.expiry = time.Now().Add(time.Hour)
	}
	require.NoError(t, token.Set(jwt.ExpirationKey, spec.expiry))
	for k, v := range spec.claims {
		require.NoError(t, token.Set(k, v))
	}

	priv, err := jwk.FromRaw(f.key)
	require.NoError(t, err)
	require.NoError(t, priv.Set(jwk.KeyIDKey, "test-key"))

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, priv))
	require.NoError(t, err)
	return string(signed)
}

func (f *jwksFixture) validator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(context.Background(), f.url, testIssuer, testAudience)
	require.NoError(t, err)
	return v
}

func TestNewValidatorFailsFastOnBadJWKS(t *testing.T) {
	f := newJWKSFixture(t)

	_, err := NewValidator(context.Background(), f.url+"/nope", testIssuer, testAudience)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetching JWKS")
}

func TestValidateExtractsClaims(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.validator(t)

	raw := f.sign(t, tokenSpec{
		issuer:   testIssuer,
		audience: testAudience,
		subject:  "user-42",
		claims:   map[string]any{"email": "dev@example.com", "role": "admin", "team": "sre"},
	})

	claims, err := v.Validate(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.Subject)
	assert.Equal(t, "dev@example.com", claims.Email)
	assert.True(t, claims.HasRole("admin"))
	assert.Equal(t, "sre", claims.GetString("team"))
}

func TestValidateRejectsBadTokens(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.validator(t)
	stranger := newJWKSFixture(t) // different key, same kid

	tests := []struct {
		name string
		raw  string
	}{
		{"wrong issuer", f.sign(t, tokenSpec{
			issuer: "https://evil.test", audience: testAudience, subject: "u"})},
		{"wrong audience", f.sign(t, tokenSpec{
			issuer: testIssuer, audience: "other-api", subject: "u"})},
		{"expired", f.sign(t, tokenSpec{
			issuer: testIssuer, audience: testAudience, subject: "u",
			expiry: time.Now().Add(-time.Hour)})},
		{"foreign signature", stranger.sign(t, tokenSpec{
			issuer: testIssuer, audience: testAudience, subject: "u"})},
		{"garbage", "not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	t.Run("disabled yields nil validator", func(t *testing.T) {
		v, err := NewFromConfig(context.Background(), config.AuthConfig{})
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("enabled without URL fails", func(t *testing.T) {
		_, err := NewFromConfig(context.Background(), config.AuthConfig{Enabled: true})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AUTH_JWKS_URL")
	})

	t.Run("enabled with reachable JWKS", func(t *testing.T) {
		f := newJWKSFixture(t)
		v, err := NewFromConfig(context.Background(), config.AuthConfig{
			Enabled: true,
			JWKSURL: f.url,
			Issuer:  testIssuer,
		})
		require.NoError(t, err)
		require.NotNil(t, v)
	})
}

func TestMiddleware(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.validator(t)

	var got *Claims
	handler := v.Middleware("/healthz")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	do := func(path, authHeader string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("missing header", func(t *testing.T) {
		rec := do("/mcp", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("wrong scheme", func(t *testing.T) {
		rec := do("/mcp", "Basic dXNlcjpwYXNz")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad token", func(t *testing.T) {
		rec := do("/mcp", "Bearer not.a.jwt")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NotContains(t, rec.Body.String(), "jwt", "validation detail stays server-side")
	})

	t.Run("valid token", func(t *testing.T) {
		raw := f.sign(t, tokenSpec{issuer: testIssuer, audience: testAudience, subject: "user-7"})
		rec := do("/mcp", "Bearer "+raw)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, got)
		assert.Equal(t, "user-7", got.Subject)
	})

	t.Run("exempt path skips auth", func(t *testing.T) {
		got = nil
		rec := do("/healthz", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Nil(t, got, "exempt requests carry no claims")
	})
}

func TestNilValidatorMiddlewareIsPassThrough(t *testing.T) {
	var v *Validator
	handler := v.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
