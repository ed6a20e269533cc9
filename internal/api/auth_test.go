package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/project-builder/internal/store"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func TestAuth_NoAuthMode(t *testing.T) {
	e := newTestEnv(t, noAuth())
	resp := e.do(t, http.MethodGet, "/api/v1/projects", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_APIKey(t *testing.T) {
	e := newTestEnv(t, AuthConfig{Mode: AuthAPIKey, APIKey: "test-secret-key"})

	resp := e.do(t, http.MethodGet, "/api/v1/projects", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Authorization header is required", decode[errorBody](t, resp).Error)

	resp = e.do(t, http.MethodGet, "/api/v1/projects", "", "Authorization", "Basic abc")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/v1/projects", "", "Authorization", "Bearer wrong-key")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid API key", decode[errorBody](t, resp).Error)

	resp = e.do(t, http.MethodGet, "/api/v1/projects", "", "Authorization", "Bearer test-secret-key")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_ProbesSkipAuth(t *testing.T) {
	e := newTestEnv(t, AuthConfig{Mode: AuthAPIKey, APIKey: "test-secret-key"})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp := e.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestAuth_JWTSubjectBecomesUser(t *testing.T) {
	e := newTestEnv(t, AuthConfig{Mode: AuthJWT, JWTSecret: testSecret})
	tok := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub":   "u-42",
		"role":  "authenticated",
		"email": "producer@tracksandfields.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	resp := e.do(t, http.MethodPost, "/api/v1/projects", `{"user_id":"someone-else"}`, "Authorization", "Bearer "+tok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode[map[string]any](t, resp)

	rows, err := e.store.ListActivity(context.Background(), store.ActivityFilter{CaseID: body["id"].(string)})
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "u-42", rows[0].UserID)
}

func TestAuth_JWTRejected(t *testing.T) {
	e := newTestEnv(t, AuthConfig{Mode: AuthJWT, JWTSecret: testSecret})

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", signToken(t, jwt.SigningMethodHS256, []byte("another-secret"), jwt.MapClaims{
			"sub": "u-1", "exp": time.Now().Add(time.Hour).Unix(),
		})},
		{"expired", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
			"sub": "u-1", "exp": time.Now().Add(-time.Hour).Unix(),
		})},
		{"wrong algorithm", signToken(t, jwt.SigningMethodHS512, []byte(testSecret), jwt.MapClaims{
			"sub": "u-1", "exp": time.Now().Add(time.Hour).Unix(),
		})},
		{"no subject", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.do(t, http.MethodGet, "/api/v1/projects", "", "Authorization", "Bearer "+tt.token)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestRateLimit(t *testing.T) {
	cfg := RateLimitConfig{RPS: 2, Burst: 4}
	assert.Equal(t, 2*time.Second, cfg.window())
	assert.Equal(t, time.Second, RateLimitConfig{RPS: 5, Burst: 1}.window())
}
