package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	a, err := New(Options{
		Logger:        zap.NewNop(),
		JWTSigningKey: "0123456789abcdef0123",
	})
	require.NoError(t, err)
	return a
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{Logger: zap.NewNop(), JWTSigningKey: "short"})
	assert.Error(t, err)
	_, err = New(Options{JWTSigningKey: "0123456789abcdef0123"})
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	a := newTestAuth(t)

	r := chi.NewRouter()
	r.Use(a.Middleware())
	r.Use(a.ClaimCheck())
	r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFromContext(r.Context())
		w.Write([]byte(claims.ID))
	})
	r.With(a.AdminCheck()).Get("/admin", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	userToken, err := a.CreateTokenFromClaims(Claims{ID: "user-1"})
	require.NoError(t, err)
	adminToken, err := a.CreateTokenFromClaims(Claims{ID: "admin-1", Admin: true})
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"missing bearer", "/me", "", http.StatusUnauthorized},
		{"garbage token", "/me", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"valid user", "/me", "Bearer " + userToken, http.StatusOK},
		{"user on admin route", "/admin", "Bearer " + userToken, http.StatusForbidden},
		{"admin on admin route", "/admin", "Bearer " + adminToken, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
