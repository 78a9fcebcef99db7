package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"bookingsync/internal/config"
)

const testSecret = "testsecret"

func buildAuthRouter(cfg config.AuthConfig) *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(cfg))
	r.GET("/api/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("subject"))
	})
	return r
}

func signTestToken(t *testing.T, secret string, method jwt.SigningMethod, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestAuthMiddleware(t *testing.T) {
	r := buildAuthRouter(config.AuthConfig{JWTSecret: testSecret, StaticTokens: []string{"static-1", " static-2 "}})
	future := time.Now().Add(time.Hour)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"static token", "Bearer static-1", http.StatusOK},
		{"trimmed static token", "Bearer static-2", http.StatusOK},
		{"unknown static token", "Bearer static-3", http.StatusUnauthorized},
		{"valid jwt", "Bearer " + signTestToken(t, testSecret, jwt.SigningMethodHS256, future), http.StatusOK},
		{"wrong secret", "Bearer " + signTestToken(t, "other", jwt.SigningMethodHS256, future), http.StatusUnauthorized},
		{"expired jwt", "Bearer " + signTestToken(t, testSecret, jwt.SigningMethodHS256, time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"hs512 jwt", "Bearer " + signTestToken(t, testSecret, jwt.SigningMethodHS512, future), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestAuthMiddleware_JWTSubject(t *testing.T) {
	r := buildAuthRouter(config.AuthConfig{JWTSecret: testSecret})
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, testSecret, jwt.SigningMethodHS256, time.Now().Add(time.Hour)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "admin" {
		t.Errorf("got %d %q, want 200 admin", w.Code, w.Body.String())
	}
}

func TestAuthMiddleware_DisabledWithoutConfig(t *testing.T) {
	r := buildAuthRouter(config.AuthConfig{})
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", w.Code)
	}
}
