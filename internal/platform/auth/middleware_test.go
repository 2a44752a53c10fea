package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(sub string, roles ...string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Roles: roles,
	}
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected HTTP %d, got nil error", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	h := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error { return nil })
	expectHTTPError(t, h(c), http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			c := e.NewContext(req, httptest.NewRecorder())

			h := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error { return nil })
			expectHTTPError(t, h(c), http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("42", RoleProvider), testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	var gotID int64
	var gotRole string
	h := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error {
		var err error
		gotID, gotRole, err = IdentityFromContext(c.Request().Context())
		if err != nil {
			t.Fatalf("IdentityFromContext: %v", err)
		}
		if !IsVerified(c.Request().Context()) {
			t.Error("expected identity to be marked verified")
		}
		if uid, _ := c.Get("user_id").(int64); uid != 42 {
			t.Errorf("expected echo user_id 42, got %v", c.Get("user_id"))
		}
		return nil
	})

	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotID != 42 || gotRole != RoleProvider {
		t.Errorf("expected 42/doctor, got %d/%s", gotID, gotRole)
	}
}

func TestJWTMiddleware_TokenQueryParam(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("7", RolePatient), testSigningKey)

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws?token="+tokenStr, nil), httptest.NewRecorder())

	called := false
	h := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error {
		called = true
		id, role, _ := IdentityFromContext(c.Request().Context())
		if id != 7 || role != RolePatient {
			t.Errorf("expected 7/user, got %d/%s", id, role)
		}
		return nil
	})

	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}

func TestJWTMiddleware_Rejections(t *testing.T) {
	expired := validClaims("42", RolePatient)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	tests := []struct {
		name  string
		token string
		code  int
	}{
		{"expired", createTestToken(t, expired, testSigningKey), http.StatusUnauthorized},
		{"wrong key", createTestToken(t, validClaims("42", RolePatient), []byte("other-key")), http.StatusUnauthorized},
		{"non numeric subject", createTestToken(t, validClaims("dev-user", RolePatient), testSigningKey), http.StatusUnauthorized},
		{"no participant role", createTestToken(t, validClaims("42", "admin"), testSigningKey), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			c := e.NewContext(req, httptest.NewRecorder())

			h := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error {
				t.Error("handler must not run")
				return nil
			})
			expectHTTPError(t, h(c), tt.code)
		})
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())
	c.SetPath("/health")

	called := false
	h := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})(func(c echo.Context) error {
		called = true
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected public path to bypass auth")
	}
}

func TestJWTMiddleware_RS256ViaJWKS(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(JWKSResponse{Keys: []JWKSKey{rsaPublicKeyToJWK(privateKey, "k1")}})
	}))
	defer jwks.Close()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("9", RoleProvider))
	token.Header["kid"] = "k1"
	tokenStr, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	h := JWTMiddleware(JWTConfig{JWKSURL: jwks.URL})(func(c echo.Context) error {
		id, _, _ := IdentityFromContext(c.Request().Context())
		if id != 9 {
			t.Errorf("expected id 9, got %d", id)
		}
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// An HS256 token must not be accepted when the middleware expects JWKS keys.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+createTestToken(t, validClaims("9", RoleProvider), testSigningKey))
	c = e.NewContext(req, httptest.NewRecorder())
	expectHTTPError(t, h(c), http.StatusUnauthorized)
}

func TestDevAuthMiddleware_Headers(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "5")
	req.Header.Set("X-User-Role", RoleProvider)
	c := e.NewContext(req, httptest.NewRecorder())

	h := DevAuthMiddleware()(func(c echo.Context) error {
		id, role, err := IdentityFromContext(c.Request().Context())
		if err != nil || id != 5 || role != RoleProvider {
			t.Errorf("expected 5/doctor, got %d/%s (%v)", id, role, err)
		}
		if IsVerified(c.Request().Context()) {
			t.Error("development identity must not be marked verified")
		}
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_QueryDefaultsToPatient(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws?user_id=11", nil), httptest.NewRecorder())

	h := DevAuthMiddleware()(func(c echo.Context) error {
		id, role, _ := IdentityFromContext(c.Request().Context())
		if id != 11 || role != RolePatient {
			t.Errorf("expected 11/user, got %d/%s", id, role)
		}
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_NoIdentity(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	h := DevAuthMiddleware()(func(c echo.Context) error {
		if _, _, err := IdentityFromContext(c.Request().Context()); err != ErrUnauthenticated {
			t.Errorf("expected ErrUnauthenticated, got %v", err)
		}
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_InvalidValues(t *testing.T) {
	for _, tc := range []struct{ id, role string }{{"abc", ""}, {"-3", ""}, {"4", "admin"}} {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-User-ID", tc.id)
		req.Header.Set("X-User-Role", tc.role)
		c := e.NewContext(req, httptest.NewRecorder())

		h := DevAuthMiddleware()(func(c echo.Context) error { return nil })
		expectHTTPError(t, h(c), http.StatusBadRequest)
	}
}
