package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chaoschain/chaoscore/pkg/auth"
)

const testSecret = "test-secret-0123456789"

// createTestToken generates a signed HS256 JWT for testing.
func createTestToken(t *testing.T, sub string, roles []string, expiry time.Time) string {
	t.Helper()
	claims := auth.AgentClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "chaoscore-test",
		},
		Roles: roles,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestMiddleware_ValidJWT(t *testing.T) {
	middleware := auth.NewMiddleware(auth.NewHMACValidator(testSecret))

	var capturedPrincipal auth.Principal
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.GetPrincipal(r.Context())
		if err != nil {
			t.Errorf("expected principal in context: %v", err)
		}
		capturedPrincipal = p
		w.WriteHeader(http.StatusOK)
	}))

	token := createTestToken(t, "agent-123", []string{"operator"}, time.Now().Add(1*time.Hour))

	req := httptest.NewRequest("POST", "/api/actions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if capturedPrincipal == nil || capturedPrincipal.GetID() != "agent-123" {
		t.Errorf("expected principal agent-123, got %v", capturedPrincipal)
	}
	if !capturedPrincipal.HasRole("operator") {
		t.Error("expected operator role on principal")
	}
}

func TestMiddleware_MissingHeader(t *testing.T) {
	middleware := auth.NewMiddleware(auth.NewHMACValidator(testSecret))
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	req := httptest.NewRequest("POST", "/api/actions", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	middleware := auth.NewMiddleware(auth.NewHMACValidator(testSecret))
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	token := createTestToken(t, "agent-123", nil, time.Now().Add(-1*time.Hour))

	req := httptest.NewRequest("POST", "/api/actions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_WrongSecret(t *testing.T) {
	middleware := auth.NewMiddleware(auth.NewHMACValidator("other-secret"))
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	token := createTestToken(t, "agent-123", nil, time.Now().Add(1*time.Hour))

	req := httptest.NewRequest("POST", "/api/actions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_FailClosedWithoutValidator(t *testing.T) {
	middleware := auth.NewMiddleware(nil)
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	req := httptest.NewRequest("POST", "/api/actions", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_PublicPathSkipsAuth(t *testing.T) {
	middleware := auth.NewMiddleware(nil)
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for public path, got %d", w.Code)
	}
}
