package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt"

	"dispatch/internal/domain"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func newAuthRouter() *gin.Engine {
	r := gin.New()
	auth := NewAuthenticator(testSecret)
	r.Use(auth.Middleware())
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c), "role": Role(c)})
	})
	r.GET("/drivers-only", RequireRole(domain.RoleDriver), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	valid := signToken(t, testSecret, jwt.MapClaims{"user_id": "d1", "role": "DRIVER", "exp": time.Now().Add(time.Hour).Unix()})
	sub := signToken(t, testSecret, jwt.MapClaims{"sub": "u1", "role": "rider"})
	expired := signToken(t, testSecret, jwt.MapClaims{"user_id": "d1", "role": "driver", "exp": time.Now().Add(-time.Hour).Unix()})
	forged := signToken(t, "other-secret", jwt.MapClaims{"user_id": "d1", "role": "driver"})
	noRole := signToken(t, testSecret, jwt.MapClaims{"user_id": "d1"})

	tests := []struct {
		name     string
		header   string
		path     string
		wantCode int
		wantUser string
	}{
		{"valid driver", "Bearer " + valid, "/whoami", http.StatusOK, "d1"},
		{"sub claim", "Bearer " + sub, "/whoami", http.StatusOK, "u1"},
		{"missing", "", "/whoami", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", "/whoami", http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expired, "/whoami", http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + forged, "/whoami", http.StatusUnauthorized, ""},
		{"no role", "Bearer " + noRole, "/whoami", http.StatusUnauthorized, ""},
		{"role allowed", "Bearer " + valid, "/drivers-only", http.StatusOK, ""},
		{"role denied", "Bearer " + sub, "/drivers-only", http.StatusForbidden, ""},
	}

	r := newAuthRouter()
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != tt.wantCode {
			t.Errorf("%s: status = %d, want %d", tt.name, w.Code, tt.wantCode)
			continue
		}
		var body map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &body)
		if tt.wantUser != "" && body["user_id"] != tt.wantUser {
			t.Errorf("%s: user = %v, want %s", tt.name, body["user_id"], tt.wantUser)
		}
		if w.Code == http.StatusUnauthorized && body["code"] != "unauthenticated" {
			t.Errorf("%s: code = %v", tt.name, body["code"])
		}
		if w.Code == http.StatusForbidden && body["code"] != "forbidden_role" {
			t.Errorf("%s: code = %v", tt.name, body["code"])
		}
	}
}

func TestAuthMiddlewareQueryTokenOnlyForUpgrades(t *testing.T) {
	t.Parallel()

	token := signToken(t, testSecret, jwt.MapClaims{"user_id": "d1", "role": "driver"})
	r := newAuthRouter()

	plain := httptest.NewRequest(http.MethodGet, "/whoami?token="+token, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, plain)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("plain request with query token: status = %d", w.Code)
	}

	upgrade := httptest.NewRequest(http.MethodGet, "/whoami?token="+token, nil)
	upgrade.Header.Set("Connection", "Upgrade")
	upgrade.Header.Set("Upgrade", "websocket")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, upgrade)
	if w.Code != http.StatusOK {
		t.Errorf("upgrade request with query token: status = %d", w.Code)
	}
}

func TestIdempotencyWithoutRedisPassesThrough(t *testing.T) {
	t.Parallel()

	r := gin.New()
	r.Use(IdempotencyMiddleware(nil))
	calls := 0
	r.POST("/x", func(c *gin.Context) {
		calls++
		c.Status(http.StatusCreated)
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set(idempotencyHeader, "k1")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	r := gin.New()
	r.Use(CORSMiddleware())
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing allow-origin")
	}
}
