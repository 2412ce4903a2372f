package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/voicemode/internal/handlers/websocket"
	"github.com/xpanvictor/voicemode/pkg/Logger"
)

const testSecret = "not-so-secret"

func authRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AuthMiddleware(secret, Logger.Nop()))
	router.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(websocket.ContextSubject))
	})
	return router
}

func TestAuthMiddleware(t *testing.T) {
	valid, err := NewToken(testSecret, "kitchen-panel", time.Hour)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	expired, _ := NewToken(testSecret, "kitchen-panel", -time.Minute)
	forged, _ := NewToken("other-secret", "kitchen-panel", time.Hour)

	cases := []struct {
		name    string
		header  string
		query   string
		code    int
		subject string
	}{
		{"bearer header", "Bearer " + valid, "", http.StatusOK, "kitchen-panel"},
		{"query token", "", valid, http.StatusOK, "kitchen-panel"},
		{"missing", "", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", "", http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized, ""},
		{"wrong key", "Bearer " + forged, "", http.StatusUnauthorized, ""},
	}

	router := authRouter(testSecret)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := "/whoami"
			if tc.query != "" {
				path += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tc.code {
				t.Fatalf("Expected %d, got %d", tc.code, w.Code)
			}
			if tc.code == http.StatusOK && w.Body.String() != tc.subject {
				t.Errorf("Expected subject %q, got %q", tc.subject, w.Body.String())
			}
		})
	}
}

func TestAuthDisabledWithoutSecret(t *testing.T) {
	router := authRouter("")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with auth disabled, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORSMiddleware())
	router.PUT("/api/voice/mode", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/voice/mode", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS origin header")
	}
}
