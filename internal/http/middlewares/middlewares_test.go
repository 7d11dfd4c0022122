package middlewares

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/wascheduler/internal/actorctx"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSessions struct {
	parseFn func(token string) (int64, error)
}

func (f fakeSessions) ParseSession(token string) (int64, error) {
	return f.parseFn(token)
}

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("redis down")
}

func do(r http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_BlocksAfterLimit(t *testing.T) {
	rl := NewRateLimiter(NewMemoryWindowStore(), "auth", 2, time.Minute, nil)

	r := gin.New()
	r.Use(RequestID())
	r.POST("/login", rl.Middleware(KeyByIP), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		if w := do(r, http.MethodPost, "/login", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, w.Code)
		}
	}

	w := do(r, http.MethodPost, "/login", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("got %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
	if !strings.Contains(w.Body.String(), `"rate_limited"`) || !strings.Contains(w.Body.String(), `"requestId"`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestRateLimiter_StoreFailureLetsRequestsThrough(t *testing.T) {
	rl := NewRateLimiter(failingStore{}, "auth", 1, time.Minute, nil)

	r := gin.New()
	r.GET("/x", rl.Middleware(KeyByIP), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		if w := do(r, http.MethodGet, "/x", nil); w.Code != http.StatusOK {
			t.Fatalf("got %d", w.Code)
		}
	}
}

func TestMemoryWindowStore_ResetsAfterWindow(t *testing.T) {
	s := NewMemoryWindowStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, left, _ := s.Incr(context.Background(), "k", time.Minute)
	if n != 1 || left != time.Minute {
		t.Fatalf("got n=%d left=%v", n, left)
	}
	n, _, _ = s.Incr(context.Background(), "k", time.Minute)
	if n != 2 {
		t.Fatalf("got n=%d", n)
	}

	now = now.Add(time.Minute)
	n, _, _ = s.Incr(context.Background(), "k", time.Minute)
	if n != 1 {
		t.Fatalf("window should reset, got n=%d", n)
	}
}

func TestRequireAuth(t *testing.T) {
	am := NewAuthMiddleware(fakeSessions{parseFn: func(token string) (int64, error) {
		if token == "good" {
			return 42, nil
		}
		return 0, errors.New("bad token")
	}})

	r := gin.New()
	r.GET("/me", am.RequireAuth(), func(c *gin.Context) {
		uid, ok := UserIDFromContext(c)
		ctxUID, ctxOK := actorctx.UserIDFrom(c.Request.Context())
		if !ok || !ctxOK || uid != ctxUID {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": uid})
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer good", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, "/me", map[string]string{"Authorization": tt.header})
			if w.Code != tt.want {
				t.Fatalf("got %d want %d body=%s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRequireOwner(t *testing.T) {
	am := NewAuthMiddleware(fakeSessions{parseFn: func(string) (int64, error) { return 7, nil }})

	r := gin.New()
	r.GET("/users/:userId", am.RequireAuth(), am.RequireOwner("userId"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	auth := map[string]string{"Authorization": "Bearer t"}
	if w := do(r, http.MethodGet, "/users/7", auth); w.Code != http.StatusOK {
		t.Fatalf("owner: got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/users/8", auth); w.Code != http.StatusForbidden {
		t.Fatalf("other user: got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/users/abc", auth); w.Code != http.StatusForbidden {
		t.Fatalf("bad id: got %d", w.Code)
	}
}

func TestIsOwner_WithoutIdentityAllows(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if !IsOwner(c, 5) {
		t.Fatal("anonymous request should be allowed")
	}

	c.Set(CtxUserID, int64(4))
	if IsOwner(c, 5) {
		t.Fatal("mismatched identity should be refused")
	}
}

func TestRequireJSON(t *testing.T) {
	r := gin.New()
	r.Use(RequireJSON())
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := do(r, http.MethodPost, "/x", map[string]string{"Content-Type": "application/json; charset=utf-8"}); w.Code != http.StatusOK {
		t.Fatalf("json: got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/x", map[string]string{"Content-Type": "text/plain"}); w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("text: got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/x", nil); w.Code != http.StatusOK {
		t.Fatalf("get: got %d", w.Code)
	}
}

func TestRequestID_EchoesOrGenerates(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(r, http.MethodGet, "/x", map[string]string{"X-Request-Id": "abc"})
	if got := w.Header().Get("X-Request-Id"); got != "abc" {
		t.Fatalf("got %q", got)
	}

	w = do(r, http.MethodGet, "/x", nil)
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected generated id")
	}
}

func TestCORS_PreflightAndAllowedOrigin(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"http://localhost:3000"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(r, http.MethodOptions, "/x", map[string]string{"Origin": "http://localhost:3000"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight: got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatal("missing allow-origin")
	}

	w = do(r, http.MethodGet, "/x", map[string]string{"Origin": "http://evil.test"})
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unexpected allow-origin for unknown origin")
	}
}

func TestSecurityHeaders_CSPByPath(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders())
	r.GET("/api/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	if got := do(r, http.MethodGet, "/api/x", nil).Header().Get("Content-Security-Policy"); got != apiCSP {
		t.Fatalf("api csp: %q", got)
	}
	if got := do(r, http.MethodGet, "/", nil).Header().Get("Content-Security-Policy"); got != clientCSP {
		t.Fatalf("client csp: %q", got)
	}
}

func TestRequireJSON_BodylessPostPasses(t *testing.T) {
	r := gin.New()
	r.Use(RequireJSON())
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
}

func TestCORS_WildcardEchoesOrigin(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"*"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(r, http.MethodGet, "/x", map[string]string{"Origin": "https://anywhere.test"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://anywhere.test" {
		t.Fatalf("allow-origin: %q", got)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Expose-Headers"), "ETag") {
		t.Fatal("ETag not exposed")
	}
}

func TestSecurityHeaders_HSTSOnlyBehindTLS(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(r, http.MethodGet, "/healthz", nil)
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("hsts on plain http")
	}
	if w.Header().Get("Content-Security-Policy") != apiCSP {
		t.Fatal("health routes should get the api csp")
	}

	w = do(r, http.MethodGet, "/healthz", map[string]string{"X-Forwarded-Proto": "https"})
	if w.Header().Get("Strict-Transport-Security") != hsts {
		t.Fatal("missing hsts behind tls proxy")
	}
}

func TestRequestID_ReplacesUnprintable(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(r, http.MethodGet, "/x", map[string]string{"X-Request-Id": "has space"})
	if got := w.Header().Get("X-Request-Id"); got == "has space" || got == "" {
		t.Fatalf("got %q", got)
	}
}

func TestRequestLogger_LevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	r := gin.New()
	r.Use(RequestID(), RequestLogger(log))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	do(r, http.MethodGet, "/healthz", nil)
	if buf.Len() != 0 {
		t.Fatalf("health probe logged at info: %s", buf.String())
	}

	do(r, http.MethodGet, "/boom", nil)
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatal(err)
	}
	if line["level"] != "ERROR" || line["route"] != "/boom" || line["request_id"] == "" {
		t.Fatalf("unexpected log line %v", line)
	}
}
