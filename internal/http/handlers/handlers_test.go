package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/wascheduler/internal/apperr"
	"github.com/geocoder89/wascheduler/internal/domain/schedule"
	"github.com/geocoder89/wascheduler/internal/http/handlers"
	"github.com/geocoder89/wascheduler/internal/http/middlewares"
	"github.com/geocoder89/wascheduler/internal/service/authsvc"
	"github.com/geocoder89/wascheduler/internal/service/scheduling"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeAuthService struct {
	registerFn func(ctx context.Context, email, password, confirm string) error
	verifyFn   func(ctx context.Context, token string) error
	loginFn    func(ctx context.Context, email, password string) (authsvc.Session, error)
}

func (f *fakeAuthService) Register(ctx context.Context, email, password, confirm string) error {
	if f.registerFn != nil {
		return f.registerFn(ctx, email, password, confirm)
	}
	return nil
}

func (f *fakeAuthService) VerifyEmail(ctx context.Context, token string) error {
	if f.verifyFn != nil {
		return f.verifyFn(ctx, token)
	}
	return nil
}

func (f *fakeAuthService) Login(ctx context.Context, email, password string) (authsvc.Session, error) {
	if f.loginFn != nil {
		return f.loginFn(ctx, email, password)
	}
	return authsvc.Session{}, nil
}

type fakeScheduling struct {
	initFn     func(ctx context.Context, userID int64) error
	codeFn     func(ctx context.Context, userID int64) (string, error)
	statusFn   func(userID int64) scheduling.SessionStatus
	scheduleFn func(ctx context.Context, userID int64, phone, message string, at time.Time) (schedule.Message, error)
	listFn     func(ctx context.Context, userID int64) ([]schedule.Message, error)
}

func (f *fakeScheduling) EnsureSessionStarted(ctx context.Context, userID int64) error {
	if f.initFn != nil {
		return f.initFn(ctx, userID)
	}
	return nil
}

func (f *fakeScheduling) GetLinkCode(ctx context.Context, userID int64) (string, error) {
	if f.codeFn != nil {
		return f.codeFn(ctx, userID)
	}
	return "", apperr.ErrNotFound
}

func (f *fakeScheduling) SessionStatus(userID int64) scheduling.SessionStatus {
	if f.statusFn != nil {
		return f.statusFn(userID)
	}
	return scheduling.SessionStatus{}
}

func (f *fakeScheduling) ScheduleMessage(ctx context.Context, userID int64, phone, message string, at time.Time) (schedule.Message, error) {
	if f.scheduleFn != nil {
		return f.scheduleFn(ctx, userID, phone, message, at)
	}
	return schedule.Message{}, nil
}

func (f *fakeScheduling) ListScheduled(ctx context.Context, userID int64) ([]schedule.Message, error) {
	if f.listFn != nil {
		return f.listFn(ctx, userID)
	}
	return []schedule.Message{}, nil
}

type errorResponse struct {
	Error handlers.APIError `json:"error"`
}

func serve(r http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal error: %v body=%s", err, w.Body.String())
	}
	return resp.Error.Code
}

func authRouter(svc handlers.AuthService) *gin.Engine {
	h := handlers.NewAuthHandler(svc, discard)
	r := gin.New()
	r.Use(middlewares.RequestID())
	r.POST("/api/auth/register", h.Register)
	r.GET("/api/auth/verify/:token", h.Verify)
	r.POST("/api/auth/login", h.Login)
	return r
}

func TestRegisterHandler(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantErr  string
	}{
		{
			name:     "created",
			body:     `{"email":"a@x.com","password":"pw1","confirmPassword":"pw1"}`,
			wantCode: http.StatusCreated,
		},
		{
			name:     "mismatch",
			body:     `{"email":"a@x.com","password":"pw1","confirmPassword":"pw2"}`,
			err:      fmt.Errorf("%w: passwords do not match", apperr.ErrValidation),
			wantCode: http.StatusBadRequest,
			wantErr:  "validation_error",
		},
		{
			name:     "duplicate",
			body:     `{"email":"a@x.com","password":"pw1","confirmPassword":"pw1"}`,
			err:      apperr.ErrConflict,
			wantCode: http.StatusBadRequest,
			wantErr:  "conflict",
		},
		{
			name:     "bad email",
			body:     `{"email":"nope","password":"pw1","confirmPassword":"pw1"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_request",
		},
		{
			name:     "store failure",
			body:     `{"email":"a@x.com","password":"pw1","confirmPassword":"pw1"}`,
			err:      fmt.Errorf("%w: db down", apperr.ErrInternal),
			wantCode: http.StatusInternalServerError,
			wantErr:  "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeAuthService{registerFn: func(context.Context, string, string, string) error { return tt.err }}
			w := serve(authRouter(svc), http.MethodPost, "/api/auth/register", tt.body, nil)

			if w.Code != tt.wantCode {
				t.Fatalf("got %d want %d body=%s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantErr != "" && errorCode(t, w) != tt.wantErr {
				t.Fatalf("got error code %q want %q", errorCode(t, w), tt.wantErr)
			}
		})
	}
}

func TestRegisterHandler_MismatchMessage(t *testing.T) {
	svc := &fakeAuthService{registerFn: func(context.Context, string, string, string) error {
		return fmt.Errorf("%w: passwords do not match", apperr.ErrValidation)
	}}
	w := serve(authRouter(svc), http.MethodPost, "/api/auth/register", `{"email":"a@x.com","password":"a","confirmPassword":"b"}`, nil)

	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.Message != "Passwords do not match" {
		t.Fatalf("got message %q", resp.Error.Message)
	}
	if resp.Error.RequestID == "" {
		t.Fatal("expected request id in envelope")
	}
}

func TestVerifyHandler(t *testing.T) {
	var got string
	svc := &fakeAuthService{verifyFn: func(_ context.Context, token string) error {
		got = token
		if token == "used" {
			return apperr.ErrInvalidToken
		}
		return nil
	}}
	r := authRouter(svc)

	w := serve(r, http.MethodGet, "/api/auth/verify/tok123", "", nil)
	if w.Code != http.StatusOK || got != "tok123" {
		t.Fatalf("got %d token=%q", w.Code, got)
	}

	w = serve(r, http.MethodGet, "/api/auth/verify/used", "", nil)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "invalid_token" {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}
}

func TestLoginHandler(t *testing.T) {
	svc := &fakeAuthService{loginFn: func(_ context.Context, email, _ string) (authsvc.Session, error) {
		switch email {
		case "ok@x.com":
			return authsvc.Session{Token: "jwt", UserID: 9}, nil
		case "new@x.com":
			return authsvc.Session{}, apperr.ErrUnverified
		default:
			return authsvc.Session{}, apperr.ErrInvalidCredentials
		}
	}}
	r := authRouter(svc)

	w := serve(r, http.MethodPost, "/api/auth/login", `{"email":"ok@x.com","password":"pw"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}
	var ok struct {
		SessionToken string `json:"sessionToken"`
		UserID       int64  `json:"userId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &ok); err != nil {
		t.Fatal(err)
	}
	if ok.SessionToken != "jwt" || ok.UserID != 9 {
		t.Fatalf("unexpected body %+v", ok)
	}

	w = serve(r, http.MethodPost, "/api/auth/login", `{"email":"new@x.com","password":"pw"}`, nil)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "unverified" {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodPost, "/api/auth/login", `{"email":"x@x.com","password":"pw"}`, nil)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "invalid_credentials" {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}
}

func whatsappRouter(svc handlers.SchedulingService, actor int64) *gin.Engine {
	h := handlers.NewWhatsAppHandler(svc, nil, discard)
	r := gin.New()
	if actor > 0 {
		r.Use(func(c *gin.Context) { c.Set(middlewares.CtxUserID, actor) })
	}
	r.POST("/api/whatsapp/init", h.Init)
	r.GET("/api/whatsapp/qr/:userId", h.QR)
	r.GET("/api/whatsapp/qr/:userId/png", h.QRPNG)
	r.GET("/api/whatsapp/status/:userId", h.Status)
	r.POST("/api/whatsapp/schedule", h.Schedule)
	r.GET("/api/whatsapp/scheduled/:userId", h.Scheduled)
	return r
}

func TestInitHandler(t *testing.T) {
	calls := 0
	svc := &fakeScheduling{initFn: func(_ context.Context, userID int64) error {
		calls++
		if calls > 1 {
			return apperr.ErrAlreadyInitialized
		}
		return nil
	}}
	r := whatsappRouter(svc, 0)

	if w := serve(r, http.MethodPost, "/api/whatsapp/init", `{"userId":1}`, nil); w.Code != http.StatusOK {
		t.Fatalf("first init: got %d", w.Code)
	}
	w := serve(r, http.MethodPost, "/api/whatsapp/init", `{"userId":1}`, nil)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "already_initialized" {
		t.Fatalf("second init: got %d body=%s", w.Code, w.Body.String())
	}
	if w := serve(r, http.MethodPost, "/api/whatsapp/init", `{}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing userId: got %d", w.Code)
	}
}

func TestInitHandler_RefusesOtherUser(t *testing.T) {
	svc := &fakeScheduling{initFn: func(context.Context, int64) error {
		t.Fatal("service must not be called")
		return nil
	}}
	w := serve(whatsappRouter(svc, 2), http.MethodPost, "/api/whatsapp/init", `{"userId":1}`, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("got %d", w.Code)
	}
}

func TestQRHandler(t *testing.T) {
	svc := &fakeScheduling{codeFn: func(_ context.Context, userID int64) (string, error) {
		switch userID {
		case 1:
			return "2@abc", nil
		case 2:
			return "", apperr.ErrNotReady
		default:
			return "", apperr.ErrNotFound
		}
	}}
	r := whatsappRouter(svc, 0)

	w := serve(r, http.MethodGet, "/api/whatsapp/qr/1", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != `{"code":"2@abc"}` {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/api/whatsapp/qr/2", "", nil)
	if w.Code != http.StatusNotFound || errorCode(t, w) != "not_ready" {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/api/whatsapp/qr/3", "", nil)
	if w.Code != http.StatusNotFound || errorCode(t, w) != "not_found" {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/api/whatsapp/qr/abc", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: got %d", w.Code)
	}

	w = serve(r, http.MethodGet, "/api/whatsapp/qr/1/png", "", nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("png: got %d %q", w.Code, w.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte{0x89, 'P', 'N', 'G'}) {
		t.Fatal("body is not a png")
	}
}

func TestStatusHandler(t *testing.T) {
	svc := &fakeScheduling{statusFn: func(int64) scheduling.SessionStatus {
		return scheduling.SessionStatus{Initialized: true, HasCode: true}
	}}
	w := serve(whatsappRouter(svc, 0), http.MethodGet, "/api/whatsapp/status/1", "", nil)

	want := `{"initialized":true,"ready":false,"hasCode":true}`
	if w.Code != http.StatusOK || w.Body.String() != want {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}
}

func TestScheduleHandler(t *testing.T) {
	var gotAt time.Time
	svc := &fakeScheduling{scheduleFn: func(_ context.Context, userID int64, phone, message string, at time.Time) (schedule.Message, error) {
		if userID == 2 {
			return schedule.Message{}, apperr.ErrSessionNotReady
		}
		gotAt = at
		return schedule.Message{
			ID: 1, UserID: userID, PhoneNumber: phone, Message: message,
			ScheduledTime: at, Status: schedule.StatusScheduled,
		}, nil
	}}
	r := whatsappRouter(svc, 0)

	w := serve(r, http.MethodPost, "/api/whatsapp/schedule",
		`{"userId":1,"phoneNumber":"+15550001","message":"hi","scheduledTime":"2030-01-01T09:00"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}
	if !gotAt.Equal(time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected time %v", gotAt)
	}
	var msg map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &msg); err != nil {
		t.Fatal(err)
	}
	if msg["status"] != "scheduled" || msg["phone_number"] != "+15550001" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}

	w = serve(r, http.MethodPost, "/api/whatsapp/schedule",
		`{"userId":2,"phoneNumber":"+1","message":"hi","scheduledTime":"2030-01-01T09:00:00Z"}`, nil)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "session_not_ready" {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodPost, "/api/whatsapp/schedule",
		`{"userId":1,"phoneNumber":"+1","message":"hi","scheduledTime":"tomorrow"}`, nil)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "validation_error" {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}
}

func TestScheduleHandler_BodyCheckedBeforeSession(t *testing.T) {
	calls := 0
	svc := &fakeScheduling{scheduleFn: func(context.Context, int64, string, string, time.Time) (schedule.Message, error) {
		calls++
		return schedule.Message{}, apperr.ErrSessionNotReady
	}}
	r := whatsappRouter(svc, 0)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"bad time", `{"userId":1,"phoneNumber":"+1","message":"hi","scheduledTime":"tomorrow"}`, "validation_error"},
		{"missing message", `{"userId":1,"phoneNumber":"+1","scheduledTime":"2030-01-01T09:00"}`, "invalid_request"},
		{"phone too long", `{"userId":1,"phoneNumber":"+123456789012345678901","message":"hi","scheduledTime":"2030-01-01T09:00"}`, "invalid_request"},
		{"broken json", `{"userId":1,`, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, http.MethodPost, "/api/whatsapp/schedule", tt.body, nil)
			if w.Code != http.StatusBadRequest || errorCode(t, w) != tt.code {
				t.Fatalf("got %d body=%s", w.Code, w.Body.String())
			}
		})
	}
	if calls != 0 {
		t.Fatalf("service called %d times for malformed bodies", calls)
	}

	w := serve(r, http.MethodPost, "/api/whatsapp/schedule",
		`{"userId":1,"phoneNumber":"+1","message":"hi","scheduledTime":"2030-01-01T09:00"}`, nil)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "session_not_ready" {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}
	if calls != 1 {
		t.Fatalf("expected one service call, got %d", calls)
	}
}

func TestScheduledHandler_ETag(t *testing.T) {
	items := []schedule.Message{{ID: 1, UserID: 1, PhoneNumber: "+1", Message: "a", Status: schedule.StatusScheduled}}
	svc := &fakeScheduling{listFn: func(_ context.Context, userID int64) ([]schedule.Message, error) {
		if userID == 5 {
			return nil, errors.New("db down")
		}
		return items, nil
	}}
	r := whatsappRouter(svc, 0)

	w := serve(r, http.MethodGet, "/api/whatsapp/scheduled/1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing etag")
	}

	w = serve(r, http.MethodGet, "/api/whatsapp/scheduled/1", "", map[string]string{"If-None-Match": "W/" + etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("got %d, want 304", w.Code)
	}

	w = serve(r, http.MethodGet, "/api/whatsapp/scheduled/5", "", nil)
	if w.Code != http.StatusInternalServerError || errorCode(t, w) != "internal_error" {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}
}

func TestScheduledHandler_EmptyListIsArray(t *testing.T) {
	w := serve(whatsappRouter(&fakeScheduling{}, 0), http.MethodGet, "/api/whatsapp/scheduled/1", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}
}

func TestHealthHandler(t *testing.T) {
	var fail bool
	h := handlers.NewHealthHandler(map[string]handlers.Check{
		"db": func(context.Context) error {
			if fail {
				return errors.New("down")
			}
			return nil
		},
	})
	r := gin.New()
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if w := serve(r, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/readyz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("readyz: %d", w.Code)
	}
	fail = true
	if w := serve(r, http.MethodGet, "/readyz", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz failing: %d", w.Code)
	}
}

func TestSPAHandler(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "static"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "static", "main.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	r.NoRoute(handlers.NewSPAHandler(dir).NoRoute)

	w := serve(r, http.MethodGet, "/static/main.js", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "console.log(1)" {
		t.Fatalf("asset: %d %s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/dashboard/settings", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "<html>app</html>" {
		t.Fatalf("client route: %d %s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/api/nope", "", nil)
	if w.Code != http.StatusNotFound || errorCode(t, w) != "not_found" {
		t.Fatalf("api 404: %d %s", w.Code, w.Body.String())
	}
}
