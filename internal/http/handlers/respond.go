package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/wascheduler/internal/apperr"
	"github.com/geocoder89/wascheduler/internal/http/middlewares"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	if v, ok := ctx.Get(middlewares.CtxRequestID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ctx.GetHeader("X-Request-Id")
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

type errorMapping struct {
	kind    error
	status  int
	code    string
	message string
}

// first match wins
var serviceErrors = []errorMapping{
	{apperr.ErrValidation, http.StatusBadRequest, "validation_error", ""},
	{apperr.ErrConflict, http.StatusBadRequest, "conflict", "User already exists"},
	{apperr.ErrInvalidCredentials, http.StatusBadRequest, "invalid_credentials", "Invalid credentials"},
	{apperr.ErrUnverified, http.StatusBadRequest, "unverified", "Please verify your email first"},
	{apperr.ErrInvalidToken, http.StatusBadRequest, "invalid_token", "Invalid or expired token"},
	{apperr.ErrAlreadyInitialized, http.StatusBadRequest, "already_initialized", "WhatsApp client already initialized"},
	{apperr.ErrSessionNotReady, http.StatusBadRequest, "session_not_ready", "WhatsApp client not ready"},
	{apperr.ErrNotFound, http.StatusNotFound, "not_found", "WhatsApp client not found"},
	{apperr.ErrNotReady, http.StatusNotFound, "not_ready", "QR code not available yet"},
}

// RespondServiceError maps a service error to the envelope. Unknown errors
// are logged and reported as 500 without detail.
func RespondServiceError(ctx *gin.Context, log *slog.Logger, err error) {
	for _, m := range serviceErrors {
		if !errors.Is(err, m.kind) {
			continue
		}
		msg := m.message
		if msg == "" {
			msg = validationText(err)
		}
		RespondError(ctx, m.status, m.code, msg, nil)
		return
	}

	if log == nil {
		log = slog.Default()
	}
	log.ErrorContext(ctx.Request.Context(), "request failed",
		"route", ctx.FullPath(),
		"request_id", requestIDFrom(ctx),
		"err", err,
	)
	_ = ctx.Error(err)
	RespondInternal(ctx, "Something went wrong")
}

// validationText turns "validation failed: passwords do not match" into
// "Passwords do not match".
func validationText(err error) string {
	msg := err.Error()
	if _, rest, ok := strings.Cut(msg, apperr.ErrValidation.Error()+": "); ok {
		msg = rest
	}
	if msg == "" {
		return "Invalid request"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
