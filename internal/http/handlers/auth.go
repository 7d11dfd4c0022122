package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/wascheduler/internal/config"
	"github.com/geocoder89/wascheduler/internal/service/authsvc"
)

type AuthService interface {
	Register(ctx context.Context, email, password, confirmPassword string) error
	VerifyEmail(ctx context.Context, token string) error
	Login(ctx context.Context, email, password string) (authsvc.Session, error)
}

type AuthHandler struct {
	svc AuthService
	log *slog.Logger
}

func NewAuthHandler(svc AuthService, log *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, log: log}
}

type RegisterRequest struct {
	Email           string `json:"email" binding:"required,email"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirmPassword"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req RegisterRequest
	if !BindJSON(ctx, &req) {
		return
	}

	// hashing plus a mail round trip
	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.svc.Register(cctx, req.Email, req.Password, req.ConfirmPassword); err != nil {
		RespondServiceError(ctx, h.log, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"message": "User registered. Please check your email to verify your account.",
	})
}

func (h *AuthHandler) Verify(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	if err := h.svc.VerifyEmail(cctx, ctx.Param("token")); err != nil {
		RespondServiceError(ctx, h.log, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Email verified successfully"})
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	sess, err := h.svc.Login(cctx, req.Email, req.Password)
	if err != nil {
		RespondServiceError(ctx, h.log, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"sessionToken": sess.Token,
		"userId":       sess.UserID,
	})
}
