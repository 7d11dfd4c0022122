package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/wascheduler/internal/cache"
	"github.com/geocoder89/wascheduler/internal/config"
	"github.com/geocoder89/wascheduler/internal/domain/schedule"
	"github.com/geocoder89/wascheduler/internal/http/middlewares"
	"github.com/geocoder89/wascheduler/internal/service/scheduling"
	"github.com/geocoder89/wascheduler/internal/whatsapp"
)

const qrPNGSize = 256

type SchedulingService interface {
	EnsureSessionStarted(ctx context.Context, userID int64) error
	GetLinkCode(ctx context.Context, userID int64) (string, error)
	SessionStatus(userID int64) scheduling.SessionStatus
	ScheduleMessage(ctx context.Context, userID int64, phone, message string, at time.Time) (schedule.Message, error)
	ListScheduled(ctx context.Context, userID int64) ([]schedule.Message, error)
}

type WhatsAppHandler struct {
	svc    SchedulingService
	qrPNGs *cache.Cache[[]byte]
	log    *slog.Logger
}

func NewWhatsAppHandler(svc SchedulingService, qrPNGs *cache.Cache[[]byte], log *slog.Logger) *WhatsAppHandler {
	if qrPNGs == nil {
		qrPNGs = cache.New[[]byte](time.Minute, 256)
	}
	return &WhatsAppHandler{svc: svc, qrPNGs: qrPNGs, log: log}
}

type InitRequest struct {
	UserID int64 `json:"userId" binding:"required,min=1"`
}

func userIDParam(ctx *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Param("userId"), 10, 64)
	if err != nil || id <= 0 {
		RespondBadRequest(ctx, "Invalid user id", gin.H{"userId": ctx.Param("userId")})
		return 0, false
	}
	return id, true
}

// ensureOwner guards routes whose user id comes from the body.
func ensureOwner(ctx *gin.Context, userID int64) bool {
	if middlewares.IsOwner(ctx, userID) {
		return true
	}
	RespondError(ctx, http.StatusForbidden, "forbidden", "Not allowed to act for another user", nil)
	return false
}

func (h *WhatsAppHandler) Init(ctx *gin.Context) {
	var req InitRequest
	if !BindJSON(ctx, &req) {
		return
	}
	if !ensureOwner(ctx, req.UserID) {
		return
	}

	if err := h.svc.EnsureSessionStarted(ctx.Request.Context(), req.UserID); err != nil {
		RespondServiceError(ctx, h.log, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "WhatsApp client initializing"})
}

func (h *WhatsAppHandler) QR(ctx *gin.Context) {
	userID, ok := userIDParam(ctx)
	if !ok {
		return
	}

	code, err := h.svc.GetLinkCode(ctx.Request.Context(), userID)
	if err != nil {
		RespondServiceError(ctx, h.log, err)
		return
	}

	ctx.Header("Cache-Control", "no-store")
	ctx.JSON(http.StatusOK, gin.H{"code": code})
}

// QRPNG renders the current link code as an image. Codes rotate, so images
// are cached by code rather than by user.
func (h *WhatsAppHandler) QRPNG(ctx *gin.Context) {
	userID, ok := userIDParam(ctx)
	if !ok {
		return
	}

	code, err := h.svc.GetLinkCode(ctx.Request.Context(), userID)
	if err != nil {
		RespondServiceError(ctx, h.log, err)
		return
	}

	png, err := h.qrPNGs.GetOrCreate(code, func() ([]byte, error) {
		return whatsapp.RenderPNG(code, qrPNGSize)
	})
	if err != nil {
		RespondServiceError(ctx, h.log, err)
		return
	}

	ctx.Header("Cache-Control", "no-store")
	ctx.Data(http.StatusOK, "image/png", png)
}

func (h *WhatsAppHandler) Status(ctx *gin.Context) {
	userID, ok := userIDParam(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, h.svc.SessionStatus(userID))
}

func (h *WhatsAppHandler) Schedule(ctx *gin.Context) {
	var req schedule.ScheduleRequest
	if !BindJSON(ctx, &req) {
		return
	}
	if !ensureOwner(ctx, req.UserID) {
		return
	}

	at, err := schedule.ParseScheduledTime(req.ScheduledTime)
	if err != nil {
		RespondError(ctx, http.StatusBadRequest, "validation_error", "Invalid scheduled time", gin.H{
			"fields": []FieldError{{
				Field:   "scheduledTime",
				Rule:    "datetime",
				Message: "must be an ISO 8601 date-time",
			}},
		})
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	msg, err := h.svc.ScheduleMessage(cctx, req.UserID, req.PhoneNumber, req.Message, at)
	if err != nil {
		RespondServiceError(ctx, h.log, err)
		return
	}

	ctx.JSON(http.StatusOK, msg)
}

func (h *WhatsAppHandler) Scheduled(ctx *gin.Context) {
	userID, ok := userIDParam(ctx)
	if !ok {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	items, err := h.svc.ListScheduled(cctx, userID)
	if err != nil {
		RespondServiceError(ctx, h.log, err)
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, items)
}
