package http

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/geocoder89/wascheduler/internal/cache"
	"github.com/geocoder89/wascheduler/internal/config"
	"github.com/geocoder89/wascheduler/internal/http/handlers"
	"github.com/geocoder89/wascheduler/internal/http/middlewares"
	"github.com/geocoder89/wascheduler/internal/observability"
)

type AuthService interface {
	handlers.AuthService
	middlewares.SessionParser
}

type Deps struct {
	Config     config.Config
	Log        *slog.Logger
	Auth       AuthService
	Scheduling handlers.SchedulingService

	// optional
	Prom      *observability.Prom
	Gatherer  prometheus.Gatherer
	RateStore middlewares.WindowStore
	QRCache   *cache.Cache[[]byte]
	Checks    map[string]handlers.Check
}

func NewRouter(d Deps) *gin.Engine {
	if gin.Mode() != gin.TestMode && !d.Config.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}

	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, rec any) {
		log.ErrorContext(c.Request.Context(), "panic recovered", "panic", rec, "route", c.FullPath())
		handlers.RespondInternal(c, "Something went wrong")
		c.Abort()
	}))
	if d.Config.OTelEnabled {
		r.Use(otelgin.Middleware(observability.ServiceName))
	}
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(d.Config.CORSAllowedOrigins))
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}

	health := handlers.NewHealthHandler(d.Checks)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.Use(middlewares.MaxBodyBytes(d.Config.MaxBodyBytes))
	api.Use(middlewares.RequireJSON())

	// auth
	authHandler := handlers.NewAuthHandler(d.Auth, log)
	authGroup := api.Group("/auth")
	if d.Config.AuthRateLimitPerMin > 0 {
		store := d.RateStore
		if store == nil {
			store = middlewares.NewMemoryWindowStore()
		}
		limiter := middlewares.NewRateLimiter(store, "auth", d.Config.AuthRateLimitPerMin, time.Minute, log)
		authGroup.Use(limiter.Middleware(middlewares.KeyByIP))
	}
	authGroup.POST("/register", authHandler.Register)
	authGroup.GET("/verify/:token", authHandler.Verify)
	authGroup.POST("/login", authHandler.Login)

	// whatsapp
	wa := handlers.NewWhatsAppHandler(d.Scheduling, d.QRCache, log)
	waGroup := api.Group("/whatsapp")

	var owner gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if d.Config.RequireSessionToken {
		am := middlewares.NewAuthMiddleware(d.Auth)
		waGroup.Use(am.RequireAuth())
		owner = am.RequireOwner("userId")
	}

	waGroup.POST("/init", wa.Init)
	waGroup.GET("/qr/:userId", owner, wa.QR)
	waGroup.GET("/qr/:userId/png", owner, wa.QRPNG)
	waGroup.GET("/status/:userId", owner, wa.Status)
	waGroup.POST("/schedule", wa.Schedule)
	waGroup.GET("/scheduled/:userId", owner, wa.Scheduled)

	// web client
	r.NoRoute(handlers.NewSPAHandler(d.Config.ClientBuildDir).NoRoute)

	return r
}
