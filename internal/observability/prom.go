package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec
	// DB
	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	// whatsapp sessions
	SessionEvents *prometheus.CounterVec
	SessionInits  *prometheus.CounterVec

	// outbound mail
	MailResults *prometheus.CounterVec

	reg prometheus.Registerer
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ServiceName,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ServiceName,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ServiceName,
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method", "route"},
		),
		DbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ServiceName,
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "DB operation latency (logical op, not raw SQL)",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2, 5},
			},
			[]string{"op", "status"},
		),
		DbErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ServiceName,
				Subsystem: "db",
				Name:      "errors_total",
				Help:      "DB errors by logical op and class.",
			},
			[]string{"op", "class"},
		),
		SessionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ServiceName,
				Subsystem: "whatsapp",
				Name:      "session_events_total",
				Help:      "Lifecycle events received from linked sessions.",
			},
			[]string{"kind"}, // qr|ready|disconnected
		),
		SessionInits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ServiceName,
				Subsystem: "whatsapp",
				Name:      "session_inits_total",
				Help:      "Session init requests by outcome.",
			},
			[]string{"result"}, // started|duplicate|failed
		),
		MailResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ServiceName,
				Subsystem: "mail",
				Name:      "results_total",
				Help:      "Outbound mail attempts by kind and result.",
			},
			[]string{"kind", "result"}, // result=sent|failed|circuit_open
		),
		reg: reg,
	}
	reg.MustRegister(p.RequestsTotal, p.RequestsDuration, p.InFlight, p.DbQueryDuration, p.DbErrorsTotal, p.SessionEvents, p.SessionInits, p.MailResults)

	return p
}

// RegisterSessionGauges exposes registry sizes computed at scrape time.
func (p *Prom) RegisterSessionGauges(active, ready func() int) {
	p.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: ServiceName,
			Subsystem: "whatsapp",
			Name:      "sessions_active",
			Help:      "Sessions currently held in the registry.",
		}, func() float64 { return float64(active()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: ServiceName,
			Subsystem: "whatsapp",
			Name:      "sessions_ready",
			Help:      "Sessions linked to a phone and ready.",
		}, func() float64 { return float64(ready()) }),
	)
}

// SessionEvent satisfies whatsapp.Metrics.
func (p *Prom) SessionEvent(kind string) {
	p.SessionEvents.WithLabelValues(kind).Inc()
}

// SessionInit satisfies scheduling.Metrics.
func (p *Prom) SessionInit(result string) {
	p.SessionInits.WithLabelValues(result).Inc()
}

// MailResult satisfies notifications.Metrics.
func (p *Prom) MailResult(kind, result string) {
	p.MailResults.WithLabelValues(kind, result).Inc()
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		// route template is only available after routing; best effort:
		route := ctx.FullPath()

		if route == "" {
			route = "unmatched"
		}

		method := ctx.Request.Method
		p.InFlight.WithLabelValues(method, route).Inc()
		defer p.InFlight.WithLabelValues(method, route).Dec()
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		secs := time.Since(start).Seconds()

		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(secs)
	}
}
