package notifications

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type ProtectedNotifierConfig struct {
	Timeout          time.Duration // hard timeout per send
	FailureThreshold int           // consecutive failures to open circuit
	Cooldown         time.Duration // how long to stay open before half-open
	HalfOpenMaxCalls int           // allow N trial calls in half-open

	RatePerSec float64 // sustained sends per second; 0 disables throttling
	Burst      int
}

type breakerState string

const (
	stateClosed   breakerState = "closed"
	stateOpen     breakerState = "open"
	stateHalfOpen breakerState = "half_open"
)

// ProtectedNotifier throttles sends to the relay and stops calling it after
// repeated failures until a cooldown has passed.
type ProtectedNotifier struct {
	inner   Notifier
	cfg     ProtectedNotifierConfig
	limiter *rate.Limiter
	metrics Metrics
	now     func() time.Time

	mu sync.Mutex

	state breakerState

	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
}

func NewProtectedNotifier(inner Notifier, cfg ProtectedNotifierConfig, metrics Metrics) *ProtectedNotifier {
	//defaults
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	return &ProtectedNotifier{
		inner:   inner,
		cfg:     cfg,
		limiter: limiter,
		metrics: metrics,
		now:     time.Now,
		state:   stateClosed,
	}
}

func (n *ProtectedNotifier) SendVerificationEmail(ctx context.Context, input SendVerificationEmailInput) error {
	// fail-fast gate
	if !n.allowRequest() {
		n.record(KindVerification, "circuit_open")
		return ErrCircuitOpen
	}

	sendCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	// the wait counts against the same deadline as the send itself
	if n.limiter != nil {
		if err := n.limiter.Wait(sendCtx); err != nil {
			n.afterRequest(err)
			n.record(KindVerification, "throttled")
			return err
		}
	}

	err := n.inner.SendVerificationEmail(sendCtx, input)

	n.afterRequest(err)
	if err != nil {
		n.record(KindVerification, "failed")
	} else {
		n.record(KindVerification, "sent")
	}

	return err
}

func (n *ProtectedNotifier) record(kind, result string) {
	if n.metrics != nil {
		n.metrics.MailResult(kind, result)
	}
}

func (n *ProtectedNotifier) allowRequest() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case stateClosed:
		return true
	case stateOpen:
		// cooldown has passed? move to half open
		if n.now().Sub(n.openedAt) >= n.cfg.Cooldown {
			n.state = stateHalfOpen
			n.halfOpenInFlight = 1
			return true
		}
		return false
	case stateHalfOpen:
		if n.halfOpenInFlight >= n.cfg.HalfOpenMaxCalls {
			return false
		}
		n.halfOpenInFlight++
		return true

	default:
		return true
	}

}

func (n *ProtectedNotifier) afterRequest(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	// half-open call just finished
	if n.state == stateHalfOpen && n.halfOpenInFlight > 0 {
		n.halfOpenInFlight--
	}

	if err == nil {
		// success => close circuit and reset counters
		n.consecutiveFailures = 0
		n.state = stateClosed
		return
	}

	n.consecutiveFailures++

	// if half-open failed, reopen immediately
	if n.state == stateHalfOpen {
		n.state = stateOpen
		n.openedAt = n.now()
		return
	}

	if n.consecutiveFailures >= n.cfg.FailureThreshold {
		n.state = stateOpen
		n.openedAt = n.now()
	}
}
