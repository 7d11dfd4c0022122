// Package scheduling links WhatsApp sessions and records messages to be sent
// later.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/geocoder89/wascheduler/internal/apperr"
	"github.com/geocoder89/wascheduler/internal/domain/schedule"
	"github.com/geocoder89/wascheduler/internal/whatsapp"
)

// matches the VARCHAR(20) column, counted in characters
const maxPhoneNumberLen = 20

type MessageStore interface {
	Create(ctx context.Context, in schedule.NewMessage) (schedule.Message, error)
	ListByUser(ctx context.Context, userID int64) ([]schedule.Message, error)
}

// Metrics is implemented by observability.Prom.
type Metrics interface {
	SessionInit(result string)
}

type Deps struct {
	Registry *whatsapp.Registry
	Linker   whatsapp.Linker
	Messages MessageStore
	Metrics  Metrics
	Log      *slog.Logger
}

type Service struct {
	registry *whatsapp.Registry
	linker   whatsapp.Linker
	messages MessageStore
	metrics  Metrics
	log      *slog.Logger

	// sessions outlive the request that started them
	base   context.Context
	cancel context.CancelFunc

	// mu orders wg.Add in EnsureSessionStarted before wg.Wait in Shutdown
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

func New(d Deps) *Service {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Service{
		registry: d.Registry,
		linker:   d.Linker,
		messages: d.Messages,
		metrics:  d.Metrics,
		log:      log.With("component", "scheduling"),
		base:     base,
		cancel:   cancel,
	}
}

type SessionStatus struct {
	Initialized bool `json:"initialized"`
	Ready       bool `json:"ready"`
	HasCode     bool `json:"hasCode"`
}

func (s *Service) sessionInit(result string) {
	if s.metrics != nil {
		s.metrics.SessionInit(result)
	}
}

// EnsureSessionStarted claims the user's session slot and launches the
// linker in the background. Only one caller per user gets past the claim.
func (s *Service) EnsureSessionStarted(ctx context.Context, userID int64) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return fmt.Errorf("%w: shutting down", apperr.ErrInternal)
	}
	if !s.registry.Reserve(userID) {
		s.mu.Unlock()
		s.sessionInit("duplicate")
		return fmt.Errorf("%w: user %d", apperr.ErrAlreadyInitialized, userID)
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.link(userID)
	}()

	s.log.InfoContext(ctx, "whatsapp session starting", "user_id", userID)
	return nil
}

func (s *Service) link(userID int64) {
	emit := func(ev whatsapp.Event) {
		if err := s.registry.Publish(ev); err != nil {
			s.log.Debug("drop whatsapp event", "user_id", userID, "kind", ev.Kind, "err", err)
		}
	}

	h, err := s.linker.Link(s.base, userID, emit)
	if err != nil {
		s.registry.Drop(userID)
		s.sessionInit("failed")
		s.log.Error("start whatsapp session", "user_id", userID, "err", err)
		return
	}

	if !s.registry.Attach(userID, h) {
		s.sessionInit("failed")
		s.log.Warn("whatsapp session dropped while starting", "user_id", userID)
		return
	}
	s.sessionInit("started")
}

// GetLinkCode returns the latest code the linker reported. It may already
// be rotated on the phone side; clients poll.
func (s *Service) GetLinkCode(_ context.Context, userID int64) (string, error) {
	st, ok := s.registry.Get(userID)
	if !ok {
		return "", fmt.Errorf("%w: no session for user %d", apperr.ErrNotFound, userID)
	}
	if !st.HasCode() {
		return "", fmt.Errorf("%w: no link code yet", apperr.ErrNotReady)
	}
	return st.Code, nil
}

func (s *Service) SessionStatus(userID int64) SessionStatus {
	st, ok := s.registry.Get(userID)
	if !ok {
		return SessionStatus{}
	}
	return SessionStatus{Initialized: true, Ready: st.Ready, HasCode: st.HasCode()}
}

// ScheduleMessage records a message for later delivery. The user's session
// must be linked; nothing is sent.
func (s *Service) ScheduleMessage(ctx context.Context, userID int64, phone, message string, at time.Time) (schedule.Message, error) {
	st, ok := s.registry.Get(userID)
	if !ok || !st.Ready {
		return schedule.Message{}, apperr.ErrSessionNotReady
	}

	phone = strings.TrimSpace(phone)
	switch {
	case phone == "":
		return schedule.Message{}, fmt.Errorf("%w: phone number is required", apperr.ErrValidation)
	case utf8.RuneCountInString(phone) > maxPhoneNumberLen:
		return schedule.Message{}, fmt.Errorf("%w: phone number too long", apperr.ErrValidation)
	case strings.TrimSpace(message) == "":
		return schedule.Message{}, fmt.Errorf("%w: message is required", apperr.ErrValidation)
	case at.IsZero():
		return schedule.Message{}, fmt.Errorf("%w: scheduled time is required", apperr.ErrValidation)
	}

	m, err := s.messages.Create(ctx, schedule.NewMessage{
		UserID:        userID,
		PhoneNumber:   phone,
		Message:       message,
		ScheduledTime: at,
	})
	if err != nil {
		if errors.Is(err, schedule.ErrUnknownUser) {
			return schedule.Message{}, fmt.Errorf("%w: unknown user %d", apperr.ErrValidation, userID)
		}
		return schedule.Message{}, fmt.Errorf("%w: create scheduled message: %v", apperr.ErrInternal, err)
	}

	s.log.InfoContext(ctx, "message scheduled", "user_id", userID, "message_id", m.ID, "scheduled_time", m.ScheduledTime)
	return m, nil
}

func (s *Service) ListScheduled(ctx context.Context, userID int64) ([]schedule.Message, error) {
	items, err := s.messages.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list scheduled messages: %v", apperr.ErrInternal, err)
	}
	if items == nil {
		items = []schedule.Message{}
	}
	return items, nil
}

// Shutdown refuses new sessions, cancels pending links, waits for them up
// to ctx and closes every session.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.registry.Shutdown()
	return err
}
