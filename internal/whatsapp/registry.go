// Package whatsapp tracks one linked WhatsApp Web session per user.
//
// The Registry is the only writer of session state. Linkers report QR codes,
// readiness and disconnects as Events; request handlers only read.
package whatsapp

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type EventKind string

const (
	EventQR           EventKind = "qr"
	EventReady        EventKind = "ready"
	EventDisconnected EventKind = "disconnected"
)

type Event struct {
	UserID int64
	Kind   EventKind
	Code   string // set for EventQR
}

// Handle is the live automation behind a session.
type Handle interface {
	Close() error
}

// Linker starts a session for a user and reports its lifecycle through emit.
// Link returns once the automation is running; the QR and ready events
// arrive later. ctx bounds the lifetime of the session, not just the call.
type Linker interface {
	Link(ctx context.Context, userID int64, emit func(Event)) (Handle, error)
}

// State is a read-only snapshot of a session.
type State struct {
	UserID    int64      `json:"userId"`
	Code      string     `json:"-"`
	Ready     bool       `json:"ready"`
	StartedAt time.Time  `json:"startedAt"`
	ReadyAt   *time.Time `json:"readyAt,omitempty"`
}

func (s State) HasCode() bool { return s.Code != "" }

// Metrics is implemented by observability.Prom.
type Metrics interface {
	SessionEvent(kind string)
}

var ErrRegistryClosed = errors.New("session registry closed")

type entry struct {
	state  State
	handle Handle
}

type Registry struct {
	mu       sync.Mutex
	sessions map[int64]*entry

	events chan Event
	done   chan struct{}
	once   sync.Once

	log     *slog.Logger
	metrics Metrics
	now     func() time.Time
}

func NewRegistry(log *slog.Logger, metrics Metrics) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		sessions: make(map[int64]*entry),
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
		log:      log,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Reserve claims the slot for userID. It returns false when a session is
// already registered or the registry is shut down; concurrent callers for
// one user get exactly one true.
func (r *Registry) Reserve(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-r.done:
		return false
	default:
	}

	if _, ok := r.sessions[userID]; ok {
		return false
	}

	r.sessions[userID] = &entry{state: State{UserID: userID, StartedAt: r.now().UTC()}}
	return true
}

// Attach stores the handle for a reserved slot. If the slot vanished in the
// meantime the handle is closed and false returned.
func (r *Registry) Attach(userID int64, h Handle) bool {
	r.mu.Lock()
	e, ok := r.sessions[userID]
	if ok {
		e.handle = h
	}
	r.mu.Unlock()

	if !ok && h != nil {
		_ = h.Close()
	}
	return ok
}

// Drop removes the session and closes its handle.
func (r *Registry) Drop(userID int64) {
	r.mu.Lock()
	e, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	if ok && e.handle != nil {
		if err := e.handle.Close(); err != nil {
			r.log.Warn("close whatsapp session", "user_id", userID, "err", err)
		}
	}
}

func (r *Registry) Get(userID int64) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[userID]
	if !ok {
		return State{}, false
	}
	return e.state, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) ReadyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.sessions {
		if e.state.Ready {
			n++
		}
	}
	return n
}

// Publish queues an event for Run. It blocks while the queue is full and
// gives up once the registry is closed.
func (r *Registry) Publish(ev Event) error {
	select {
	case <-r.done:
		return ErrRegistryClosed
	default:
	}

	select {
	case r.events <- ev:
		return nil
	case <-r.done:
		return ErrRegistryClosed
	}
}

// Run applies queued events until ctx is done, then closes every session.
func (r *Registry) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.close()
			return nil
		case ev := <-r.events:
			r.Apply(ev)
		}
	}
}

// Apply folds one event into the session state. Events for users without a
// session are stale and ignored.
func (r *Registry) Apply(ev Event) {
	if r.metrics != nil {
		r.metrics.SessionEvent(string(ev.Kind))
	}

	switch ev.Kind {
	case EventQR:
		r.mu.Lock()
		if e, ok := r.sessions[ev.UserID]; ok {
			e.state.Code = ev.Code
		}
		r.mu.Unlock()
		r.log.Debug("whatsapp link code received", "user_id", ev.UserID)

	case EventReady:
		now := r.now().UTC()
		r.mu.Lock()
		if e, ok := r.sessions[ev.UserID]; ok {
			e.state.Ready = true
			e.state.ReadyAt = &now
		}
		r.mu.Unlock()
		r.log.Info("whatsapp session ready", "user_id", ev.UserID)

	case EventDisconnected:
		r.Drop(ev.UserID)
		r.log.Info("whatsapp session disconnected", "user_id", ev.UserID)

	default:
		r.log.Warn("unknown whatsapp event", "kind", ev.Kind, "user_id", ev.UserID)
	}
}

// Shutdown stops accepting events and closes all sessions. Safe to call
// more than once, and alongside Run.
func (r *Registry) Shutdown() {
	r.close()
}

func (r *Registry) close() {
	r.once.Do(func() {
		close(r.done)

		r.mu.Lock()
		sessions := r.sessions
		r.sessions = make(map[int64]*entry)
		r.mu.Unlock()

		for userID, e := range sessions {
			if e.handle == nil {
				continue
			}
			if err := e.handle.Close(); err != nil {
				r.log.Warn("close whatsapp session", "user_id", userID, "err", err)
			}
		}
	})
}
