// Package rodlinker drives WhatsApp Web in a headless Chrome to link a
// user's phone. Each user gets a persistent profile directory, so a linked
// device survives restarts.
package rodlinker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/geocoder89/wascheduler/internal/whatsapp"
)

const (
	webURL = "https://web.whatsapp.com"

	qrSelector    = "div[data-ref]"
	qrAttribute   = "data-ref"
	readySelector = "#pane-side"

	defaultPollInterval = time.Second
	maxProbeFailures    = 30
)

type Config struct {
	SessionDir   string
	ChromeBin    string
	DebuggerURL  string // attach to a running Chrome instead of launching one
	Headless     bool
	PollInterval time.Duration

	// QROut receives a terminal rendering of each new link code. nil disables it.
	QROut io.Writer
}

type Linker struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Linker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Linker{cfg: cfg, log: log.With("component", "rodlinker")}
}

func (l *Linker) profileDir(userID int64) string {
	return filepath.Join(l.cfg.SessionDir, strconv.FormatInt(userID, 10))
}

// Link opens WhatsApp Web for userID and starts watching the page. ctx
// bounds the whole session.
func (l *Linker) Link(ctx context.Context, userID int64, emit func(whatsapp.Event)) (whatsapp.Handle, error) {
	var lch *launcher.Launcher
	controlURL := l.cfg.DebuggerURL

	if controlURL == "" {
		dir := l.profileDir(userID)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}

		lch = launcher.New().
			Headless(l.cfg.Headless).
			UserDataDir(dir).
			NoSandbox(true)
		if l.cfg.ChromeBin != "" {
			lch = lch.Bin(l.cfg.ChromeBin)
		}

		u, err := lch.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		killLauncher(lch)
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	// A shared Chrome keeps users apart with one browser context each.
	target := browser
	if lch == nil {
		inc, err := browser.Incognito()
		if err != nil {
			return nil, fmt.Errorf("create browser context: %w", err)
		}
		target = inc
	}

	page, err := target.Page(proto.TargetCreateTarget{URL: webURL})
	if err != nil {
		_ = target.Close()
		killLauncher(lch)
		return nil, fmt.Errorf("open whatsapp web: %w", err)
	}

	wctx, cancel := context.WithCancel(ctx)
	s := &session{
		userID:   userID,
		browser:  target,
		launcher: lch,
		cancel:   cancel,
		log:      l.log.With("user_id", userID),
	}

	w := &watcher{
		userID:   userID,
		dom:      rodDOM{page: page},
		emit:     emit,
		interval: l.cfg.PollInterval,
		qrOut:    l.cfg.QROut,
		log:      s.log,
	}
	go w.run(wctx)

	s.log.Info("whatsapp web opened")
	return s, nil
}

func killLauncher(l *launcher.Launcher) {
	if l != nil {
		l.Kill()
	}
}

type session struct {
	userID   int64
	browser  *rod.Browser
	launcher *launcher.Launcher
	cancel   context.CancelFunc
	log      *slog.Logger

	once sync.Once
	err  error
}

// Close stops the watcher and shuts the browser down. The profile directory
// is kept.
func (s *session) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.browser.Close()
		killLauncher(s.launcher)
		s.log.Info("whatsapp web closed")
	})
	return s.err
}

// dom is what the watcher needs from the page.
type dom interface {
	LinkCode() (code string, ok bool, err error)
	LoggedIn() (bool, error)
}

type rodDOM struct {
	page *rod.Page
}

func (d rodDOM) LinkCode() (string, bool, error) {
	has, el, err := d.page.Has(qrSelector)
	if err != nil || !has {
		return "", false, err
	}
	ref, err := el.Attribute(qrAttribute)
	if err != nil || ref == nil || *ref == "" {
		return "", false, err
	}
	return *ref, true, nil
}

func (d rodDOM) LoggedIn() (bool, error) {
	has, _, err := d.page.Has(readySelector)
	return has, err
}

type watcher struct {
	userID   int64
	dom      dom
	emit     func(whatsapp.Event)
	interval time.Duration
	qrOut    io.Writer
	log      *slog.Logger
}

// run polls the page and turns what it sees into events. A page that stops
// answering, or that falls back to the QR screen after login, ends the
// session with a disconnect.
func (w *watcher) run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	var (
		lastCode string
		ready    bool
		failures int
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		loggedIn, err := w.dom.LoggedIn()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures >= maxProbeFailures {
				w.log.Warn("whatsapp web unresponsive", "err", err)
				w.emit(whatsapp.Event{UserID: w.userID, Kind: whatsapp.EventDisconnected})
				return
			}
			continue
		}
		failures = 0

		if loggedIn {
			if !ready {
				ready = true
				w.emit(whatsapp.Event{UserID: w.userID, Kind: whatsapp.EventReady})
			}
			continue
		}

		code, ok, err := w.dom.LinkCode()
		if err != nil || !ok {
			continue
		}

		if ready {
			w.log.Info("whatsapp web logged out")
			w.emit(whatsapp.Event{UserID: w.userID, Kind: whatsapp.EventDisconnected})
			return
		}

		if code != lastCode {
			lastCode = code
			w.emit(whatsapp.Event{UserID: w.userID, Kind: whatsapp.EventQR, Code: code})
			w.printQR(code)
		}
	}
}

func (w *watcher) printQR(code string) {
	if w.qrOut == nil {
		return
	}
	out, err := whatsapp.RenderTerminal(code)
	if err != nil {
		return
	}
	fmt.Fprintf(w.qrOut, "WhatsApp link code for user %d:\n%s\n", w.userID, out)
}
