// Package session owns the lifecycle of one authenticated WhatsApp Web
// browser session bound to a profile's persistent storage directory.
// Login state survives across runs through the user-data directory;
// deleting that directory forces a fresh QR login. The dispatcher borrows
// the session through its Transport methods but never owns or closes it.
package session

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"courtnotify/internal/config"
	"courtnotify/internal/dispatch"
)

const webBaseURL = "https://web.whatsapp.com"

const (
	// probeTimeout bounds a single selector lookup while polling for
	// login or health markers.
	probeTimeout = 2 * time.Second
	// loginPollInterval paces the wait for the operator to scan the
	// QR code.
	loginPollInterval = 2 * time.Second
	// healthProbeTimeout bounds one selector lookup during a session
	// health check.
	healthProbeTimeout = 10 * time.Second
	// healthRetryPause separates health-check attempts.
	healthRetryPause = 10 * time.Second
	// sendProbeTimeout bounds each selector in the send-button chain.
	sendProbeTimeout = 10 * time.Second
	// chatProbeTimeout bounds each selector while waiting for a
	// conversation to open.
	chatProbeTimeout = 5 * time.Second
	// invalidProbeTimeout bounds the invalid-number dialog check.
	invalidProbeTimeout = time.Second
	// postSendSettle lets the UI flush the outgoing message before
	// the page is navigated away.
	postSendSettle = 3 * time.Second
)

// LoginTimeoutError means the QR challenge was not completed in time.
type LoginTimeoutError struct {
	Profile string
	Timeout time.Duration
}

func (e *LoginTimeoutError) Error() string {
	return fmt.Sprintf("session: profile %q not logged in within %v; scan the QR code and rerun",
		e.Profile, e.Timeout)
}

// Manager owns one browser session for one profile. Exactly one session
// is open per run; independent profiles get independent Managers with
// isolated storage.
type Manager struct {
	cfg     *config.Config
	profile string
	dataDir string
	log     *zap.Logger
	baseURL string // overridable in tests

	mu      sync.Mutex
	state   State
	browser *rod.Browser
	page    *rod.Page
}

// NewManager builds a Manager for the given profile id. The profile's
// user-data directory is created if absent.
func NewManager(cfg *config.Config, profile string, log *zap.Logger) (*Manager, error) {
	dataDir, err := cfg.ProfileDir(profile)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create profile directory: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		profile: profile,
		dataDir: dataDir,
		log:     log.With(zap.String("profile", profile)),
		baseURL: webBaseURL,
		state:   StateUninitialized,
	}, nil
}

// Profile returns the profile id this session is bound to.
func (m *Manager) Profile() string { return m.profile }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		m.log.Info("session state changed",
			zap.Stringer("from", prev),
			zap.Stringer("to", s))
	}
}

// Start launches the browser against the profile directory, navigates to
// the messaging UI, and waits for login markers. A fresh profile shows a
// QR challenge the operator must complete within the login timeout.
func (m *Manager) Start(ctx context.Context) error {
	if s := m.State(); s != StateUninitialized {
		return fmt.Errorf("session: cannot start from state %s", s)
	}
	m.setState(StateLaunching)

	l := launcher.New().
		Headless(m.cfg.Headless).
		UserDataDir(m.dataDir)
	for _, raw := range m.cfg.BrowserArguments {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}

	controlURL, err := l.Launch()
	if err != nil {
		m.setState(StateClosed)
		return fmt.Errorf("session: launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		m.setState(StateClosed)
		return fmt.Errorf("session: connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: m.baseURL})
	if err != nil {
		_ = browser.Close()
		m.setState(StateClosed)
		return fmt.Errorf("session: open messaging page: %w", err)
	}

	m.mu.Lock()
	m.browser = browser
	m.page = page
	m.mu.Unlock()

	if err := m.awaitLogin(ctx); err != nil {
		_ = m.Close()
		return err
	}
	return nil
}

// awaitLogin polls for the logged-in markers, surfacing the QR challenge
// to the operator when one is shown.
func (m *Manager) awaitLogin(ctx context.Context) error {
	m.setState(StateAwaitingLogin)

	deadline := time.Now().Add(m.cfg.LoginTimeout())
	prompted := false
	for {
		if _, sel, err := m.resolveFirst(ctx, m.cfg.SessionSelectors, probeTimeout); err == nil {
			m.log.Info("session active", zap.String("marker", sel))
			m.setState(StateAuthenticated)
			return nil
		}
		if !prompted {
			if _, _, err := m.resolveFirst(ctx, m.cfg.QRCodeSelectors, probeTimeout); err == nil {
				m.log.Info("no previous session found; scan the QR code in the browser window to log in")
				prompted = true
			}
		}
		if time.Now().After(deadline) {
			return &LoginTimeoutError{Profile: m.profile, Timeout: m.cfg.LoginTimeout()}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(loginPollInterval):
		}
	}
}

// CheckHealth re-verifies the session markers, retrying up to the
// configured budget on transient unresponsiveness. It reports Degraded
// rather than failing; the caller decides whether to keep sending.
func (m *Manager) CheckHealth(ctx context.Context) State {
	for attempt := 1; attempt <= m.cfg.MaxSessionRetries; attempt++ {
		m.log.Info("checking session health",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.cfg.MaxSessionRetries))

		if _, sel, err := m.resolveFirst(ctx, m.cfg.SessionSelectors, healthProbeTimeout); err == nil {
			m.log.Info("session healthy", zap.String("marker", sel))
			m.setState(StateAuthenticated)
			return StateAuthenticated
		}
		if _, _, err := m.resolveFirst(ctx, m.cfg.QRCodeSelectors, probeTimeout); err == nil {
			m.log.Warn("QR code visible; session requires login")
			m.setState(StateDegraded)
			return StateDegraded
		}

		m.log.Warn("no session markers found", zap.Int("attempt", attempt))
		if attempt < m.cfg.MaxSessionRetries {
			select {
			case <-ctx.Done():
				m.setState(StateDegraded)
				return StateDegraded
			case <-time.After(healthRetryPause):
			}
		}
	}
	m.setState(StateDegraded)
	return StateDegraded
}

// OpenConversation navigates to the conversation for the given contact
// with the message body pre-filled, implementing dispatch.Transport.
func (m *Manager) OpenConversation(ctx context.Context, contact, body string) error {
	page, err := m.currentPage()
	if err != nil {
		return err
	}

	if err := page.Context(ctx).Timeout(m.cfg.WebDriverTimeout()).Navigate(m.sendURL(contact, body)); err != nil {
		return fmt.Errorf("session: navigate to conversation: %w", err)
	}

	deadline := time.Now().Add(m.cfg.WebDriverTimeout())
	for {
		if _, _, err := m.resolveFirst(ctx, m.cfg.ChatLoadedSelectors, chatProbeTimeout); err == nil {
			return nil
		}
		if _, _, err := m.resolveFirst(ctx, m.cfg.InvalidContactSelectors, invalidProbeTimeout); err == nil {
			return fmt.Errorf("session: contact %s: %w", contact, dispatch.ErrContactNotFound)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("session: conversation for %s did not load within %v",
				contact, m.cfg.WebDriverTimeout())
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Submit presses the send control of the open conversation, trying the
// configured selector chain in order; the first selector that resolves
// wins. Falls back to a scripted click when the native click is rejected.
func (m *Manager) Submit(ctx context.Context) error {
	el, sel, err := m.resolveFirst(ctx, m.cfg.SendButtonSelectors, sendProbeTimeout)
	if err != nil {
		return fmt.Errorf("session: %w", dispatch.ErrSendControlNotFound)
	}
	m.log.Debug("send control resolved", zap.String("selector", sel))

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		if _, jsErr := el.Eval(`() => this.click()`); jsErr != nil {
			return fmt.Errorf("session: click send control: %w", err)
		}
		m.log.Debug("sent via scripted click")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(postSendSettle):
	}
	return nil
}

// Close releases the browser exactly once; safe to call from any state,
// including after a failed Start.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return nil
	}
	var err error
	if m.page != nil {
		_ = m.page.Close()
		m.page = nil
	}
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.state = StateClosed
	m.log.Info("session closed")
	return err
}

func (m *Manager) currentPage() (*rod.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Usable() || m.page == nil {
		return nil, fmt.Errorf("session: not usable in state %s", m.state)
	}
	return m.page, nil
}

// resolveFirst tries each selector in order with a per-selector timeout
// and returns the first element that resolves. Selectors starting with a
// slash or parenthesis are treated as XPath, everything else as CSS.
func (m *Manager) resolveFirst(ctx context.Context, selectors []string, perSelector time.Duration) (*rod.Element, string, error) {
	page, err := m.pageForProbe()
	if err != nil {
		return nil, "", err
	}
	for _, sel := range selectors {
		p := page.Context(ctx).Timeout(perSelector)
		var el *rod.Element
		if isXPath(sel) {
			el, err = p.ElementX(sel)
		} else {
			el, err = p.Element(sel)
		}
		if err == nil && el != nil {
			return el, sel, nil
		}
	}
	return nil, "", fmt.Errorf("session: no selector resolved out of %d", len(selectors))
}

// pageForProbe allows selector probes during login and health checks,
// before the session is fully usable.
func (m *Manager) pageForProbe() (*rod.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.page == nil {
		return nil, fmt.Errorf("session: no open page in state %s", m.state)
	}
	return m.page, nil
}

func (m *Manager) sendURL(contact, body string) string {
	// QueryEscape uses + for spaces; the messaging UI expects %20.
	text := strings.ReplaceAll(url.QueryEscape(body), "+", "%20")
	return fmt.Sprintf("%s/send?phone=%s&text=%s", m.baseURL, contact, text)
}

func isXPath(sel string) bool {
	return strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(")
}
