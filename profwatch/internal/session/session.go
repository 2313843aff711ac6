// Package session drives the authenticated LinkedIn browser session: Chrome
// lifecycle via Rod with stealth patches, login with cookie persistence, and
// page capture with state classification.
//
// The Controller owns one browser and one page. Callers serialise access;
// LinkedIn sessions do not tolerate parallel navigation.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/vigie/horosafe"
)

// Config configures the session controller.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headless controls the local Chrome launch mode. Challenges are only
	// solvable headful, so long-lived deployments usually run headful.
	Headless bool

	// Email and Password are the LinkedIn credentials. Both empty is
	// valid: the controller then relies entirely on restored cookies.
	Email    string
	Password string

	// DataDir holds the cookie state file.
	DataDir string

	// CookieFile is the state file name inside DataDir.
	// Default: "linkedin_cookies.json".
	CookieFile string

	// NavTimeout bounds a single navigation. Default: 30s.
	NavTimeout time.Duration

	// SettleDelay is the pause after load before reading the document,
	// giving client-side rendering time to fill the page. Default: 2s.
	SettleDelay time.Duration

	// ChallengeWait is how long to hold for manual checkpoint resolution
	// before giving up on the current navigation. Default: 30s.
	ChallengeWait time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.CookieFile == "" {
		c.CookieFile = "linkedin_cookies.json"
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.ChallengeWait <= 0 {
		c.ChallengeWait = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

const (
	loginURL = "https://www.linkedin.com/login"
	probeURL = "https://www.linkedin.com/feed/"
)

// Controller manages the browser session.
type Controller struct {
	cfg        Config
	cookiePath string

	mu       sync.Mutex
	browser  *rod.Browser
	lnch     *launcher.Launcher
	page     *rod.Page
	loggedIn bool
	closed   bool
}

// New creates a Controller. Call Start to launch the browser.
func New(cfg Config) (*Controller, error) {
	cfg.defaults()
	c := &Controller{cfg: cfg}
	if cfg.DataDir != "" {
		p, err := horosafe.SafePath(cfg.DataDir, cfg.CookieFile)
		if err != nil {
			return nil, fmt.Errorf("session: cookie path: %w", err)
		}
		c.cookiePath = p
	}
	return c, nil
}

// Start launches Chrome (or connects to a remote instance), opens a stealth
// page, restores saved cookies, and verifies the session. When the restored
// session is stale it attempts a credential login.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("session: controller is closed")
	}
	if err := c.launch(ctx); err != nil {
		return err
	}

	if c.cookiePath != "" {
		n, err := loadCookies(c.page, c.cookiePath)
		if err != nil {
			c.cfg.Logger.Warn("session: cookie restore failed", "error", err)
		} else if n > 0 {
			c.cfg.Logger.Info("session: cookies restored", "count", n)
		}
	}

	state := c.probe(ctx)
	if state == StateReady {
		c.cfg.Logger.Info("session: restored session is valid")
		c.loggedIn = true
		return nil
	}

	c.cfg.Logger.Info("session: not logged in", "state", state.String())
	return c.login(ctx)
}

// Login authenticates with the configured credentials. Safe to call when a
// restored session has gone stale mid-run.
func (c *Controller) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("session: controller is closed")
	}
	return c.login(ctx)
}

// CapturePage navigates to url, waits for the document to settle, scrolls to
// trigger lazily rendered sections, and returns the serialised DOM with its
// classified state. Extraction is only meaningful on StateReady.
//
// On StateChallengeRequired it holds for ChallengeWait so a human can solve
// the checkpoint, then re-reads and re-classifies the page once.
func (c *Controller) CapturePage(ctx context.Context, url string) (string, PageState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", StateTransportError, fmt.Errorf("session: controller is closed")
	}
	if c.page == nil {
		return "", StateTransportError, fmt.Errorf("session: not started")
	}

	html, state, err := c.capture(ctx, url)
	if err != nil {
		return "", StateTransportError, err
	}
	if state != StateChallengeRequired {
		return html, state, nil
	}

	c.cfg.Logger.Warn("session: challenge page, waiting for manual resolution",
		"url", url, "wait", c.cfg.ChallengeWait)
	if err := wait(ctx, c.cfg.ChallengeWait); err != nil {
		return "", StateChallengeRequired, err
	}

	html, state, err = c.readPage(ctx)
	if err != nil {
		return "", StateTransportError, err
	}
	return html, state, nil
}

// Close saves the session state and shuts the browser down.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	if c.loggedIn && c.page != nil && c.cookiePath != "" {
		if err := saveCookies(c.page, c.cookiePath); err != nil {
			c.cfg.Logger.Warn("session: final cookie save failed", "error", err)
		}
	}
	if c.page != nil {
		c.page.Close()
		c.page = nil
	}
	if c.browser != nil {
		c.browser.Close()
		c.browser = nil
	}
	if c.lnch != nil {
		c.lnch.Cleanup()
		c.lnch = nil
	}
	return nil
}

func (c *Controller) launch(ctx context.Context) error {
	log := c.cfg.Logger

	var wsURL string
	if c.cfg.RemoteURL != "" {
		wsURL = c.cfg.RemoteURL
		log.Info("session: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().Headless(c.cfg.Headless)
		l = l.Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("session: launch: %w", err)
		}
		wsURL = u
		c.lnch = l
		log.Info("session: launched local chrome", "headless", c.cfg.Headless)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}
	c.browser = b

	page, err := stealth.Page(b)
	if err != nil {
		b.Close()
		c.browser = nil
		return fmt.Errorf("session: stealth page: %w", err)
	}
	c.page = page
	return nil
}

// probe loads the feed and classifies what came back. A valid session lands
// on the feed; a stale one is redirected to login or the auth wall.
func (c *Controller) probe(ctx context.Context) PageState {
	_, state, err := c.capture(ctx, probeURL)
	if err != nil {
		c.cfg.Logger.Debug("session: probe failed", "error", err)
		return StateTransportError
	}
	return state
}

func (c *Controller) login(ctx context.Context) error {
	log := c.cfg.Logger

	if c.cfg.Email == "" || c.cfg.Password == "" {
		return fmt.Errorf("session: no credentials configured and saved session is not valid")
	}

	log.Info("session: logging in")
	if err := c.navigate(ctx, loginURL); err != nil {
		return err
	}
	if err := wait(ctx, humanDelay(2*time.Second, 3*time.Second)); err != nil {
		return err
	}

	// The login URL redirects straight to the feed when the session is
	// already valid.
	u, err := c.currentURL(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(u, "/login") && !strings.Contains(u, "checkpoint") {
		log.Info("session: already logged in", "url", u)
		return c.loginDone(ctx)
	}

	nav := c.page.Context(ctx)
	userEl, err := nav.Element("#username")
	if err != nil {
		return fmt.Errorf("session: login form not found: %w", err)
	}
	if err := userEl.Input(c.cfg.Email); err != nil {
		return fmt.Errorf("session: fill email: %w", err)
	}
	if err := wait(ctx, humanDelay(500*time.Millisecond, 1500*time.Millisecond)); err != nil {
		return err
	}

	passEl, err := nav.Element("#password")
	if err != nil {
		return fmt.Errorf("session: password field not found: %w", err)
	}
	if err := passEl.Input(c.cfg.Password); err != nil {
		return fmt.Errorf("session: fill password: %w", err)
	}
	if err := wait(ctx, humanDelay(500*time.Millisecond, 1500*time.Millisecond)); err != nil {
		return err
	}

	submit, err := nav.Element("button[type='submit']")
	if err != nil {
		return fmt.Errorf("session: submit button not found: %w", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("session: submit: %w", err)
	}

	if err := wait(ctx, humanDelay(3*time.Second, 5*time.Second)); err != nil {
		return err
	}

	_, state, err := c.readPage(ctx)
	if err != nil {
		return err
	}
	if state == StateChallengeRequired {
		log.Warn("session: login hit a checkpoint, waiting for manual resolution",
			"wait", c.cfg.ChallengeWait)
		if err := wait(ctx, c.cfg.ChallengeWait); err != nil {
			return err
		}
		if _, state, err = c.readPage(ctx); err != nil {
			return err
		}
	}
	if state != StateReady {
		return fmt.Errorf("session: login failed, page state %s", state)
	}
	return c.loginDone(ctx)
}

func (c *Controller) loginDone(ctx context.Context) error {
	c.loggedIn = true
	if c.cookiePath != "" {
		if err := saveCookies(c.page, c.cookiePath); err != nil {
			c.cfg.Logger.Warn("session: cookie save failed", "error", err)
		} else {
			c.cfg.Logger.Info("session: cookies saved", "path", c.cookiePath)
		}
	}
	return nil
}

// capture navigates and reads the page. Callers hold the mutex.
func (c *Controller) capture(ctx context.Context, url string) (string, PageState, error) {
	if err := c.navigate(ctx, url); err != nil {
		return "", StateTransportError, err
	}
	if err := wait(ctx, c.cfg.SettleDelay); err != nil {
		return "", StateTransportError, err
	}
	c.scrollPage(ctx)
	return c.readPage(ctx)
}

func (c *Controller) navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, c.cfg.NavTimeout)
	defer cancel()

	if err := c.page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("session: navigate %s: %w", url, err)
	}
	if err := c.page.Context(navCtx).WaitLoad(); err != nil {
		c.cfg.Logger.Warn("session: wait load timeout", "url", url, "error", err)
	}
	return nil
}

// scrollPage pages down in chunks and returns to the top, the way a reader
// would. LinkedIn renders the experience section lazily on scroll.
func (c *Controller) scrollPage(ctx context.Context) {
	for i := 0; i < 3; i++ {
		if _, err := c.page.Context(ctx).Eval(`() => window.scrollBy(0, window.innerHeight)`); err != nil {
			c.cfg.Logger.Debug("session: scroll failed", "error", err)
			return
		}
		if err := wait(ctx, humanDelay(500*time.Millisecond, 1500*time.Millisecond)); err != nil {
			return
		}
	}
	if _, err := c.page.Context(ctx).Eval(`() => window.scrollTo(0, 0)`); err != nil {
		c.cfg.Logger.Debug("session: scroll to top failed", "error", err)
	}
}

func (c *Controller) readPage(ctx context.Context) (string, PageState, error) {
	u, err := c.currentURL(ctx)
	if err != nil {
		return "", StateTransportError, err
	}
	res, err := c.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", StateTransportError, fmt.Errorf("session: read document: %w", err)
	}
	html := res.Value.Str()
	return html, Classify(u, html), nil
}

func (c *Controller) currentURL(ctx context.Context) (string, error) {
	info, err := c.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("session: page info: %w", err)
	}
	return info.URL, nil
}

// humanDelay returns a uniformly random duration in [min, max].
func humanDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min)
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
