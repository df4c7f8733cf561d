package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// Browser is the surface the login flow needs from one browser session.
// Window opening, pid reporting for the reaper, and connection teardown.
type Browser interface {
	// OpenWindow opens a new window (tab) at url and returns its prober.
	OpenWindow(name, url string) (Prober, error)
	// PIDs returns every OS process the session owns, for forced cleanup.
	PIDs() []int
	// Sever drops the control connection and the launcher, best effort.
	Sever()
}

// BrowserFactory builds the Browser a login run will use. The production
// factory launches chromium through rod; tests substitute fakes.
type BrowserFactory func() (Browser, error)

// SessionOptions configures a real browser session.
type SessionOptions struct {
	// BrowserPath overrides rod's browser discovery when non-empty.
	BrowserPath string
	// WindowSize is "WIDTHxHEIGHT".
	WindowSize string
	// WindowPosition is "X,Y". Empty places the window on a grid computed
	// from WorkerID so parallel workers do not stack on one spot.
	WindowPosition string
	WorkerID       int
	Headless       bool
	// Account is the email this session serves; the account chooser marker
	// is keyed on it.
	Account string
	// CommandTimeout clamps every individual driver command.
	CommandTimeout time.Duration
	Log            zerolog.Logger
}

// Session is a live chromium instance and its control connection.
type Session struct {
	browser *rod.Browser
	lc      *launcher.Launcher
	opts    SessionOptions
}

const (
	screenWidth  = 1920
	screenHeight = 1080
	windowRowGap = 40
)

func parsePair(s, sep string, defA, defB int) (int, int) {
	parts := strings.SplitN(s, sep, 2)
	if len(parts) != 2 {
		return defA, defB
	}
	a, errA := strconv.Atoi(strings.TrimSpace(parts[0]))
	b, errB := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errA != nil || errB != nil {
		return defA, defB
	}
	return a, b
}

// gridPosition tiles worker windows left to right, wrapping to a new row
// with a gap. Vertical overflow restarts at the top rather than going
// offscreen.
func gridPosition(workerID, winW, winH int) (int, int) {
	// Config validation rejects non-positive sizes; clamp anyway so this
	// can never divide by zero.
	if winW < 1 {
		winW = 1
	}
	if winH < 1 {
		winH = 1
	}
	cols := screenWidth / winW
	if cols < 1 {
		cols = 1
	}
	x := (workerID % cols) * winW
	y := (workerID / cols) * (winH + windowRowGap)
	if y+winH > screenHeight {
		y = 0
	}
	return x, y
}

// NewSession launches chromium and connects to it. The flags disable the
// background throttling and popup blocking that would otherwise stall
// windows the user never focuses.
func NewSession(opts SessionOptions) (*Session, error) {
	winW, winH := parsePair(opts.WindowSize, "x", 500, 700)
	var posX, posY int
	if opts.WindowPosition != "" {
		posX, posY = parsePair(opts.WindowPosition, ",", 0, 0)
	} else {
		posX, posY = gridPosition(opts.WorkerID, winW, winH)
	}

	lc := launcher.New().
		Headless(opts.Headless).
		Leakless(true).
		Set("incognito").
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-extensions").
		Set("ignore-certificate-errors").
		Set("allow-insecure-localhost").
		Set("disable-background-timer-throttling").
		Set("disable-backgrounding-occluded-windows").
		Set("disable-renderer-backgrounding").
		Set("disable-popup-blocking").
		Set("blink-settings", "imagesEnabled=false").
		Set("window-size", fmt.Sprintf("%d,%d", winW, winH)).
		Set("window-position", fmt.Sprintf("%d,%d", posX, posY))
	if opts.BrowserPath != "" {
		lc = lc.Bin(opts.BrowserPath)
	}

	controlURL, err := lc.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		lc.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	opts.Log.Debug().
		Int("worker", opts.WorkerID).
		Int("pid", lc.PID()).
		Msg("browser session ready")

	return &Session{browser: browser, lc: lc, opts: opts}, nil
}

// OpenWindow opens a window at url and wraps it as a Prober.
func (s *Session) OpenWindow(name, url string) (Prober, error) {
	page, err := s.browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s window: %w", name, err)
	}
	return &window{
		name:    name,
		page:    page,
		browser: s.browser,
		timeout: s.opts.CommandTimeout,
		account: s.opts.Account,
	}, nil
}

// PIDs returns the browser process pid. Child renderers die with the
// process group.
func (s *Session) PIDs() []int {
	if pid := s.lc.PID(); pid > 0 {
		return []int{pid}
	}
	return nil
}

// Sever closes the control connection and asks the launcher to tear the
// process down. Errors are ignored; the reaper follows up with pid kills.
func (s *Session) Sever() {
	_ = s.browser.Close()
	s.lc.Kill()
}

// selector locates a marker in the page, either by CSS or by XPath.
type selector struct {
	xpath bool
	expr  string
}

func markerSelector(m Marker, account string) (selector, error) {
	switch m {
	case MarkerEmailField:
		return selector{expr: "#identifierId"}, nil
	case MarkerEmailNext:
		return selector{expr: "#identifierNext"}, nil
	case MarkerPasswordField:
		return selector{expr: `input[type="password"]`}, nil
	case MarkerPasswordNext:
		return selector{expr: "#passwordNext"}, nil
	case MarkerContinueButton:
		return selector{xpath: true, expr: `//*[text()="Continue"]`}, nil
	case MarkerAllowButton:
		return selector{xpath: true, expr: `//*[text()="Allow"]`}, nil
	case MarkerVerificationRobot:
		return selector{xpath: true, expr: `//*[contains(translate(., 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), "confirm you're not a robot")]`}, nil
	case MarkerVerification2FA:
		return selector{xpath: true, expr: `//*[contains(., '2-Step')]`}, nil
	case MarkerAccountChooser:
		return selector{xpath: true, expr: fmt.Sprintf(`//div[text()=%q]`, account)}, nil
	case MarkerCode:
		return selector{xpath: true, expr: fmt.Sprintf(`//*[starts-with(text(), '%s')]`, codePrefix)}, nil
	case MarkerAcceptButton:
		return selector{xpath: true, expr: `//button[normalize-space()='Accept']`}, nil
	case MarkerAlreadyAccepted:
		return selector{xpath: true, expr: `//*[contains(., 'The requested Terms of Service have already been accepted.') or contains(., 'The Terms of Service were accepted.')]`}, nil
	default:
		return selector{}, fmt.Errorf("marker %s has no selector", m)
	}
}

// window is one browser tab. Every method performs a single bounded driver
// command; blocking waits live in the polling helpers, not here.
type window struct {
	name    string
	page    *rod.Page
	browser *rod.Browser
	timeout time.Duration
	account string
}

// alive reports whether the window's target still exists on the browser.
func (w *window) alive() bool {
	pages, err := w.browser.Pages()
	if err != nil {
		return false
	}
	for _, p := range pages {
		if p.TargetID == w.page.TargetID {
			return true
		}
	}
	return false
}

// classify maps a raw driver failure onto the taxonomy: a dead window is
// stale, a command that hit its clamp is a step timeout.
func (w *window) classify(err error) error {
	if err == nil {
		return nil
	}
	if !w.alive() {
		return staleWindowf(err, "%s window is gone", w.name)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return stepTimeoutf("%s window command exceeded %s", w.name, w.timeout)
	}
	return fmt.Errorf("%s window command failed: %w", w.name, err)
}

func (w *window) Location() (string, error) {
	info, err := w.page.Timeout(w.timeout).Info()
	if err != nil {
		return "", w.classify(err)
	}
	return info.URL, nil
}

// find runs one immediate presence check and returns the element only when
// it is attached and visible.
func (w *window) find(m Marker) (*rod.Element, error) {
	sel, err := markerSelector(m, w.account)
	if err != nil {
		return nil, err
	}
	page := w.page.Timeout(w.timeout)

	var has bool
	var el *rod.Element
	if sel.xpath {
		has, el, err = page.HasX(sel.expr)
	} else {
		has, el, err = page.Has(sel.expr)
	}
	if err != nil {
		return nil, w.classify(err)
	}
	if !has {
		return nil, nil
	}
	visible, err := el.Visible()
	if err != nil || !visible {
		return nil, nil
	}
	return el, nil
}

func (w *window) Find(m Marker) (bool, error) {
	el, err := w.find(m)
	if err != nil {
		return false, err
	}
	return el != nil, nil
}

func (w *window) FindAny(ms ...Marker) (Marker, error) {
	for _, m := range ms {
		found, err := w.Find(m)
		if err != nil {
			return MarkerNone, err
		}
		if found {
			return m, nil
		}
	}
	return MarkerNone, nil
}

func (w *window) Click(m Marker) error {
	el, err := w.find(m)
	if err != nil {
		return err
	}
	if el == nil {
		return stepTimeoutf("%s not present in %s window", m, w.name)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return w.classify(err)
	}
	return nil
}

func (w *window) Fill(m Marker, value string) error {
	el, err := w.find(m)
	if err != nil {
		return err
	}
	if el == nil {
		return stepTimeoutf("%s not present in %s window", m, w.name)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return w.classify(err)
	}
	if err := el.SelectAllText(); err != nil {
		return w.classify(err)
	}
	if err := el.Input(value); err != nil {
		return w.classify(err)
	}
	return nil
}

func (w *window) Text(m Marker) (string, error) {
	el, err := w.find(m)
	if err != nil {
		return "", err
	}
	if el == nil {
		return "", stepTimeoutf("%s not present in %s window", m, w.name)
	}
	text, err := el.Text()
	if err != nil {
		return "", w.classify(err)
	}
	return strings.TrimSpace(text), nil
}

func (w *window) NavigateBack() error {
	if err := w.page.Timeout(w.timeout).NavigateBack(); err != nil {
		return w.classify(err)
	}
	return nil
}

func (w *window) Refresh() error {
	if err := w.page.Timeout(w.timeout).Reload(); err != nil {
		return w.classify(err)
	}
	return nil
}

func (w *window) Close() error {
	if err := w.page.Close(); err != nil {
		if !w.alive() {
			return nil
		}
		return fmt.Errorf("failed to close %s window: %w", w.name, err)
	}
	return nil
}
