package flow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// WindowState is a window's position in its per-role state machine.
type WindowState int

const (
	// StateWaitContinue: main window, waiting for the Continue button.
	StateWaitContinue WindowState = iota
	// StateWaitAllow: main window, waiting for the Allow button.
	StateWaitAllow
	// StateWaitCode: main window, waiting for the verification code text.
	StateWaitCode
	// StateUnknown: main window on a recognized host but an unrecognized
	// page; the scheduler probes for anything it knows and re-orients.
	StateUnknown
	// StateWaitAccept: consent window, waiting for Accept or the
	// already-accepted confirmation.
	StateWaitAccept
	// StateWaitAcceptConfirm: consent window, Accept was clicked, waiting
	// for the confirmation text.
	StateWaitAcceptConfirm
	// StateDone: the window needs no further polling.
	StateDone
)

func (s WindowState) String() string {
	switch s {
	case StateWaitContinue:
		return "wait-continue"
	case StateWaitAllow:
		return "wait-allow"
	case StateWaitCode:
		return "wait-code"
	case StateUnknown:
		return "unknown"
	case StateWaitAccept:
		return "wait-accept"
	case StateWaitAcceptConfirm:
		return "wait-accept-confirmation"
	case StateDone:
		return "done"
	default:
		return "state(?)"
	}
}

// Role distinguishes the main authorization window from consent windows.
type Role int

const (
	// RoleMain drives the continue/allow/code sequence and produces the
	// verification code.
	RoleMain Role = iota
	// RoleConsent accepts a terms-of-service page.
	RoleConsent
)

// Hosts the main window is allowed to sit on. Anything else is treated as
// a stray navigation and undone.
var allowedMainHosts = []string{"accounts.google.com", "sdk.cloud.google.com"}

// maxWindowRefreshes bounds how many times a stuck window is reloaded
// before it is recorded as failed.
const maxWindowRefreshes = 2

// WindowTask is one window under the scheduler's care.
type WindowTask struct {
	Name   string
	Window Prober
	Role   Role
	State  WindowState

	// Code holds the captured verification code once a main task reaches
	// done successfully.
	Code string
	// OK records whether the task finished its state machine, as opposed
	// to being abandoned after a stale window or exhausted refreshes.
	OK bool

	refreshes int
}

// NewMainTask tracks the authorization window.
func NewMainTask(name string, w Prober) *WindowTask {
	return &WindowTask{Name: name, Window: w, Role: RoleMain, State: StateWaitContinue}
}

// NewConsentTask tracks a terms-of-service window.
func NewConsentTask(name string, w Prober) *WindowTask {
	return &WindowTask{Name: name, Window: w, Role: RoleConsent, State: StateWaitAccept}
}

// Scheduler polls a set of windows round-robin with one shared deadline.
// Each pass gives every active window exactly one cheap probe; no window
// ever holds a blocking wait while the others starve.
type Scheduler struct {
	tasks    []*WindowTask
	deadline time.Time
	yield    time.Duration
	log      zerolog.Logger

	// onCode is invoked with the verification code the moment a main task
	// captures it, before that window is closed.
	onCode func(code string) error
}

// NewScheduler builds a scheduler over tasks with the shared absolute
// deadline. onCode may be nil when no main task is present.
func NewScheduler(tasks []*WindowTask, deadline time.Time, yield time.Duration, onCode func(string) error, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		tasks:    tasks,
		deadline: deadline,
		yield:    yield,
		onCode:   onCode,
		log:      log,
	}
}

// Run polls every task to completion. It returns nil only when every task
// finished its state machine successfully. Interruption and the shared
// deadline are checked once per pass, so either ends the loop within one
// yield interval.
func (s *Scheduler) Run(ctx context.Context) error {
	active := make([]*WindowTask, 0, len(s.tasks))
	active = append(active, s.tasks...)

	for {
		if len(active) == 0 {
			return s.verdict()
		}
		if err := ctx.Err(); err != nil {
			return interruptedf("window polling canceled")
		}
		if !time.Now().Before(s.deadline) {
			return stepTimeoutf("overall timeout: %s still pending at deadline", taskNames(active))
		}

		next := active[:0]
		var fatal error
		for _, t := range active {
			if fatal != nil {
				next = append(next, t)
				continue
			}
			err := s.advance(t)
			switch {
			case err == nil:
			case KindOf(err) == KindStaleWindow:
				s.log.Warn().Err(err).Str("window", t.Name).Msg("window went stale, abandoning it")
				t.State = StateDone
			case KindOf(err) == KindStepTimeout || errors.Is(err, context.DeadlineExceeded):
				s.refreshOrFail(t, err)
			case KindOf(err) == KindInterrupted:
				return err
			default:
				fatal = err
			}
			if t.State != StateDone {
				next = append(next, t)
			}
		}
		if fatal != nil {
			return fatal
		}
		active = next

		select {
		case <-ctx.Done():
			return interruptedf("window polling canceled")
		case <-time.After(s.yield):
		}
	}
}

// verdict inspects the finished tasks and reports the ones that were
// abandoned without completing.
func (s *Scheduler) verdict() error {
	var failed []string
	for _, t := range s.tasks {
		if !t.OK {
			failed = append(failed, t.Name)
		}
	}
	if len(failed) > 0 {
		return stepTimeoutf("windows failed to complete: %s", strings.Join(failed, ", "))
	}
	return nil
}

func (s *Scheduler) advance(t *WindowTask) error {
	switch t.Role {
	case RoleMain:
		return s.advanceMain(t)
	case RoleConsent:
		return s.advanceConsent(t)
	default:
		return stepTimeoutf("window %s has unknown role", t.Name)
	}
}

// advanceMain gives the main window one probe. Before anything else the
// window's location is checked: a navigation off the recognized hosts is
// undone with a back step and the state machine re-orients from unknown.
func (s *Scheduler) advanceMain(t *WindowTask) error {
	loc, err := t.Window.Location()
	if err != nil {
		return err
	}
	if !mainHostAllowed(loc) {
		s.log.Warn().Str("window", t.Name).Str("location", loc).Msg("main window strayed, navigating back")
		if err := t.Window.NavigateBack(); err != nil {
			return err
		}
		t.State = StateUnknown
		return nil
	}

	switch t.State {
	case StateWaitContinue:
		return s.clickIfPresent(t, MarkerContinueButton, StateWaitAllow)
	case StateWaitAllow:
		return s.clickIfPresent(t, MarkerAllowButton, StateWaitCode)
	case StateWaitCode:
		found, err := t.Window.Find(MarkerCode)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		code, err := t.Window.Text(MarkerCode)
		if err != nil {
			return err
		}
		t.Code = code
		// Submit before closing: the code element lives in this window.
		if s.onCode != nil {
			if err := s.onCode(code); err != nil {
				return err
			}
		}
		s.log.Info().Str("window", t.Name).Msg("verification code captured and submitted")
		if err := t.Window.Close(); err != nil {
			s.log.Warn().Err(err).Str("window", t.Name).Msg("failed to close window after code capture")
		}
		t.OK = true
		t.State = StateDone
		return nil
	case StateUnknown:
		m, err := t.Window.FindAny(MarkerAllowButton, MarkerContinueButton, MarkerAccountChooser)
		if err != nil {
			return err
		}
		switch m {
		case MarkerAllowButton:
			t.State = StateWaitAllow
		case MarkerContinueButton:
			t.State = StateWaitContinue
		case MarkerAccountChooser:
			if err := t.Window.Click(MarkerAccountChooser); err != nil {
				return err
			}
			t.State = StateWaitContinue
		}
		return nil
	default:
		return nil
	}
}

// clickIfPresent probes once for m and, when visible, clicks it and moves
// the task to next. Absence is not an error; the next pass probes again.
func (s *Scheduler) clickIfPresent(t *WindowTask, m Marker, next WindowState) error {
	found, err := t.Window.Find(m)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := t.Window.Click(m); err != nil {
		return err
	}
	s.log.Debug().Str("window", t.Name).Str("clicked", m.String()).Stringer("state", next).Msg("window advanced")
	t.State = next
	return nil
}

func (s *Scheduler) advanceConsent(t *WindowTask) error {
	switch t.State {
	case StateWaitAccept:
		m, err := t.Window.FindAny(MarkerAcceptButton, MarkerAlreadyAccepted)
		if err != nil {
			return err
		}
		switch m {
		case MarkerAcceptButton:
			if err := t.Window.Click(MarkerAcceptButton); err != nil {
				return err
			}
			t.State = StateWaitAcceptConfirm
		case MarkerAlreadyAccepted:
			s.finishConsent(t)
		}
		return nil
	case StateWaitAcceptConfirm:
		found, err := t.Window.Find(MarkerAlreadyAccepted)
		if err != nil {
			return err
		}
		if found {
			s.finishConsent(t)
		}
		return nil
	default:
		return nil
	}
}

func (s *Scheduler) finishConsent(t *WindowTask) {
	s.log.Info().Str("window", t.Name).Msg("terms accepted")
	if err := t.Window.Close(); err != nil {
		s.log.Warn().Err(err).Str("window", t.Name).Msg("failed to close consent window")
	}
	t.OK = true
	t.State = StateDone
}

// refreshOrFail reloads a stuck window while it has refresh budget and the
// shared deadline still allows another round. Out of budget, the task is
// recorded as failed rather than aborting its siblings.
func (s *Scheduler) refreshOrFail(t *WindowTask, cause error) {
	if t.refreshes < maxWindowRefreshes && time.Now().Before(s.deadline) {
		t.refreshes++
		s.log.Warn().Err(cause).
			Str("window", t.Name).
			Int("refresh", t.refreshes).
			Msg("window stuck, refreshing")
		if err := t.Window.Refresh(); err != nil {
			s.log.Warn().Err(err).Str("window", t.Name).Msg("refresh failed, abandoning window")
			t.State = StateDone
		}
		return
	}
	s.log.Warn().Err(cause).Str("window", t.Name).Msg("window exhausted its refresh budget")
	t.State = StateDone
}

func mainHostAllowed(loc string) bool {
	for _, h := range allowedMainHosts {
		if strings.Contains(loc, h) {
			return true
		}
	}
	return false
}

func taskNames(tasks []*WindowTask) string {
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.Name
	}
	return strings.Join(names, ", ")
}
