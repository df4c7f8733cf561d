package flow

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// clampToDeadline shrinks budget so it never reaches past the absolute
// deadline of the whole run.
func clampToDeadline(budget time.Duration, deadline time.Time) time.Duration {
	remaining := time.Until(deadline)
	if remaining < budget {
		return remaining
	}
	return budget
}

// pollFind waits until one of the markers becomes visible, probing in the
// given priority order with a yield between passes. It distinguishes the
// three ways a wait can end: a marker appeared, ctx was canceled
// (interrupted), or the budget ran out (step timeout).
func pollFind(ctx context.Context, w Prober, budget time.Duration, deadline time.Time, yield time.Duration, ms ...Marker) (Marker, error) {
	budget = clampToDeadline(budget, deadline)
	end := time.Now().Add(budget)
	for {
		m, err := w.FindAny(ms...)
		if err != nil {
			return MarkerNone, err
		}
		if m != MarkerNone {
			return m, nil
		}
		if time.Now().After(end) {
			return MarkerNone, stepTimeoutf("none of %s appeared within %s", markerNames(ms), budget)
		}
		select {
		case <-ctx.Done():
			return MarkerNone, interruptedf("wait for %s canceled", markerNames(ms))
		case <-time.After(yield):
		}
	}
}

// pollGone waits until the marker is no longer visible, the staleness
// signal that a click actually took effect.
func pollGone(ctx context.Context, w Prober, budget time.Duration, deadline time.Time, yield time.Duration, m Marker) error {
	budget = clampToDeadline(budget, deadline)
	end := time.Now().Add(budget)
	for {
		found, err := w.Find(m)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		if time.Now().After(end) {
			return stepTimeoutf("%s still present after %s", m, budget)
		}
		select {
		case <-ctx.Done():
			return interruptedf("wait for %s to leave canceled", m)
		case <-time.After(yield):
		}
	}
}

func markerNames(ms []Marker) string {
	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = m.String()
	}
	return strings.Join(names, "|")
}

// StepFunc performs one flow step against a window.
type StepFunc func() error

// tryStep runs action and verifies the window landed on a location
// containing wantURLPart. A mismatch navigates back and tries again, up to
// maxAttempts; exhaustion is a navigation mismatch, which the outer retry
// wrapper may re-run from scratch.
func tryStep(ctx context.Context, w Prober, log zerolog.Logger, name string, action StepFunc, wantURLPart string, maxAttempts int) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return interruptedf("step %s canceled", name)
		}
		if err := action(); err != nil {
			return err
		}
		loc, err := w.Location()
		if err != nil {
			return err
		}
		if strings.Contains(loc, wantURLPart) {
			return nil
		}
		log.Warn().
			Str("step", name).
			Str("location", loc).
			Int("attempt", attempt).
			Msg("step landed on unexpected location, navigating back")
		if attempt >= maxAttempts {
			return navigationMismatchf("step %s landed on %s after %d attempts, wanted %q",
				name, loc, maxAttempts, wantURLPart)
		}
		if err := w.NavigateBack(); err != nil {
			return err
		}
	}
}
