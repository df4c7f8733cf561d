package flow

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/entrhq/autokeys/pkg/config"
	"github.com/entrhq/autokeys/pkg/procutil"
)

const (
	genLangTermsURL   = "https://console.cloud.google.com/terms/generative-language-api?inv=1&invt=Ab4Lsw&hl=en"
	universalTermsURL = "https://console.developers.google.com/terms/universal?hl=en"
)

// LoginOptions carries everything one login run needs.
type LoginOptions struct {
	Account  string
	Password string

	// GcloudPath is the resolved gcloud binary.
	GcloudPath string
	// WorkDir is the run's isolated directory; it doubles as the
	// subprocess's CLOUDSDK_CONFIG, so the credential artifact lands there.
	WorkDir string

	Timeouts config.Timeouts

	// Factory overrides browser construction. When nil a real chromium
	// session is launched from the fields below.
	Factory        BrowserFactory
	BrowserPath    string
	WindowSize     string
	WindowPosition string
	WorkerID       int
	Headless       bool

	Killer procutil.TreeKiller
	Log    zerolog.Logger
}

func (o LoginOptions) factory() BrowserFactory {
	if o.Factory != nil {
		return o.Factory
	}
	return func() (Browser, error) {
		return NewSession(SessionOptions{
			BrowserPath:    o.BrowserPath,
			WindowSize:     o.WindowSize,
			WindowPosition: o.WindowPosition,
			WorkerID:       o.WorkerID,
			Headless:       o.Headless,
			Account:        o.Account,
			CommandTimeout: o.Timeouts.Command.Std(),
			Log:            o.Log,
		})
	}
}

type sessionResult struct {
	browser Browser
	err     error
}

// Login performs one full authorization run for one account: start the
// credential subprocess, build the browser in parallel, walk the login
// pages, poll the authorization and consent windows to completion, and
// wait for the subprocess to persist the credential artifact.
//
// ctx is the stop signal; the absolute run deadline is tracked separately
// so an interruption and an exhausted budget stay distinguishable in the
// returned error.
func Login(ctx context.Context, opts LoginOptions) error {
	deadline := time.Now().Add(opts.Timeouts.Total.Std())
	log := opts.Log.With().Str("account", opts.Account).Logger()

	exch, err := StartExchange(ExchangeOptions{
		GcloudPath: opts.GcloudPath,
		Account:    opts.Account,
		ConfigDir:  opts.WorkDir,
		Log:        log,
	})
	if err != nil {
		return err
	}

	reaper := NewReaper(opts.Killer, log)
	reaper.TrackExchange(exch)
	defer reaper.Cleanup()

	// Build the browser while the URL is still in flight; the two startups
	// dominate the run and overlap almost entirely.
	sessionCh := make(chan sessionResult, 1)
	go func() {
		b, err := opts.factory()()
		sessionCh <- sessionResult{browser: b, err: err}
	}()

	url, err := exch.AwaitURL(ctx, clampToDeadline(opts.Timeouts.AuthURL.Std(), deadline))
	if err != nil {
		// The session build may still land; hand it to the reaper so the
		// browser does not outlive this failed run.
		select {
		case res := <-sessionCh:
			if res.err == nil {
				reaper.TrackSession(res.browser)
			}
		case <-time.After(5 * time.Second):
		}
		return err
	}
	log.Debug().Msg("authorization URL captured")

	browser, err := joinSession(ctx, sessionCh, clampToDeadline(opts.Timeouts.SessionJoin.Std(), deadline))
	if err != nil {
		return err
	}
	reaper.TrackSession(browser)

	main, err := browser.OpenWindow("main", url+"&hl=en")
	if err != nil {
		return err
	}

	yield := opts.Timeouts.PollYield.Std()

	if _, err := pollFind(ctx, main, opts.Timeouts.Visibility.Std(), deadline, yield, MarkerEmailField); err != nil {
		return err
	}
	if err := main.Fill(MarkerEmailField, opts.Account); err != nil {
		return err
	}
	err = tryStep(ctx, main, log, "submit-email", func() error {
		// The button can render after the field; give it its own budget.
		if _, err := pollFind(ctx, main, opts.Timeouts.Clickable.Std(), deadline, yield, MarkerEmailNext); err != nil {
			return err
		}
		if err := main.Click(MarkerEmailNext); err != nil {
			return err
		}
		return pollGone(ctx, main, opts.Timeouts.Staleness.Std(), deadline, yield, MarkerEmailField)
	}, "accounts.google.com", 3)
	if err != nil {
		return err
	}

	// The page after the identifier is either the password form or a human
	// verification wall. Probing for all three in one wait means a captcha
	// is reported as such instead of as a timeout.
	m, err := pollFind(ctx, main, opts.Timeouts.PasswordPage.Std(), deadline, yield,
		MarkerPasswordField, MarkerVerificationRobot, MarkerVerification2FA)
	if err != nil {
		if KindOf(err) == KindStepTimeout {
			return verificationRequired("password page never appeared for %s", opts.Account)
		}
		return err
	}
	if m != MarkerPasswordField {
		return verificationRequired("%s page shown for %s", m, opts.Account)
	}

	if err := main.Fill(MarkerPasswordField, opts.Password); err != nil {
		return err
	}
	err = tryStep(ctx, main, log, "submit-password", func() error {
		if _, err := pollFind(ctx, main, opts.Timeouts.Clickable.Std(), deadline, yield, MarkerPasswordNext); err != nil {
			return err
		}
		if err := main.Click(MarkerPasswordNext); err != nil {
			return err
		}
		return pollGone(ctx, main, opts.Timeouts.Staleness.Std(), deadline, yield, MarkerPasswordField)
	}, "accounts.google.com", 3)
	if err != nil {
		return err
	}

	genLang, err := browser.OpenWindow("terms-generative-language", genLangTermsURL)
	if err != nil {
		return err
	}
	universal, err := browser.OpenWindow("terms-universal", universalTermsURL)
	if err != nil {
		return err
	}

	tasks := []*WindowTask{
		NewMainTask("main", main),
		NewConsentTask("terms-generative-language", genLang),
		NewConsentTask("terms-universal", universal),
	}
	sched := NewScheduler(tasks, deadline, yield, exch.SubmitCode, log)
	if err := sched.Run(ctx); err != nil {
		return err
	}

	// All windows are done; releasing stdin lets the subprocess finish the
	// token exchange and exit.
	if err := exch.CloseStdin(); err != nil {
		log.Warn().Err(err).Msg("failed to close subprocess stdin")
	}
	if err := exch.Wait(clampToDeadline(opts.Timeouts.ProcessJoin.Std(), deadline)); err != nil {
		return err
	}

	log.Info().Msg("credential exchange completed")
	return nil
}

// joinSession waits for the parallel browser build. A session that arrives
// after the wait gave up is killed by the drain goroutine so it cannot
// leak.
func joinSession(ctx context.Context, ch <-chan sessionResult, timeout time.Duration) (Browser, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	drain := func() {
		go func() {
			if res := <-ch; res.err == nil {
				res.browser.Sever()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.browser, nil
	case <-ctx.Done():
		drain()
		return nil, interruptedf("browser startup wait canceled")
	case <-timer.C:
		drain()
		return nil, stepTimeoutf("browser failed to start within %s", timeout)
	}
}
