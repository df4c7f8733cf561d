package flow

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/autokeys/pkg/config"
)

func testTimeouts() config.Timeouts {
	return config.Timeouts{
		Total:        config.Duration(10 * time.Second),
		AuthURL:      config.Duration(5 * time.Second),
		SessionJoin:  config.Duration(5 * time.Second),
		Visibility:   config.Duration(2 * time.Second),
		Clickable:    config.Duration(time.Second),
		Staleness:    config.Duration(2 * time.Second),
		PasswordPage: config.Duration(500 * time.Millisecond),
		Command:      config.Duration(time.Second),
		ProcessJoin:  config.Duration(5 * time.Second),
		PollYield:    config.Duration(10 * time.Millisecond),
	}
}

// fullLoginWindow scripts a main window through the whole page sequence:
// identifier, password, continue, allow, verification code.
func fullLoginWindow() *fakeWindow {
	w := newFakeWindow("https://accounts.google.com/signin/oauth")
	w.show(MarkerEmailField)
	w.show(MarkerEmailNext)
	w.onClick = func(m Marker) {
		switch m {
		case MarkerEmailNext:
			w.hide(MarkerEmailField)
			w.hide(MarkerEmailNext)
			w.show(MarkerPasswordField)
			w.show(MarkerPasswordNext)
		case MarkerPasswordNext:
			w.hide(MarkerPasswordField)
			w.hide(MarkerPasswordNext)
			w.show(MarkerContinueButton)
		case MarkerContinueButton:
			w.hide(MarkerContinueButton)
			w.show(MarkerAllowButton)
		case MarkerAllowButton:
			w.hide(MarkerAllowButton)
			w.show(MarkerCode)
			w.mu.Lock()
			w.texts[MarkerCode] = "4/0TestCode"
			w.mu.Unlock()
		}
	}
	return w
}

func acceptedConsentWindow() *fakeWindow {
	w := newFakeWindow("about:blank")
	w.show(MarkerAlreadyAccepted)
	return w
}

func loginTestBrowser(main *fakeWindow) *fakeBrowser {
	b := newFakeBrowser()
	b.register("main", main)
	b.register("terms-generative-language", acceptedConsentWindow())
	b.register("terms-universal", acceptedConsentWindow())
	return b
}

func loginOptions(t *testing.T, script string, browser *fakeBrowser) LoginOptions {
	t.Helper()
	return LoginOptions{
		Account:    "alice@example.com",
		Password:   "hunter2",
		GcloudPath: writeScript(t, script),
		WorkDir:    t.TempDir(),
		Timeouts:   testTimeouts(),
		Factory: func() (Browser, error) {
			return browser, nil
		},
		Killer: &fakeKiller{},
		Log:    zerolog.Nop(),
	}
}

const happyGcloudScript = `
echo "Go to the following link in your browser:" >&2
echo "    https://accounts.google.com/o/oauth2/auth?client_id=abc" >&2
read code
exit 0
`

func TestLoginHappyPath(t *testing.T) {
	main := fullLoginWindow()
	browser := loginTestBrowser(main)
	opts := loginOptions(t, happyGcloudScript, browser)

	require.NoError(t, Login(context.Background(), opts))

	// The main window opened on the captured URL with the language pinned.
	assert.Equal(t, "https://accounts.google.com/o/oauth2/auth?client_id=abc&hl=en", browser.urls["main"])
	assert.Equal(t, "alice@example.com", main.fills[MarkerEmailField])
	assert.Equal(t, "hunter2", main.fills[MarkerPasswordField])
	assert.True(t, main.isClosed())
	assert.ElementsMatch(t, []string{"main", "terms-generative-language", "terms-universal"}, browser.opened)
}

func TestLoginWaitsForSlowRenderingButtons(t *testing.T) {
	// The next buttons appear a beat after their fields; each click must
	// wait out its budget instead of failing on the first probe.
	w := newFakeWindow("https://accounts.google.com/signin/oauth")
	w.show(MarkerEmailField)
	time.AfterFunc(50*time.Millisecond, func() { w.show(MarkerEmailNext) })
	w.onClick = func(m Marker) {
		switch m {
		case MarkerEmailNext:
			w.hide(MarkerEmailField)
			w.hide(MarkerEmailNext)
			w.show(MarkerPasswordField)
			time.AfterFunc(50*time.Millisecond, func() { w.show(MarkerPasswordNext) })
		case MarkerPasswordNext:
			w.hide(MarkerPasswordField)
			w.hide(MarkerPasswordNext)
			w.show(MarkerContinueButton)
		case MarkerContinueButton:
			w.hide(MarkerContinueButton)
			w.show(MarkerAllowButton)
		case MarkerAllowButton:
			w.hide(MarkerAllowButton)
			w.show(MarkerCode)
			w.mu.Lock()
			w.texts[MarkerCode] = "4/0SlowCode"
			w.mu.Unlock()
		}
	}
	opts := loginOptions(t, happyGcloudScript, loginTestBrowser(w))

	require.NoError(t, Login(context.Background(), opts))
	assert.True(t, w.isClosed())
}

func TestLoginVerificationWall(t *testing.T) {
	main := fullLoginWindow()
	main.onClick = func(m Marker) {
		if m == MarkerEmailNext {
			main.hide(MarkerEmailField)
			main.show(MarkerVerification2FA)
		}
	}
	opts := loginOptions(t, happyGcloudScript, loginTestBrowser(main))

	err := Login(context.Background(), opts)
	require.Error(t, err)
	assert.Equal(t, KindVerificationRequired, KindOf(err))
	assert.False(t, IsRetryable(err))
}

func TestLoginPasswordPageNeverAppears(t *testing.T) {
	main := fullLoginWindow()
	main.onClick = func(m Marker) {
		if m == MarkerEmailNext {
			main.hide(MarkerEmailField)
		}
	}
	opts := loginOptions(t, happyGcloudScript, loginTestBrowser(main))

	err := Login(context.Background(), opts)
	require.Error(t, err)
	assert.Equal(t, KindVerificationRequired, KindOf(err))
}

func TestLoginCaptureTimeoutReapsSession(t *testing.T) {
	browser := loginTestBrowser(fullLoginWindow())
	opts := loginOptions(t, `sleep 30`, browser)
	opts.Timeouts.AuthURL = config.Duration(100 * time.Millisecond)

	err := Login(context.Background(), opts)
	require.Error(t, err)
	assert.Equal(t, KindCaptureTimeout, KindOf(err))
	// The parallel session build landed and must not outlive the run.
	assert.True(t, browser.severed)
}

func TestLoginSubprocessExitFailure(t *testing.T) {
	script := `
echo "Go to the following link in your browser:" >&2
echo "    https://accounts.google.com/o/oauth2/auth?client_id=abc" >&2
read code
echo "ERROR: invalid_grant" >&2
exit 3
`
	opts := loginOptions(t, script, loginTestBrowser(fullLoginWindow()))

	err := Login(context.Background(), opts)
	require.Error(t, err)
	assert.Equal(t, KindSubprocessExit, KindOf(err))
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestLoginObservesCancellation(t *testing.T) {
	opts := loginOptions(t, `sleep 30`, loginTestBrowser(fullLoginWindow()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Login(ctx, opts)
	require.Error(t, err)
	assert.Equal(t, KindInterrupted, KindOf(err))
	assert.Less(t, time.Since(start), 10*time.Second)
}
