package flow

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/entrhq/autokeys/pkg/procutil"
)

const (
	// authURLPrefix is how the authorization URL is recognized on stderr.
	authURLPrefix = "https://accounts.google.com/o/oauth2/auth"
	// urlPromptMarker opens the boilerplate block that precedes the URL.
	urlPromptMarker = "Go to the following link"
	// codePrefix is the sentinel the verification code starts with. The
	// code itself is opaque; only the prefix matters for detection.
	codePrefix = "4/0"
)

// ExchangeOptions configures the credential-exchange subprocess.
type ExchangeOptions struct {
	// GcloudPath is the resolved path of the gcloud binary.
	GcloudPath string
	// Account is the email being logged in.
	Account string
	// ConfigDir isolates the subprocess's configuration state; it becomes
	// the CLOUDSDK_CONFIG for this run only.
	ConfigDir string
	Log       zerolog.Logger
}

// Exchange wraps one `gcloud auth login` subprocess. A background reader
// drains its stderr, captures the authorization URL the moment it appears,
// and retains every line for later diagnostics.
type Exchange struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	log   zerolog.Logger

	urlReady chan struct{}
	url      string // written once by the reader before urlReady closes

	readerDone chan struct{}

	mu    sync.Mutex
	lines []string

	submitOnce sync.Once
	closeOnce  sync.Once
}

// StartExchange launches the subprocess in its own process group with
// stdin/stderr piped and the stderr reader running.
func StartExchange(opts ExchangeOptions) (*Exchange, error) {
	cmd := exec.Command(opts.GcloudPath,
		"auth", "login", opts.Account,
		"--update-adc", "--brief", "--no-launch-browser", "--quiet")
	env := make([]string, 0, len(os.Environ())+1)
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "CLOUDSDK_CONFIG=") {
			env = append(env, kv)
		}
	}
	cmd.Env = append(env, "CLOUDSDK_CONFIG="+opts.ConfigDir)
	// Own process group so the reaper can take out gcloud's children too.
	cmd.SysProcAttr = procutil.GroupAttr()
	cmd.Stdout = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open subprocess stdin: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open subprocess stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start credential exchange: %w", err)
	}

	e := &Exchange{
		cmd:        cmd,
		stdin:      stdin,
		log:        opts.Log,
		urlReady:   make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go e.readStderr(stderr)
	return e, nil
}

func (e *Exchange) readStderr(r io.Reader) {
	defer close(e.readerDone)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	urlSeen := false
	for sc.Scan() {
		line := sc.Text()
		e.mu.Lock()
		e.lines = append(e.lines, line)
		e.mu.Unlock()

		trimmed := strings.TrimSpace(line)
		if !urlSeen && strings.HasPrefix(trimmed, authURLPrefix) {
			e.url = trimmed
			urlSeen = true
			close(e.urlReady)
		}
	}
}

// AwaitURL blocks until the authorization URL has been captured, the
// timeout elapses (capture-timeout), or ctx is canceled (interrupted).
func (e *Exchange) AwaitURL(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.urlReady:
		return e.url, nil
	case <-ctx.Done():
		return "", interruptedf("authorization URL wait canceled")
	case <-timer.C:
		return "", captureTimeoutf("authorization URL not observed within %s", timeout)
	}
}

// SubmitCode writes the verification code and a newline to the
// subprocess's stdin. Only the first call has any effect.
func (e *Exchange) SubmitCode(code string) error {
	var err error
	submitted := false
	e.submitOnce.Do(func() {
		submitted = true
		_, err = io.WriteString(e.stdin, code+"\n")
	})
	if !submitted {
		e.log.Warn().Msg("verification code submitted more than once; ignoring")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to write verification code: %w", err)
	}
	return nil
}

// CloseStdin closes the subprocess's stdin exactly once. It must only be
// called after every window that depends on the browsing context is done,
// since closing may let the subprocess exit.
func (e *Exchange) CloseStdin() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.stdin.Close()
	})
	return err
}

// Wait blocks up to timeout for the subprocess to exit. A non-zero exit is
// reported as a subprocess-exit failure carrying the filtered stderr
// diagnostics, which is distinct from a capture-timeout.
func (e *Exchange) Wait(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		// cmd.Wait closes the stderr pipe; the reader must reach EOF
		// first or the diagnostics tail of a fast exit is lost. EOF
		// arrives as soon as the process exits, so this does not stall.
		<-e.readerDone
		done <- e.cmd.Wait()
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		diag := e.Diagnostics()
		if diag != "" {
			return subprocessExitf(err, "credential exchange failed: %s", diag)
		}
		return subprocessExitf(err, "credential exchange failed without diagnostics")
	case <-time.After(timeout):
		return stepTimeoutf("credential exchange did not exit within %s", timeout)
	}
}

// Diagnostics returns the retained stderr with the URL-prompt boilerplate
// removed: everything before the prompt, the prompt itself, and the URL
// lines are dropped.
func (e *Exchange) Diagnostics() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	promptSeen := false
	var out []string
	for _, line := range e.lines {
		if strings.Contains(line, urlPromptMarker) {
			promptSeen = true
			continue
		}
		if !promptSeen {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(line), "https://") {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// JoinReader waits for the stderr reader to finish, up to timeout. It
// reports false on timeout; callers treat that as best-effort.
func (e *Exchange) JoinReader(timeout time.Duration) bool {
	select {
	case <-e.readerDone:
		return true
	case <-time.After(timeout):
		return false
	}
}

// PID returns the subprocess pid, or 0 if it never started.
func (e *Exchange) PID() int {
	if e.cmd.Process == nil {
		return 0
	}
	return e.cmd.Process.Pid
}
