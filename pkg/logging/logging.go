// Package logging builds the zerolog loggers used across autokeys.
//
// Each account task gets its own captured logger: everything it writes is
// retained in memory so the task's final result can carry the full log, and
// mirrored to a session-wide file under ~/.autokeys/logs/ when available.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const timeFormat = "15:04:05"

var (
	// Session ID for the current execution; all tasks share one log file.
	sessionID     string
	sessionIDOnce sync.Once

	logDir   string
	initOnce sync.Once
	initErr  error

	sessionFile     *os.File
	sessionFileOnce sync.Once
)

// SessionID returns (creating on first use) the id shared by every logger
// in this process.
func SessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

func initLogDirectory() error {
	initOnce.Do(func() {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			initErr = fmt.Errorf("failed to get home directory: %w", err)
			return
		}
		logDir = filepath.Join(homeDir, ".autokeys", "logs")
		if err := os.MkdirAll(logDir, 0o750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
		}
	})
	return initErr
}

// sessionWriter returns the shared session log file, or nil when file
// logging is unavailable. Loggers fall back to in-memory/stderr output only.
func sessionWriter() io.Writer {
	sessionFileOnce.Do(func() {
		if err := initLogDirectory(); err != nil {
			return
		}
		path := filepath.Join(logDir, fmt.Sprintf("%s-autokeys.log", SessionID()))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return
		}
		sessionFile = f
	})
	if sessionFile == nil {
		return nil
	}
	return sessionFile
}

// New returns the process-level logger for a component, writing to stderr
// and the session file.
func New(component string) zerolog.Logger {
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: timeFormat}}
	if w := sessionWriter(); w != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: timeFormat})
	}
	return zerolog.New(zerolog.MultiLevelWriter(writers...)).With().
		Timestamp().
		Str("component", component).
		Logger()
}

// TaskLog is the captured logger for one account task. The logger carries
// the account as a context field instead of relying on any ambient state.
type TaskLog struct {
	Logger zerolog.Logger

	buf  *lockedBuffer
	hook *lastErrorHook
}

// NewTaskLog builds a TaskLog for the given account.
func NewTaskLog(account string) *TaskLog {
	buf := &lockedBuffer{}
	hook := &lastErrorHook{}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: buf, NoColor: true, TimeFormat: timeFormat}}
	if w := sessionWriter(); w != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: timeFormat})
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().
		Timestamp().
		Str("account", account).
		Logger().
		Hook(hook)

	return &TaskLog{Logger: logger, buf: buf, hook: hook}
}

// Contents returns everything the task has logged so far.
func (t *TaskLog) Contents() string { return t.buf.String() }

// LastError returns the message of the most recent error-level entry, or ""
// if the task never logged an error. Task results derive their reason from
// it, so users see the last failure rather than a raw stack.
func (t *TaskLog) LastError() string { return t.hook.last() }

type lockedBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

type lastErrorHook struct {
	mu   sync.Mutex
	msg  string
	seen bool
}

func (h *lastErrorHook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	if level < zerolog.ErrorLevel || msg == "" {
		return
	}
	h.mu.Lock()
	h.msg = msg
	h.seen = true
	h.mu.Unlock()
}

func (h *lastErrorHook) last() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.msg
}
