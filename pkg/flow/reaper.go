package flow

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/entrhq/autokeys/pkg/procutil"
)

// Reaper force-terminates whatever a login run leaves behind. Resources
// are registered as they come alive; Cleanup runs once no matter how many
// paths call it, and never panics, so a defer on it is always safe.
type Reaper struct {
	killer procutil.TreeKiller
	log    zerolog.Logger

	mu       sync.Mutex
	session  Browser
	exchange *Exchange

	once sync.Once
}

func NewReaper(killer procutil.TreeKiller, log zerolog.Logger) *Reaper {
	return &Reaper{killer: killer, log: log}
}

// TrackSession registers a browser session for cleanup.
func (r *Reaper) TrackSession(s Browser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = s
}

// TrackExchange registers the credential subprocess for cleanup.
func (r *Reaper) TrackExchange(e *Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchange = e
}

// Cleanup kills the browser process tree, drops the control connection,
// kills the subprocess's process group, and joins its stderr reader.
// Every step is best effort; a failure in one never skips the rest.
func (r *Reaper) Cleanup() {
	r.once.Do(func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error().Interface("panic", rec).Msg("cleanup panicked, resources may leak")
			}
		}()

		r.mu.Lock()
		session := r.session
		exchange := r.exchange
		r.mu.Unlock()

		if session != nil {
			for _, pid := range session.PIDs() {
				if err := r.killer.KillTree(pid); err != nil {
					r.log.Warn().Err(err).Int("pid", pid).Msg("failed to kill browser process tree")
				}
			}
			session.Sever()
		}

		if exchange != nil {
			if pid := exchange.PID(); pid > 0 {
				if err := r.killer.KillTree(pid); err != nil {
					r.log.Warn().Err(err).Int("pid", pid).Msg("failed to kill credential subprocess")
				}
			}
			if !exchange.JoinReader(2 * time.Second) {
				r.log.Warn().Msg("subprocess stderr reader did not stop in time")
			}
		}
	})
}
