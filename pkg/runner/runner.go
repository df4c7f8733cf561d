// Package runner fans a batch of accounts out over a bounded worker pool.
// Each account gets an isolated working directory, a captured per-task log,
// a retried login flow, and a provisioning pass, and is summarized into one
// Result regardless of how its run ended.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/autokeys/pkg/config"
	"github.com/entrhq/autokeys/pkg/flow"
	"github.com/entrhq/autokeys/pkg/logging"
	"github.com/entrhq/autokeys/pkg/procutil"
	"github.com/entrhq/autokeys/pkg/provision"
)

// Status is the final disposition of one account's run.
type Status string

const (
	// StatusSuccess: logged in and every requested key was minted.
	StatusSuccess Status = "success"
	// StatusPartial: logged in and some keys were minted before an error
	// or a stop request cut provisioning short.
	StatusPartial Status = "partial"
	// StatusFailure: the run failed and produced nothing usable.
	StatusFailure Status = "failure"
	// StatusLoginFailed: the account itself could not be logged in, for
	// example a human verification wall. Not worth retrying elsewhere.
	StatusLoginFailed Status = "login_failed"
	// StatusInterrupted: a stop request ended the run before login
	// completed.
	StatusInterrupted Status = "interrupted"
)

// Account is one credential pair to process.
type Account struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// Result summarizes one account's run.
type Result struct {
	Account Account
	Status  Status
	// Keys are the minted API keys, possibly short of the target for a
	// partial result.
	Keys []string
	// Reason is the terminal error for non-success statuses.
	Reason string
	// Log is the captured per-task log.
	Log string
}

// loginFunc is the seam tests use to substitute the real flow.
type loginFunc func(ctx context.Context, opts flow.LoginOptions) error

// Runner executes account runs with bounded parallelism.
type Runner struct {
	cfg    config.Config
	prov   provision.Provisioner
	killer procutil.TreeKiller
	log    zerolog.Logger
	login  loginFunc

	// tempRoot overrides where account working directories are created;
	// empty means the OS temp directory.
	tempRoot string
}

// New builds a Runner. prov may be nil for a login-only run, in which case
// success means the credential artifact exists and no keys are minted.
func New(cfg config.Config, prov provision.Provisioner) *Runner {
	return &Runner{
		cfg:    cfg,
		prov:   prov,
		killer: procutil.NewTreeKiller(),
		log:    logging.New("runner"),
		login:  flow.Login,
	}
}

// Run processes every account and returns one Result per account, in input
// order. The only error Run itself returns is a missing gcloud binary;
// per-account failures are carried in the results.
func (r *Runner) Run(ctx context.Context, accounts []Account) ([]Result, error) {
	gcloud := r.cfg.GcloudPath
	if gcloud == "" {
		path, err := exec.LookPath("gcloud")
		if err != nil {
			return nil, fmt.Errorf("gcloud binary not found on PATH: %w", err)
		}
		gcloud = path
	}

	r.log.Info().
		Int("accounts", len(accounts)).
		Int("workers", r.cfg.Workers).
		Msg("starting account batch")

	results := make([]Result, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, acct := range accounts {
		i, acct := i, acct
		g.Go(func() error {
			results[i] = r.processAccount(gctx, i, acct, gcloud)
			return nil
		})
	}
	// Workers never return errors, but Wait is still the join point.
	_ = g.Wait()
	r.log.Info().Int("accounts", len(accounts)).Msg("account batch finished")
	return results, nil
}

func (r *Runner) processAccount(ctx context.Context, workerID int, acct Account, gcloud string) Result {
	task := logging.NewTaskLog(acct.Email)
	res := Result{Account: acct}

	// Unique per run so a retried account never sees a predecessor's
	// configuration state or credential artifact.
	root := r.tempRoot
	if root == "" {
		root = os.TempDir()
	}
	workDir := filepath.Join(root, "autokeys-"+uuid.NewString())
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		res.Status = StatusFailure
		res.Reason = reasonFrom(task, err)
		task.Logger.Error().Err(err).Msg("failed to create working directory")
		res.Log = task.Contents()
		return res
	}
	defer os.RemoveAll(workDir)

	loginErr := flow.Retry(ctx, task.Logger, r.cfg.LoginAttempts, func() error {
		return r.login(ctx, flow.LoginOptions{
			Account:        acct.Email,
			Password:       acct.Password,
			GcloudPath:     gcloud,
			WorkDir:        workDir,
			Timeouts:       r.cfg.Timeouts,
			BrowserPath:    r.cfg.BrowserPath,
			WindowSize:     r.cfg.WindowSize,
			WindowPosition: r.cfg.WindowPosition,
			WorkerID:       workerID,
			Headless:       r.cfg.Headless,
			Killer:         r.killer,
			Log:            task.Logger,
		})
	})
	if loginErr != nil {
		res.Status = loginStatus(ctx, loginErr)
		res.Reason = reasonFrom(task, loginErr)
		task.Logger.Error().Err(loginErr).Msg("login failed")
		res.Log = task.Contents()
		return res
	}
	task.Logger.Info().Msg("login succeeded")

	if r.prov == nil {
		res.Status = StatusSuccess
		res.Log = task.Contents()
		return res
	}

	creds, err := provision.LoadCredentials(ctx, workDir)
	if err != nil {
		res.Status = StatusFailure
		res.Reason = reasonFrom(task, err)
		task.Logger.Error().Err(err).Msg("credential artifact unusable")
		res.Log = task.Contents()
		return res
	}

	keys, provErr := r.prov.Provision(ctx, creds, r.cfg.DesiredKeys, task.Logger)
	res.Keys = keys
	switch {
	case provErr == nil && ctx.Err() == nil:
		res.Status = StatusSuccess
	case len(keys) > 0:
		// Something was minted before the run was cut short; the keys are
		// real and the caller should keep them.
		res.Status = StatusPartial
		if provErr != nil {
			res.Reason = reasonFrom(task, provErr)
			task.Logger.Error().Err(provErr).Msg("provisioning ended early")
		} else {
			res.Reason = "stopped before reaching the key target"
		}
	case ctx.Err() != nil:
		res.Status = StatusInterrupted
		res.Reason = "stopped before any key was minted"
	default:
		res.Status = StatusFailure
		res.Reason = reasonFrom(task, provErr)
		task.Logger.Error().Err(provErr).Msg("provisioning failed")
	}
	res.Log = task.Contents()
	return res
}

// reasonFrom derives a result reason from the task log: the last
// error-level line the flow itself logged wins over the raw error, which is
// only the fallback when nothing was tagged. It must run before the runner
// writes its own error summary line, or that line would shadow the flow's.
func reasonFrom(task *logging.TaskLog, err error) string {
	if msg := task.LastError(); msg != "" {
		return msg
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// loginStatus maps a terminal login error onto the result taxonomy.
func loginStatus(ctx context.Context, err error) Status {
	if ctx.Err() != nil || flow.KindOf(err) == flow.KindInterrupted {
		return StatusInterrupted
	}
	if flow.KindOf(err) == flow.KindVerificationRequired {
		return StatusLoginFailed
	}
	return StatusFailure
}
