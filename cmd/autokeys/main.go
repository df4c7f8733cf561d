// Package main provides the autokeys batch runner. It reads a list of
// accounts, runs the automated authorization flow for each over a bounded
// worker pool, and reports a per-account outcome.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	appconfig "github.com/entrhq/autokeys/pkg/config"
	"github.com/entrhq/autokeys/pkg/logging"
	"github.com/entrhq/autokeys/pkg/runner"
)

const version = "0.1.0"

// Flags holds the command line configuration.
type Flags struct {
	ConfigPath   string
	AccountsPath string
	OutputPath   string
	ShowVersion  bool
}

func main() {
	flags := parseFlags()

	if flags.ShowVersion {
		fmt.Printf("autokeys v%s\n", version)
		os.Exit(0)
	}

	log := logging.New("main")

	cfg, err := appconfig.Load(flags.ConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	accounts, err := loadAccounts(flags.AccountsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load accounts")
	}
	if len(accounts) == 0 {
		log.Fatal().Str("path", flags.AccountsPath).Msg("accounts file is empty")
	}

	// First signal cancels the run so in-flight accounts finish as
	// interrupted; a second signal exits immediately.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn().Msg("stop requested, letting workers wind down")
		cancel()
		<-sigCh
		log.Error().Msg("second stop request, exiting immediately")
		os.Exit(1)
	}()

	r := runner.New(cfg, nil)
	results, err := r.Run(ctx, accounts)
	if err != nil {
		log.Fatal().Err(err).Msg("run aborted")
	}

	if err := writeResults(flags.OutputPath, results); err != nil {
		log.Fatal().Err(err).Msg("failed to write results")
	}

	exitCode := 0
	for _, res := range results {
		line := log.Info()
		if res.Status != runner.StatusSuccess {
			line = log.Warn()
			exitCode = 1
		}
		line.Str("account", res.Account.Email).
			Str("status", string(res.Status)).
			Int("keys", len(res.Keys)).
			Str("reason", res.Reason).
			Msg("account finished")
	}
	os.Exit(exitCode)
}

func parseFlags() Flags {
	var flags Flags
	flag.StringVar(&flags.ConfigPath, "config", "autokeys.yaml", "Path to the configuration file")
	flag.StringVar(&flags.AccountsPath, "accounts", "accounts.yaml", "Path to the accounts file")
	flag.StringVar(&flags.OutputPath, "output", "", "Write results as YAML to this path instead of stdout")
	flag.BoolVar(&flags.ShowVersion, "version", false, "Show version and exit")
	flag.Parse()
	return flags
}

// accountsFile is the on-disk shape of the accounts list.
type accountsFile struct {
	Accounts []runner.Account `yaml:"accounts"`
}

func loadAccounts(path string) ([]runner.Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}
	var file accountsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file %s: %w", path, err)
	}
	for i, acct := range file.Accounts {
		if acct.Email == "" || acct.Password == "" {
			return nil, fmt.Errorf("account %d in %s is missing an email or password", i, path)
		}
	}
	return file.Accounts, nil
}

// resultReport strips the captured log out of the serialized results; the
// logs already went to the session log file.
type resultReport struct {
	Account string   `yaml:"account"`
	Status  string   `yaml:"status"`
	Keys    []string `yaml:"keys,omitempty"`
	Reason  string   `yaml:"reason,omitempty"`
}

func writeResults(path string, results []runner.Result) error {
	report := make([]resultReport, len(results))
	for i, res := range results {
		report[i] = resultReport{
			Account: res.Account.Email,
			Status:  string(res.Status),
			Keys:    res.Keys,
			Reason:  res.Reason,
		}
	}
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to serialize results: %w", err)
	}
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
