// Package provision turns a freshly written credential artifact into usable
// API keys. The login flow deposits application default credentials into an
// isolated directory; this package loads them and hands them to a
// Provisioner that performs the key minting.
package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
)

// CredentialFile is the artifact name gcloud writes inside its
// configuration directory after a successful login.
const CredentialFile = "application_default_credentials.json"

// Provisioner mints API keys from loaded credentials. desiredKeys of 0
// means as many as the account allows.
type Provisioner interface {
	Provision(ctx context.Context, creds *google.Credentials, desiredKeys int, log zerolog.Logger) ([]string, error)
}

// Func adapts a plain function to the Provisioner interface.
type Func func(ctx context.Context, creds *google.Credentials, desiredKeys int, log zerolog.Logger) ([]string, error)

func (f Func) Provision(ctx context.Context, creds *google.Credentials, desiredKeys int, log zerolog.Logger) ([]string, error) {
	return f(ctx, creds, desiredKeys, log)
}

// LoadCredentials reads the credential artifact out of workDir, which was
// the subprocess's configuration directory during login.
func LoadCredentials(ctx context.Context, workDir string) (*google.Credentials, error) {
	path := filepath.Join(workDir, CredentialFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credential artifact not found at %s: %w", path, err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("failed to parse credential artifact: %w", err)
	}
	return creds, nil
}
