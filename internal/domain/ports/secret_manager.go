package ports

import "context"

// Secret is a retrieved secret with metadata
type Secret struct {
	Value    string
	Version  string
	Metadata map[string]string
}

// SecretManager retrieves runtime secrets (provider API key, webhook
// signing secret, database password). Backends: local env vars for
// development, AWS Secrets Manager or Vault in deployment.
type SecretManager interface {
	// GetSecret retrieves a secret by path. Path format depends on the
	// backend:
	//   - local: the environment variable name
	//   - AWS:   "pos-payments/{name}"
	//   - Vault: "secret/data/pos-payments/{name}"
	GetSecret(ctx context.Context, path string) (*Secret, error)
}
