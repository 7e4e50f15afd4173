package secrets

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/kevin07696/pos-payments/internal/domain/ports"
)

// VaultConfig contains configuration for the HashiCorp Vault adapter
type VaultConfig struct {
	Address   string // e.g. https://vault.example.com:8200
	Token     string
	MountPath string // KV v2 mount path, default "secret"
	Namespace string // Vault Enterprise
}

// DefaultVaultConfig returns default configuration
func DefaultVaultConfig(address, token string) *VaultConfig {
	return &VaultConfig{
		Address:   address,
		Token:     token,
		MountPath: "secret",
	}
}

// vaultSecretManager implements ports.SecretManager for Vault KV v2
type vaultSecretManager struct {
	client *vault.Client
	config *VaultConfig
	logger *zap.Logger
}

// NewVaultSecretManager creates a new Vault adapter with token auth
func NewVaultSecretManager(cfg *VaultConfig, logger *zap.Logger) (ports.SecretManager, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	return &vaultSecretManager{client: client, config: cfg, logger: logger}, nil
}

// GetSecret reads a KV v2 secret. The path may include the mount prefix
// ("secret/data/pos-payments/stripe") or be relative to the configured
// mount ("pos-payments/stripe"); the value is expected under the "value"
// key.
func (m *vaultSecretManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	relative := path
	prefix := m.config.MountPath + "/data/"
	if strings.HasPrefix(path, prefix) {
		relative = strings.TrimPrefix(path, prefix)
	}

	kv := m.client.KVv2(m.config.MountPath)
	secret, err := kv.Get(ctx, relative)
	if err != nil {
		return nil, fmt.Errorf("read vault secret %q: %w", path, err)
	}

	value, ok := secret.Data["value"].(string)
	if !ok {
		return nil, fmt.Errorf("vault secret %q has no string value", path)
	}

	m.logger.Debug("Loaded secret from Vault", zap.String("path", relative))

	return &ports.Secret{
		Value:   value,
		Version: fmt.Sprintf("%d", secret.VersionMetadata.Version),
	}, nil
}
