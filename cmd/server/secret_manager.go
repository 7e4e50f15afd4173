package main

import (
	"context"
	"fmt"

	"github.com/kevin07696/pos-payments/internal/adapters/secrets"
	"github.com/kevin07696/pos-payments/internal/config"
	"github.com/kevin07696/pos-payments/internal/domain/ports"
	"go.uber.org/zap"
)

// newSecretManager selects the secrets backend from configuration.
// Development runs read straight from the environment; deployments use
// AWS Secrets Manager or Vault.
func newSecretManager(ctx context.Context, cfg *config.SecretsConfig, logger *zap.Logger) (ports.SecretManager, error) {
	switch cfg.Backend {
	case "env":
		return secrets.NewEnvSecretManager(logger), nil
	case "aws":
		return secrets.NewAWSSecretManager(ctx, secrets.DefaultAWSConfig(cfg.AWSRegion), logger)
	case "vault":
		return secrets.NewVaultSecretManager(secrets.DefaultVaultConfig(cfg.VaultAddress, cfg.VaultToken), logger)
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.Backend)
	}
}

// secretPath maps a logical secret name to the backend-specific path
func secretPath(cfg *config.SecretsConfig, name, envVar string) string {
	switch cfg.Backend {
	case "aws":
		return cfg.AWSSecretID + "/" + name
	case "vault":
		return cfg.VaultPath + "/" + name
	default:
		return envVar
	}
}

// resolveSecret loads one secret, falling back to the value already in
// the configuration when the backend has nothing for it
func resolveSecret(ctx context.Context, sm ports.SecretManager, cfg *config.SecretsConfig, name, envVar, current string) string {
	secret, err := sm.GetSecret(ctx, secretPath(cfg, name, envVar))
	if err != nil {
		return current
	}
	return secret.Value
}
