package secrets

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/domain/ports"
)

// envSecretManager implements ports.SecretManager over environment
// variables. Development only; deployments use AWS Secrets Manager or
// Vault.
type envSecretManager struct {
	logger *zap.Logger
}

// NewEnvSecretManager creates a secret manager backed by environment
// variables; the secret path is the variable name
func NewEnvSecretManager(logger *zap.Logger) ports.SecretManager {
	return &envSecretManager{logger: logger}
}

// GetSecret reads the secret from the environment
func (m *envSecretManager) GetSecret(_ context.Context, path string) (*ports.Secret, error) {
	value := os.Getenv(path)
	if value == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "secret not set").
			WithDetail("path", path)
	}

	m.logger.Debug("Loaded secret from environment", zap.String("path", path))

	return &ports.Secret{Value: value, Version: "env"}, nil
}
