package secrets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"

	"github.com/kevin07696/pos-payments/internal/domain/ports"
)

// AWSConfig contains configuration for the AWS Secrets Manager adapter
type AWSConfig struct {
	Region      string
	Profile     string // optional, for local development
	CacheTTL    time.Duration
	EnableCache bool
}

// DefaultAWSConfig returns default configuration
func DefaultAWSConfig(region string) *AWSConfig {
	return &AWSConfig{
		Region:      region,
		CacheTTL:    5 * time.Minute,
		EnableCache: true,
	}
}

// awsSecretManager implements ports.SecretManager for AWS Secrets Manager
type awsSecretManager struct {
	client *secretsmanager.Client
	config *AWSConfig
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	secret    *ports.Secret
	expiresAt time.Time
}

// NewAWSSecretManager creates a new AWS Secrets Manager adapter using the
// default credentials chain (IAM role in production, profile locally)
func NewAWSSecretManager(ctx context.Context, cfg *AWSConfig, logger *zap.Logger) (ports.SecretManager, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &awsSecretManager{
		client: secretsmanager.NewFromConfig(awsConfig),
		config: cfg,
		logger: logger,
		cache:  make(map[string]cacheEntry),
	}, nil
}

// GetSecret retrieves a secret value, serving cached entries within TTL
func (m *awsSecretManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	if m.config.EnableCache {
		m.mu.RLock()
		entry, ok := m.cache[path]
		m.mu.RUnlock()
		if ok && time.Now().Before(entry.expiresAt) {
			return entry.secret, nil
		}
	}

	out, err := m.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &path,
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %q: %w", path, err)
	}

	secret := &ports.Secret{}
	if out.SecretString != nil {
		secret.Value = *out.SecretString
	}
	if out.VersionId != nil {
		secret.Version = *out.VersionId
	}

	if m.config.EnableCache {
		m.mu.Lock()
		m.cache[path] = cacheEntry{secret: secret, expiresAt: time.Now().Add(m.config.CacheTTL)}
		m.mu.Unlock()
	}

	m.logger.Debug("Loaded secret from AWS Secrets Manager", zap.String("path", path))
	return secret, nil
}
