package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/arwahdevops/dbtester/internal/config"
)

// VaultProvider reads credentials from a HashiCorp Vault KV v2 engine.
type VaultProvider struct {
	client    *vault.Client
	mountPath string
	logger    *zap.Logger
}

// NewVaultProvider returns a disabled provider when Vault is not enabled in
// cfg.
func NewVaultProvider(cfg *config.Config, baseLogger *zap.Logger) (*VaultProvider, error) {
	log := baseLogger.Named("vault")
	if !cfg.VaultEnabled {
		log.Debug("Vault secret provider is disabled via configuration")
		return &VaultProvider{logger: log}, nil
	}

	log.Info("Initializing Vault secret provider", zap.String("address", cfg.VaultAddr))

	vConfig := vault.DefaultConfig()
	vConfig.Address = cfg.VaultAddr
	vConfig.Timeout = 10 * time.Second
	vConfig.MaxRetries = 0

	if err := vConfig.ConfigureTLS(&vault.TLSConfig{
		CACert:   cfg.VaultCACert,
		Insecure: cfg.VaultSkipVerify,
	}); err != nil {
		return nil, fmt.Errorf("failed to configure Vault TLS: %w", err)
	}

	client, err := vault.NewClient(vConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.VaultToken != "" {
		client.SetToken(cfg.VaultToken)
	} else {
		log.Warn("Vault is enabled but VAULT_TOKEN is empty; requests will be unauthenticated")
	}

	mount := cfg.VaultMountPath
	if mount == "" {
		mount = "secret"
	}
	return &VaultProvider{client: client, mountPath: mount, logger: log}, nil
}

func (m *VaultProvider) Name() string { return "vault" }

func (m *VaultProvider) IsEnabled() bool { return m != nil && m.client != nil }

func (m *VaultProvider) GetCredentials(ctx context.Context, path, usernameKey, passwordKey string) (*Credentials, error) {
	if !m.IsEnabled() {
		return nil, fmt.Errorf("vault provider is not enabled")
	}
	if path == "" {
		return nil, fmt.Errorf("vault secret path cannot be empty")
	}
	if usernameKey == "" {
		usernameKey = "username"
	}
	if passwordKey == "" {
		passwordKey = "password"
	}

	log := m.logger.With(zap.String("vault_path", path), zap.String("mount", m.mountPath))
	log.Debug("Reading secret from Vault KV v2", zap.String("username_key", usernameKey), zap.String("password_key", passwordKey))

	secret, err := m.client.KVv2(m.mountPath).Get(ctx, path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return nil, fmt.Errorf("secret %q not found in Vault: %w", path, err)
		}
		return nil, fmt.Errorf("failed to read secret %q from Vault: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret data for %q is empty", path)
	}

	password, _ := secret.Data[passwordKey].(string)
	if password == "" {
		return nil, fmt.Errorf("password key %q not found or empty in secret %q", passwordKey, path)
	}
	username, _ := secret.Data[usernameKey].(string)

	log.Info("Retrieved credentials from Vault")
	return &Credentials{Username: username, Password: password}, nil
}
