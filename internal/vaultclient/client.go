// Package vaultclient builds authenticated HashiCorp Vault clients shared
// by the Transit sealer and the KV v2 master key store.
package vaultclient

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/vault/api"

	"github.com/hengadev/medx"
)

// Environment variables read by FromEnvironment.
const (
	EnvAddr      = "VAULT_ADDR"
	EnvNamespace = "VAULT_NAMESPACE"
	EnvToken     = "VAULT_TOKEN"
	EnvRoleID    = "VAULT_ROLE_ID"
	EnvSecretID  = "VAULT_SECRET_ID"
)

// Config describes how to reach and authenticate against Vault.
type Config struct {
	Address   string
	Namespace string
	Token     string
	RoleID    string
	SecretID  string
}

// FromEnvironment reads the VAULT_* variables.
func FromEnvironment() Config {
	return Config{
		Address:   os.Getenv(EnvAddr),
		Namespace: os.Getenv(EnvNamespace),
		Token:     os.Getenv(EnvToken),
		RoleID:    os.Getenv(EnvRoleID),
		SecretID:  os.Getenv(EnvSecretID),
	}
}

// New returns a client for cfg.
//
// Authentication priority:
//  1. Token, when set
//  2. AppRole, when both RoleID and SecretID are set
//
// Without either the call fails with ErrInvalidConfiguration.
func New(ctx context.Context, cfg Config) (*api.Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: %s is required", medx.ErrInvalidConfiguration, EnvAddr)
	}

	config := api.DefaultConfig()
	config.Address = cfg.Address
	config.HttpClient = cleanhttp.DefaultPooledClient()

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Vault client: %w", medx.ErrSecretStorageUnavailable, err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	if cfg.Token != "" {
		client.SetToken(cfg.Token)
		return client, nil
	}

	if cfg.RoleID != "" && cfg.SecretID != "" {
		resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]any{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: AppRole login failed: %w", medx.ErrSecretStorageUnavailable, err)
		}
		if resp == nil || resp.Auth == nil {
			return nil, fmt.Errorf("%w: no auth info returned from AppRole login", medx.ErrSecretStorageUnavailable)
		}
		client.SetToken(resp.Auth.ClientToken)
		return client, nil
	}

	return nil, fmt.Errorf("%w: no Vault authentication method configured (set %s or %s+%s)",
		medx.ErrInvalidConfiguration, EnvToken, EnvRoleID, EnvSecretID)
}
