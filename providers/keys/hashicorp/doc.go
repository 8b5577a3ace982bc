// Package hashicorp seals secret key halves with the HashiCorp Vault
// Transit engine.
//
// TransitSealer implements medx.KeySealer. The identity private half R and
// the attribute user keys stored next to records go through Transit before
// reaching the database, so a database dump alone cannot decrypt any
// field. No key material ever leaves Vault.
//
// # Basic Usage
//
//	sealer, err := hashicorp.NewTransitSealer(ctx, vaultclient.FromEnvironment(), "medx-keys")
//	if err != nil {
//	    // handle error
//	}
//
//	svc, err := medx.NewService(registry, abe, ibe, store, gate,
//	    medx.WithKeySealer(sealer))
//
// # Configuration
//
//	// Required
//	export VAULT_ADDR="https://vault.example.com:8200"
//	export VAULT_TOKEN="hvs.your-token-here"
//
//	// Or AppRole
//	export VAULT_ROLE_ID="..."
//	export VAULT_SECRET_ID="..."
//
//	// Optional
//	export VAULT_NAMESPACE="my-namespace"
//
// # Vault Setup
//
//	vault secrets enable transit
//	vault write -f transit/keys/medx-keys type=aes256-gcm96
//
// The policy attached to the service token needs:
//
//	path "transit/encrypt/medx-keys" { capabilities = ["update"] }
//	path "transit/decrypt/medx-keys" { capabilities = ["update"] }
//
// Add "transit/keys/medx-keys" with "create" and "update" to let
// EnsureKey create the key on first start.
//
// # Rotation
//
// Rotate with "vault write -f transit/keys/medx-keys/rotate". Ciphertexts
// carry their key version ("vault:v2:...") so older sealed values keep
// opening.
package hashicorp
