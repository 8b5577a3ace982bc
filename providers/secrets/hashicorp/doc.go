// Package hashicorp stores the master secret of the in-process attribute
// authority in the HashiCorp Vault KV v2 engine.
//
// KVStore implements medx.MasterKeyStore. Keys live under
// "secret/data/medx/{alias}/master-key"; KV v2 keeps every previous
// version.
//
// # Basic Usage
//
//	kv, err := hashicorp.NewKVStore(ctx, vaultclient.FromEnvironment())
//	if err != nil {
//	    // handle error
//	}
//	masterKey, err := medx.LoadOrCreateMasterKey(ctx, kv, "medx")
//
// # Vault Setup
//
//	vault secrets enable -path=secret kv-v2
//
//	path "secret/data/medx/*" { capabilities = ["create", "read", "update"] }
package hashicorp
