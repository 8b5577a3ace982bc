package hashicorp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hengadev/medx"
	"github.com/hengadev/medx/internal/vaultclient"
)

// mockKVServer serves a single KV v2 path from memory.
func mockKVServer(t *testing.T) *httptest.Server {
	var (
		mu    sync.Mutex
		value map[string]any
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/secret/data/medx/records/master-key", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")

		switch r.Method {
		case http.MethodGet:
			if value == nil {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"errors":[]}`))
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"data": value}})
		case http.MethodPut, http.MethodPost:
			var body struct {
				Data map[string]any `json:"data"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			value = body.Data
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"version": 1}})
		}
	})
	mux.HandleFunc("/v1/secret/data/medx/broken/master-key", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errors":["permission denied"]}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestKVStore(t *testing.T, server *httptest.Server) *KVStore {
	t.Helper()
	config := api.DefaultConfig()
	config.Address = server.URL
	config.MaxRetries = 0
	client, err := api.NewClient(config)
	require.NoError(t, err)
	client.SetToken("test-token")
	return NewKVStoreFromClient(client)
}

func TestKVStore_GetStoragePath(t *testing.T) {
	kv := &KVStore{}
	assert.Equal(t, "secret/data/medx/records/master-key", kv.GetStoragePath("records"))
}

func TestKVStore_StoreAndGet(t *testing.T) {
	ctx := context.Background()
	kv := newTestKVStore(t, mockKVServer(t))

	exists, err := kv.MasterKeyExists(ctx, "records")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = kv.GetMasterKey(ctx, "records")
	assert.ErrorIs(t, err, medx.ErrSecretStorageUnavailable)

	key, err := medx.GenerateMasterKey()
	require.NoError(t, err)
	require.NoError(t, kv.StoreMasterKey(ctx, "records", key))

	exists, err = kv.MasterKeyExists(ctx, "records")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := kv.GetMasterKey(ctx, "records")
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestKVStore_Errors(t *testing.T) {
	ctx := context.Background()
	kv := newTestKVStore(t, mockKVServer(t))

	err := kv.StoreMasterKey(ctx, "records", []byte("short"))
	assert.ErrorIs(t, err, medx.ErrInvalidConfiguration)

	_, err = kv.MasterKeyExists(ctx, "broken")
	assert.ErrorIs(t, err, medx.ErrSecretStorageUnavailable)
}

func TestNewKVStore_RequiresAuth(t *testing.T) {
	_, err := NewKVStore(context.Background(), vaultclient.Config{Address: "http://127.0.0.1:1"})
	assert.ErrorIs(t, err, medx.ErrInvalidConfiguration)
}
