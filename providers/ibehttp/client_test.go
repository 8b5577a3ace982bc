package ibehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hengadev/medx"
)

// fakePKG mimics the service with a reversible toy cipher keyed on a.
type fakePKG struct {
	mu  sync.Mutex
	pkg PKG
}

func (f *fakePKG) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}

	switch r.URL.Path {
	case "/generer_cles":
		if body["table_name"] == "" || body["id_utilisateur"] == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Champs table_name et id_utilisateur requis."})
			return
		}
		id := body["id_utilisateur"]
		writeJSON(w, http.StatusOK, map[string]string{
			"identite": body["table_name"][:1] + id,
			"r":        "r-" + id,
			"a":        "a-" + id,
		})
	case "/chiffrer":
		writeJSON(w, http.StatusOK, map[string]string{"message_chiffre": body["a"] + ":" + body["message"]})
	case "/dechiffrer":
		a, msg, ok := strings.Cut(body["message_chiffre"], ":")
		if !ok {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Incorrect padding"})
			return
		}
		if a != body["a"] || body["r"] != "r-"+strings.TrimPrefix(a, "a-") {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "'utf-8' codec can't decode byte 0x9c"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message_clair": msg})
	case "/get_pkg":
		f.mu.Lock()
		f.pkg = PKG{P: "11", Q: "19", N: "209"}
		pkg := f.pkg
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"message": "Nouveau CocksPKG généré.", "p": pkg.P, "q": pkg.Q, "n": pkg.N})
	case "/set_pkg":
		f.mu.Lock()
		f.pkg = PKG{P: body["p"], Q: body["q"], N: body["n"]}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"message": "CocksPKG mis à jour.", "p": body["p"], "q": body["q"], "n": body["n"]})
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL)
	require.NoError(t, err)
	return c
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, &fakePKG{})

	pair, err := c.GenerateKeyPair(ctx, "patient", "42")
	require.NoError(t, err)
	assert.Equal(t, "p42", pair.Identity)

	ct, err := c.Encrypt(ctx, "555-0100", pair.A)
	require.NoError(t, err)

	pt, err := c.Decrypt(ctx, ct, pair.R, pair.A)
	require.NoError(t, err)
	assert.Equal(t, "555-0100", pt)
}

func TestClient_DecryptWithWrongR(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, &fakePKG{})

	pair, err := c.GenerateKeyPair(ctx, "patient", "42")
	require.NoError(t, err)
	other, err := c.GenerateKeyPair(ctx, "patient", "43")
	require.NoError(t, err)
	ct, err := c.Encrypt(ctx, "secret", pair.A)
	require.NoError(t, err)

	_, err = c.Decrypt(ctx, ct, other.R, pair.A)
	assert.ErrorIs(t, err, medx.ErrDecryptionFailed)
	assert.False(t, medx.IsRetryableError(err))
}

func TestClient_GenerateKeyPairValidation(t *testing.T) {
	c := newTestClient(t, &fakePKG{})
	_, err := c.GenerateKeyPair(context.Background(), "", "42")
	assert.ErrorIs(t, err, medx.ErrInvalidConfiguration)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"application error", http.StatusInternalServerError, `{"error":"bad a"}`, medx.ErrEncryptionFailed},
		{"bare server error", http.StatusInternalServerError, "Internal Server Error", medx.ErrKeyServiceUnavailable},
		{"gateway error", http.StatusBadGateway, `{"error":"upstream"}`, medx.ErrKeyServiceUnavailable},
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, medx.ErrKeyServiceUnavailable},
		{"not implemented", http.StatusNotImplemented, `{"error":"no route"}`, medx.ErrEncryptionFailed},
		{"missing fields", http.StatusBadRequest, `{"error":"Champs message et a requis."}`, medx.ErrEncryptionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			_, err := c.Encrypt(context.Background(), "m", "a")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_PKG(t *testing.T) {
	ctx := context.Background()
	fake := &fakePKG{}
	c := newTestClient(t, fake)

	pkg, err := c.GetPKG(ctx)
	require.NoError(t, err)
	assert.Equal(t, PKG{P: "11", Q: "19", N: "209"}, pkg)

	restored, err := c.SetPKG(ctx, PKG{P: "3", Q: "7", N: "21"})
	require.NoError(t, err)
	assert.Equal(t, "21", restored.N)
	fake.mu.Lock()
	assert.Equal(t, "21", fake.pkg.N)
	fake.mu.Unlock()

	_, err = c.SetPKG(ctx, PKG{P: "3"})
	assert.ErrorIs(t, err, medx.ErrInvalidConfiguration)
}
