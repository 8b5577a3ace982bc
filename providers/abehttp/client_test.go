package abehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hengadev/medx"
	"github.com/hengadev/medx/internal/reliability"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/", opts...)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New("  ")
	assert.ErrorIs(t, err, medx.ErrInvalidConfiguration)
}

func TestClient_GenerateUserKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate_user_key", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"MEDECIN", "CARDIOLOGY"}, body.Attributes)
		writeJSON(w, http.StatusOK, map[string]string{"user_key": "dXNlcg==", "message": "ok"})
	})

	key, err := c.GenerateUserKey(context.Background(), medx.NewAttributeSet("MEDECIN", "CARDIOLOGY"))
	require.NoError(t, err)
	assert.Equal(t, medx.UserKey("dXNlcg=="), key)

	_, err = c.GenerateUserKey(context.Background(), nil)
	assert.ErrorIs(t, err, medx.ErrInvalidAttributes)
}

func TestClient_Encrypt(t *testing.T) {
	tests := []struct {
		name   string
		policy any
		want   medx.Policy
	}{
		{"nested policy", [][]string{{"MEDECIN", "CARDIOLOGY"}, {"INFIRMIER", "CARDIOLOGY"}},
			medx.AnyOf([]medx.Attribute{"MEDECIN", "CARDIOLOGY"}, []medx.Attribute{"INFIRMIER", "CARDIOLOGY"})},
		{"flat policy", []string{"PATIENT"}, medx.AllOf("PATIENT")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var body encryptRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "patient", body.Table)
				assert.Equal(t, "medical_record", body.Column)
				assert.Equal(t, "cardiology", body.Service)
				writeJSON(w, http.StatusOK, map[string]any{"encrypted_data": "Y3Q=", "policy": tt.policy})
			})

			ct, err := c.Encrypt(context.Background(), medx.AttributeEncryptRequest{
				Entity:    medx.EntityPatient,
				Field:     "medical_record",
				Plaintext: "notes",
				Qualifier: "cardiology",
			})
			require.NoError(t, err)
			assert.Equal(t, "Y3Q=", ct.Ciphertext)
			assert.Equal(t, tt.want, ct.Policy)
		})
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		call   func(*Client) error
		want   error
	}{
		{
			name:   "policy not satisfied",
			status: http.StatusBadRequest,
			body:   errorResponse{Error: "Accès refusé: les attributs ne satisfont pas la politique"},
			call:   decryptCall,
			want:   medx.ErrDecryptionDenied,
		},
		{
			name:   "corrupt envelope",
			status: http.StatusBadRequest,
			body:   errorResponse{Error: "Échec du déchiffrement: la clé ou les données sont corrompues"},
			call:   decryptCall,
			want:   medx.ErrMalformedCiphertext,
		},
		{
			name:   "not initialized",
			status: http.StatusBadRequest,
			body:   errorResponse{Error: "Système non initialisé"},
			call:   encryptCall,
			want:   medx.ErrKeyServiceUnavailable,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   errorResponse{Error: "boom"},
			call:   encryptCall,
			want:   medx.ErrKeyServiceUnavailable,
		},
		{
			name:   "request timeout",
			status: http.StatusRequestTimeout,
			body:   errorResponse{Error: "slow"},
			call:   encryptCall,
			want:   medx.ErrKeyServiceUnavailable,
		},
		{
			name:   "not implemented",
			status: http.StatusNotImplemented,
			body:   errorResponse{Error: "no such route"},
			call:   encryptCall,
			want:   medx.ErrEncryptionFailed,
		},
		{
			name:   "rejected encrypt",
			status: http.StatusBadRequest,
			body:   errorResponse{Error: "'NoneType' object has no attribute 'encode'"},
			call:   encryptCall,
			want:   medx.ErrEncryptionFailed,
		},
		{
			name:   "rejected attributes",
			status: http.StatusBadRequest,
			body:   errorResponse{Error: "bad attributes"},
			call: func(c *Client) error {
				_, err := c.GenerateUserKey(context.Background(), medx.NewAttributeSet("X"))
				return err
			},
			want: medx.ErrInvalidAttributes,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			err := tt.call(c)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, medx.IsRetryableError(err) == (tt.want == medx.ErrKeyServiceUnavailable))
		})
	}
}

func decryptCall(c *Client) error {
	_, err := c.Decrypt(context.Background(), "Y3Q=", "dXNlcg==")
	return err
}

func encryptCall(c *Client) error {
	_, err := c.Encrypt(context.Background(), medx.AttributeEncryptRequest{Entity: medx.EntityPatient, Field: "contact", Plaintext: "x"})
	return err
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url)
	require.NoError(t, err)
	_, err = c.Decrypt(context.Background(), "Y3Q=", "dXNlcg==")
	assert.ErrorIs(t, err, medx.ErrKeyServiceUnavailable)
}

func TestClient_ContextTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Decrypt(ctx, "Y3Q=", "dXNlcg==")
	assert.ErrorIs(t, err, medx.ErrKeyServiceUnavailable)
}

func TestClient_BreakerOpensOnOutage(t *testing.T) {
	var hits atomic.Int32
	cfg := reliability.DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Minute
	cfg.ShouldTrip = func(err error) bool { return medx.IsRetryableError(err) }

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "down"})
	}, WithCircuitBreaker(reliability.NewCircuitBreaker("abe-test", cfg)))

	for range 4 {
		err := encryptCall(c)
		assert.ErrorIs(t, err, medx.ErrKeyServiceUnavailable)
	}
	assert.EqualValues(t, 2, hits.Load(), "open breaker must fail fast")
	assert.Equal(t, reliability.StateOpen, c.BreakerState())
}

func TestClient_DeniedDecryptDoesNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Accès refusé: les attributs ne satisfont pas la politique"})
	})

	for range 10 {
		assert.ErrorIs(t, decryptCall(c), medx.ErrDecryptionDenied)
	}
	assert.EqualValues(t, 10, hits.Load())
}

func TestClient_InitAndLoadKeys(t *testing.T) {
	params := SystemParams{CPABE: "Y3A=", MPK: "bXBr", MSK: "bXNr"}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/init":
			assert.Equal(t, http.MethodGet, r.Method)
			writeJSON(w, http.StatusOK, map[string]string{"cpabe": params.CPABE, "mpk": params.MPK, "msk": params.MSK, "message": "ok"})
		case "/load_keys":
			var body SystemParams
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body != params {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Incorrect padding"})
				return
			}
			writeJSON(w, http.StatusOK, messageResponse{Message: "Clés chargées avec succès"})
		default:
			http.NotFound(w, r)
		}
	})

	got, err := c.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, params, got)

	require.NoError(t, c.LoadKeys(context.Background(), got))
	assert.ErrorIs(t, c.LoadKeys(context.Background(), SystemParams{}), medx.ErrInvalidConfiguration)
}
