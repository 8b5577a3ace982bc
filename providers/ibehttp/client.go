package ibehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/hengadev/medx"
	"github.com/hengadev/medx/internal/reliability"
)

const maxErrorBodyLength = 4 << 10

// Client talks to a remote identity-based encryption service (a Cocks
// key generator) over JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *reliability.CircuitBreaker
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithCircuitBreaker(cb *reliability.CircuitBreaker) Option {
	return func(cl *Client) {
		cl.breaker = cb
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// New returns a client for the service rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: identity service base URL is required", medx.ErrInvalidConfiguration)
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: cleanhttp.DefaultPooledClient(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		cfg := reliability.DefaultCircuitBreakerConfig()
		cfg.ShouldTrip = func(err error) bool {
			return errors.Is(err, medx.ErrKeyServiceUnavailable)
		}
		cfg.OnStateChange = func(name string, from, to reliability.CircuitState) {
			c.logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		}
		c.breaker = reliability.NewCircuitBreaker("ibe", cfg)
	}
	return c, nil
}

// PKG holds the private key generator modulus and its factors.
type PKG struct {
	P string `json:"p"`
	Q string `json:"q"`
	N string `json:"n"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// failure tells roundTrip how to report an answer the service produced
// on purpose: rejected for a 4xx, failed for a 500 carrying an error body.
type failure struct {
	rejected error
	failed   error
}

type generateRequest struct {
	TableName string `json:"table_name"`
	UserID    string `json:"id_utilisateur"`
}

type generateResponse struct {
	Identity string `json:"identite"`
	R        string `json:"r"`
	A        string `json:"a"`
}

func (c *Client) GenerateKeyPair(ctx context.Context, namespace string, recordID string) (medx.IdentityKeyPair, error) {
	if namespace == "" || recordID == "" {
		return medx.IdentityKeyPair{}, fmt.Errorf("%w: namespace and record id are required", medx.ErrInvalidConfiguration)
	}
	var out generateResponse
	err := c.do(ctx, http.MethodPost, "/generer_cles", generateRequest{TableName: namespace, UserID: recordID}, &out,
		failure{rejected: medx.ErrInvalidConfiguration, failed: medx.ErrKeyServiceUnavailable})
	if err != nil {
		return medx.IdentityKeyPair{}, err
	}
	if out.R == "" || out.A == "" {
		return medx.IdentityKeyPair{}, fmt.Errorf("%w: incomplete key pair in response", medx.ErrKeyServiceUnavailable)
	}
	return medx.IdentityKeyPair{Identity: out.Identity, R: out.R, A: out.A}, nil
}

type encryptRequest struct {
	Message string `json:"message"`
	A       string `json:"a"`
}

type encryptResponse struct {
	Ciphertext string `json:"message_chiffre"`
}

func (c *Client) Encrypt(ctx context.Context, plaintext string, a string) (string, error) {
	var out encryptResponse
	err := c.do(ctx, http.MethodPost, "/chiffrer", encryptRequest{Message: plaintext, A: a}, &out,
		failure{rejected: medx.ErrEncryptionFailed, failed: medx.ErrEncryptionFailed})
	if err != nil {
		return "", err
	}
	if out.Ciphertext == "" {
		return "", fmt.Errorf("%w: empty ciphertext in response", medx.ErrEncryptionFailed)
	}
	return out.Ciphertext, nil
}

type decryptRequest struct {
	Ciphertext string `json:"message_chiffre"`
	R          string `json:"r"`
	A          string `json:"a"`
}

type decryptResponse struct {
	Plaintext string `json:"message_clair"`
}

// Decrypt opens ciphertext with (r, a). The service cannot tell a wrong r
// from a corrupt ciphertext, so both surface as ErrDecryptionFailed.
func (c *Client) Decrypt(ctx context.Context, ciphertext string, r string, a string) (string, error) {
	var out decryptResponse
	err := c.do(ctx, http.MethodPost, "/dechiffrer", decryptRequest{Ciphertext: ciphertext, R: r, A: a}, &out,
		failure{rejected: medx.ErrMalformedCiphertext, failed: medx.ErrDecryptionFailed})
	if err != nil {
		return "", err
	}
	return out.Plaintext, nil
}

// GetPKG makes the service generate a new private key generator and
// returns its parameters. Key pairs minted before the call stop working
// until SetPKG restores the previous parameters.
func (c *Client) GetPKG(ctx context.Context) (PKG, error) {
	var out PKG
	err := c.do(ctx, http.MethodGet, "/get_pkg", nil, &out,
		failure{rejected: medx.ErrInvalidConfiguration, failed: medx.ErrKeyServiceUnavailable})
	return out, err
}

// SetPKG restores previously generated parameters.
func (c *Client) SetPKG(ctx context.Context, pkg PKG) (PKG, error) {
	if pkg.P == "" || pkg.Q == "" || pkg.N == "" {
		return PKG{}, fmt.Errorf("%w: p, q and n are required", medx.ErrInvalidConfiguration)
	}
	var out PKG
	err := c.do(ctx, http.MethodPost, "/set_pkg", pkg, &out,
		failure{rejected: medx.ErrInvalidConfiguration, failed: medx.ErrInvalidConfiguration})
	return out, err
}

// BreakerState reports the state of the circuit breaker guarding the
// service.
func (c *Client) BreakerState() reliability.CircuitState {
	return c.breaker.State()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, f failure) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.roundTrip(ctx, method, path, in, out, f)
	})
	if reliability.IsCircuitOpenError(err) {
		return fmt.Errorf("%w: %w", medx.ErrKeyServiceUnavailable, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in, out any, f failure) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: build %s request: %w", medx.ErrInvalidConfiguration, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", medx.ErrKeyServiceUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return classify(path, resp, f)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", medx.ErrKeyServiceUnavailable, path, err)
	}
	return nil
}

func classify(path string, resp *http.Response, f failure) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLength))
	var e errorResponse
	hasBody := json.Unmarshal(raw, &e) == nil && e.Error != ""
	msg := e.Error
	if !hasBody {
		msg = strings.TrimSpace(string(raw))
	}

	switch {
	case resp.StatusCode == http.StatusInternalServerError && hasBody:
		return fmt.Errorf("%w: %s: %s", f.failed, path, msg)
	case reliability.IsRetryableStatusCode(resp.StatusCode):
		return fmt.Errorf("%w: %s returned %d: %s", medx.ErrKeyServiceUnavailable, path, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: %s returned %d: %s", f.rejected, path, resp.StatusCode, msg)
	}
}

var _ medx.IdentityKeyService = (*Client)(nil)
