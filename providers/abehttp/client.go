package abehttp

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
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/hengadev/medx"
	"github.com/hengadev/medx/internal/reliability"
)

// Messages the attribute service returns in its error body.
const (
	msgAccessDenied    = "Accès refusé"
	msgDecryptFailed   = "Échec du déchiffrement"
	msgNotInitialized  = "Système non initialisé"
	maxErrorBodyLength = 4 << 10
)

// Client talks to a remote attribute-based encryption service over JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *reliability.CircuitBreaker
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled client built by New.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithCircuitBreaker replaces the default breaker.
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

// New returns a client for the service rooted at baseURL, including any
// path prefix, e.g. "http://abe:5000/api".
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: attribute service base URL is required", medx.ErrInvalidConfiguration)
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
		c.breaker = reliability.NewCircuitBreaker("abe", cfg)
	}
	return c, nil
}

// SystemParams is the serialized public and master key material of the
// service, as returned by Init and accepted by LoadKeys.
type SystemParams struct {
	CPABE string `json:"cpabe"`
	MPK   string `json:"mpk"`
	MSK   string `json:"msk"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Init asks the service to run its setup and returns the fresh key
// material so it can be persisted and reloaded later.
func (c *Client) Init(ctx context.Context) (SystemParams, error) {
	var out SystemParams
	err := c.do(ctx, http.MethodGet, "/init", nil, &out, medx.ErrKeyServiceUnavailable)
	return out, err
}

// LoadKeys restores key material produced by an earlier Init.
func (c *Client) LoadKeys(ctx context.Context, params SystemParams) error {
	var out messageResponse
	if err := c.do(ctx, http.MethodPost, "/load_keys", params, &out, medx.ErrInvalidConfiguration); err != nil {
		return err
	}
	c.logger.Debug("attribute service keys loaded", slog.String("message", out.Message))
	return nil
}

type generateRequest struct {
	Attributes []string `json:"attributes"`
}

type generateResponse struct {
	UserKey string `json:"user_key"`
}

func (c *Client) GenerateUserKey(ctx context.Context, attrs medx.AttributeSet) (medx.UserKey, error) {
	if len(attrs) == 0 {
		return "", fmt.Errorf("%w: empty attribute set", medx.ErrInvalidAttributes)
	}
	var out generateResponse
	err := c.do(ctx, http.MethodPost, "/generate_user_key", generateRequest{Attributes: attrs.Strings()}, &out, medx.ErrInvalidAttributes)
	if err != nil {
		return "", err
	}
	if out.UserKey == "" {
		return "", fmt.Errorf("%w: empty user key in response", medx.ErrKeyServiceUnavailable)
	}
	return medx.UserKey(out.UserKey), nil
}

type encryptRequest struct {
	Table     string      `json:"table"`
	Column    string      `json:"column"`
	Plaintext string      `json:"plaintext"`
	Service   string      `json:"service,omitempty"`
	Policy    medx.Policy `json:"policy,omitempty"`
}

type encryptResponse struct {
	EncryptedData string      `json:"encrypted_data"`
	Policy        medx.Policy `json:"policy"`
}

// Encrypt sends the field context to the service, which picks the policy
// from its own table when the request carries none.
func (c *Client) Encrypt(ctx context.Context, req medx.AttributeEncryptRequest) (medx.AttributeCiphertext, error) {
	body := encryptRequest{
		Table:     string(req.Entity),
		Column:    req.Field,
		Plaintext: req.Plaintext,
		Service:   req.Qualifier,
		Policy:    req.Policy,
	}
	var out encryptResponse
	if err := c.do(ctx, http.MethodPost, "/encrypt", body, &out, medx.ErrEncryptionFailed); err != nil {
		return medx.AttributeCiphertext{}, err
	}
	if out.EncryptedData == "" {
		return medx.AttributeCiphertext{}, fmt.Errorf("%w: empty ciphertext in response", medx.ErrEncryptionFailed)
	}
	return medx.AttributeCiphertext{Ciphertext: out.EncryptedData, Policy: out.Policy}, nil
}

type decryptRequest struct {
	EncryptedData string `json:"encrypted_data"`
	UserKey       string `json:"user_key"`
}

type decryptResponse struct {
	DecryptedData string `json:"decrypted_data"`
}

func (c *Client) Decrypt(ctx context.Context, ciphertext string, key medx.UserKey) (string, error) {
	var out decryptResponse
	err := c.do(ctx, http.MethodPost, "/decrypt", decryptRequest{EncryptedData: ciphertext, UserKey: string(key)}, &out, medx.ErrMalformedCiphertext)
	if err != nil {
		return "", err
	}
	return out.DecryptedData, nil
}

// BreakerState reports the state of the circuit breaker guarding the
// service.
func (c *Client) BreakerState() reliability.CircuitState {
	return c.breaker.State()
}

// do sends one JSON request through the breaker. A 4xx answer that does
// not match a known message is reported as rejectErr.
func (c *Client) do(ctx context.Context, method, path string, in, out any, rejectErr error) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.roundTrip(ctx, method, path, in, out, rejectErr)
	})
	if reliability.IsCircuitOpenError(err) {
		return fmt.Errorf("%w: %w", medx.ErrKeyServiceUnavailable, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in, out any, rejectErr error) error {
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

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", medx.ErrKeyServiceUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("attribute service call",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 300 {
		return classify(path, resp, rejectErr)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", medx.ErrKeyServiceUnavailable, path, err)
	}
	return nil
}

func classify(path string, resp *http.Response, rejectErr error) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLength))
	var e errorResponse
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		msg = e.Error
	}

	switch {
	case reliability.IsRetryableStatusCode(resp.StatusCode):
		return fmt.Errorf("%w: %s returned %d: %s", medx.ErrKeyServiceUnavailable, path, resp.StatusCode, msg)
	case strings.Contains(msg, msgNotInitialized):
		return fmt.Errorf("%w: %s: %s", medx.ErrKeyServiceUnavailable, path, msg)
	case strings.Contains(msg, msgAccessDenied):
		return fmt.Errorf("%w: %s", medx.ErrDecryptionDenied, msg)
	case strings.Contains(msg, msgDecryptFailed):
		return fmt.Errorf("%w: %s", medx.ErrMalformedCiphertext, msg)
	default:
		return fmt.Errorf("%w: %s returned %d: %s", rejectErr, path, resp.StatusCode, msg)
	}
}

var _ medx.AttributeKeyService = (*Client)(nil)
