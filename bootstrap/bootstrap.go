// Package bootstrap builds a ready medx.Service from a medx.Config: logger,
// policy registry, key services, record store, key sealer, authorization
// gate and audit hooks.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hengadev/medx"
	"github.com/hengadev/medx/authz"
	"github.com/hengadev/medx/internal/monitoring"
	"github.com/hengadev/medx/internal/security"
	"github.com/hengadev/medx/internal/vaultclient"
	"github.com/hengadev/medx/providers/abehttp"
	"github.com/hengadev/medx/providers/ibehttp"
	awskeys "github.com/hengadev/medx/providers/keys/aws"
	vaultkeys "github.com/hengadev/medx/providers/keys/hashicorp"
	"github.com/hengadev/medx/providers/local"
	awssecrets "github.com/hengadev/medx/providers/secrets/aws"
	vaultsecrets "github.com/hengadev/medx/providers/secrets/hashicorp"
	"github.com/hengadev/medx/store/sqlite"
)

// Rotation settings of the log file.
const (
	logFileMaxSizeMB  = 100
	logFileMaxBackups = 5
	logFileMaxAgeDays = 30
)

// Components is the wired object graph. Close releases the store.
type Components struct {
	Config   medx.Config
	Logger   *slog.Logger
	Registry *medx.Registry
	ABE      medx.AttributeKeyService
	IBE      medx.IdentityKeyService
	Sealer   medx.KeySealer
	Store    *sqlite.Store
	Gate     *authz.Gate
	Metrics  *monitoring.InMemoryMetricsCollector
	Service  *medx.Service
}

func (c *Components) Close() error {
	if c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

type builder struct {
	logOutput      io.Writer
	masterKeyStore medx.MasterKeyStore
	sealer         medx.KeySealer
	serviceOpts    []medx.Option
}

// Option adjusts Build, mostly for tests and embedding.
type Option func(*builder)

// WithLogOutput replaces stderr as the log destination.
func WithLogOutput(w io.Writer) Option {
	return func(b *builder) {
		b.logOutput = w
	}
}

// WithMasterKeyStore replaces the store selected by MasterKeyBackend.
func WithMasterKeyStore(s medx.MasterKeyStore) Option {
	return func(b *builder) {
		b.masterKeyStore = s
	}
}

// WithKeySealer replaces the sealer selected by SealerBackend.
func WithKeySealer(s medx.KeySealer) Option {
	return func(b *builder) {
		b.sealer = s
	}
}

// WithServiceOptions appends options passed to medx.NewService.
func WithServiceOptions(opts ...medx.Option) Option {
	return func(b *builder) {
		b.serviceOpts = append(b.serviceOpts, opts...)
	}
}

// FromEnvironment loads the configuration from MEDX_* variables and builds it.
func FromEnvironment(ctx context.Context, opts ...Option) (*Components, error) {
	cfg, err := medx.LoadConfigFromEnvironment()
	if err != nil {
		return nil, err
	}
	return Build(ctx, cfg, opts...)
}

// Build validates cfg and wires every component. On failure whatever was
// opened is closed again.
func Build(ctx context.Context, cfg medx.Config, opts ...Option) (_ *Components, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := builder{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(&b)
	}

	c := &Components{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	c.Logger, err = NewLogger(cfg, b.logOutput)
	if err != nil {
		return nil, err
	}

	c.Registry, err = LoadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	c.Sealer = b.sealer
	if c.Sealer == nil {
		c.Sealer, err = NewKeySealer(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	c.ABE, err = c.attributeService(ctx, b.masterKeyStore)
	if err != nil {
		return nil, err
	}
	c.IBE, err = c.identityService()
	if err != nil {
		return nil, err
	}

	c.Store, err = sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	gateOpts := []authz.Option{authz.WithLogger(c.Logger)}
	if cfg.AuthzPolicyFile != "" {
		gateOpts = append(gateOpts, authz.WithPolicyFile(cfg.AuthzPolicyFile))
	}
	c.Gate, err = authz.New(gateOpts...)
	if err != nil {
		return nil, err
	}

	c.Metrics = monitoring.NewInMemoryMetricsCollector()
	audit := monitoring.MultiAuditHook{
		monitoring.NewLoggingAuditHook(c.Logger),
		monitoring.NewMetricsAuditHook(c.Metrics),
	}

	svcOpts := append(cfg.Options(),
		medx.WithLogger(c.Logger),
		medx.WithKeySealer(c.Sealer),
		medx.WithAuditHook(audit),
	)
	svcOpts = append(svcOpts, b.serviceOpts...)
	c.Service, err = medx.NewService(c.Registry, c.ABE, c.IBE, c.Store, c.Gate, svcOpts...)
	if err != nil {
		return nil, err
	}

	c.Logger.InfoContext(ctx, "medx service ready",
		slog.Bool("local_abe", cfg.UsesLocalAttributeAuthority()),
		slog.Bool("local_ibe", cfg.IBEBaseURL == ""),
		slog.String("sealer", cfg.SealerBackend),
		slog.String("db_path", cfg.DBPath),
		slog.Int("entities", len(c.Registry.Entities())))
	return c, nil
}

// NewLogger builds the process logger described by cfg.
func NewLogger(cfg medx.Config, out io.Writer) (*slog.Logger, error) {
	lc := monitoring.LoggerConfig{
		Level:  cfg.LogLevel,
		Format: monitoring.LogFormat(cfg.LogFormat),
		Output: out,
	}
	if cfg.LogFile != "" {
		lc.File = &monitoring.FileConfig{
			Path:       cfg.LogFile,
			MaxSizeMB:  logFileMaxSizeMB,
			MaxBackups: logFileMaxBackups,
			MaxAgeDays: logFileMaxAgeDays,
			Compress:   true,
		}
	}
	return monitoring.NewLogger(lc)
}

// LoadRegistry returns the default policy table, or the one in
// cfg.PolicyFile. A file that does not name an ungoverned mode takes the
// one from cfg.
func LoadRegistry(cfg medx.Config) (*medx.Registry, error) {
	rc := medx.DefaultRegistryConfig()
	if cfg.PolicyFile != "" {
		data, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read policy file: %w", medx.ErrInvalidConfiguration, err)
		}
		rc, err = medx.ParseRegistryConfig(data)
		if err != nil {
			return nil, err
		}
		if rc.Ungoverned == "" {
			rc.Ungoverned = cfg.Ungoverned
		}
	} else {
		rc.Ungoverned = cfg.Ungoverned
	}
	return medx.NewRegistry(rc)
}

// NewMasterKeyStore returns the store selected by cfg.MasterKeyBackend.
func NewMasterKeyStore(ctx context.Context, cfg medx.Config) (medx.MasterKeyStore, error) {
	switch cfg.MasterKeyBackend {
	case medx.BackendVault:
		return vaultsecrets.NewKVStore(ctx, vaultclient.FromEnvironment())
	case medx.BackendAWS:
		return awssecrets.NewSecretsManagerStore(ctx, awssecrets.Config{Region: cfg.AWSRegion})
	case medx.BackendMemory, "":
		return medx.NewInMemoryMasterKeyStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown master key backend %q", medx.ErrInvalidConfiguration, cfg.MasterKeyBackend)
	}
}

// NewKeySealer returns the sealer selected by cfg.SealerBackend.
func NewKeySealer(ctx context.Context, cfg medx.Config) (medx.KeySealer, error) {
	switch cfg.SealerBackend {
	case medx.BackendVault:
		return vaultkeys.NewTransitSealer(ctx, vaultclient.FromEnvironment(), cfg.SealerKeyID)
	case medx.BackendAWS:
		return awskeys.NewKMSSealer(ctx, awskeys.Config{Region: cfg.AWSRegion, KeyID: cfg.SealerKeyID})
	case medx.BackendNone, "":
		return medx.NoopSealer{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown sealer backend %q", medx.ErrInvalidConfiguration, cfg.SealerBackend)
	}
}

func (c *Components) attributeService(ctx context.Context, keys medx.MasterKeyStore) (medx.AttributeKeyService, error) {
	if !c.Config.UsesLocalAttributeAuthority() {
		return abehttp.New(c.Config.ABEBaseURL, abehttp.WithLogger(c.Logger))
	}

	if keys == nil {
		if c.Config.MasterKeyBackend == medx.BackendMemory {
			c.Logger.WarnContext(ctx, "master key kept in memory; attribute ciphertexts will not survive a restart")
		}
		var err error
		keys, err = NewMasterKeyStore(ctx, c.Config)
		if err != nil {
			return nil, err
		}
	}

	masterKey, err := medx.LoadOrCreateMasterKey(ctx, keys, c.Config.MasterKeyAlias)
	if err != nil {
		return nil, err
	}
	defer security.ZeroBytes(masterKey)
	return local.NewAttributeAuthority(masterKey, local.WithRegistry(c.Registry))
}

func (c *Components) identityService() (medx.IdentityKeyService, error) {
	if c.Config.IBEBaseURL == "" {
		return local.NewIdentityAuthority(), nil
	}
	return ibehttp.New(c.Config.IBEBaseURL, ibehttp.WithLogger(c.Logger))
}
