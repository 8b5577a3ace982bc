package medx

import "time"

// Config holds the deployment settings of a medx service.
//
// This struct contains only data, no behavior. It can be filled from any
// source and is turned into a running service by the bootstrap package.
// LoadConfigFromEnvironment fills it from MEDX_* variables.
//
// Example usage:
//
//	cfg := medx.Config{
//	    ABEBaseURL:    "http://abe:5000/api",
//	    IBEBaseURL:    "http://ibe:5001",
//	    SealerBackend: medx.BackendVault,
//	    SealerKeyID:   "medx-keys",
//	}
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// ABEBaseURL is the root of the attribute-based encryption service,
	// path prefix included. Empty selects the in-process authority, which
	// needs a master key (see MasterKeyBackend).
	ABEBaseURL string

	// IBEBaseURL is the root of the identity-based encryption service.
	// Empty selects the in-process authority.
	IBEBaseURL string

	// CallTimeout bounds each key service call. Default: 5s.
	CallTimeout time.Duration

	// MaxConcurrency bounds key service calls in flight per operation.
	// Default: 8.
	MaxConcurrency int

	// RetryMaxAttempts is the number of attempts for key generation and
	// encryption calls that fail with a retryable error. Default: 3.
	RetryMaxAttempts int

	// Ungoverned selects how undeclared entities and fields are handled.
	// Default: open.
	Ungoverned UngovernedMode

	// PolicyFile is an optional YAML policy table replacing the default one.
	PolicyFile string

	// AuthzPolicyFile is an optional casbin CSV file of role permissions
	// replacing the default ones.
	AuthzPolicyFile string

	// DBPath is the SQLite file of the record store. Default: .medx/records.db
	DBPath string

	// MasterKeyAlias names the master key of the in-process attribute
	// authority. Default: medx. Maximum length: 256 characters.
	MasterKeyAlias string

	// MasterKeyBackend is where that master key lives: memory, vault or
	// aws. Default: memory.
	MasterKeyBackend string

	// SealerBackend seals secret key halves at rest: none, vault or aws.
	// Default: none.
	SealerBackend string

	// SealerKeyID is the Transit key name or the KMS key id, alias or ARN.
	// Required unless SealerBackend is none.
	SealerKeyID string

	// AWSRegion overrides the region of the default AWS configuration.
	AWSRegion string

	// LogLevel is debug, info, warn or error. Default: info.
	LogLevel string

	// LogFormat is json or text. Default: json.
	LogFormat string

	// LogFile enables rotating file output next to stderr.
	LogFile string
}

// DefaultConfig returns a configuration that runs everything in process.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.CallTimeout == 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	if c.Ungoverned == "" {
		c.Ungoverned = UngovernedOpen
	}
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	if c.MasterKeyAlias == "" {
		c.MasterKeyAlias = DefaultMasterKeyAlias
	}
	if c.MasterKeyBackend == "" {
		c.MasterKeyBackend = BackendMemory
	}
	if c.SealerBackend == "" {
		c.SealerBackend = BackendNone
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
}

// Options returns the orchestration options the configuration implies.
func (c Config) Options() []Option {
	return []Option{
		WithCallTimeout(c.CallTimeout),
		WithMaxConcurrency(c.MaxConcurrency),
		WithRetry(RetrySettings{
			MaxAttempts:  c.RetryMaxAttempts,
			InitialDelay: DefaultRetryInitialDelay,
			MaxDelay:     DefaultRetryMaxDelay,
		}),
	}
}

// UsesLocalAttributeAuthority reports whether attribute encryption runs in
// process.
func (c Config) UsesLocalAttributeAuthority() bool {
	return c.ABEBaseURL == ""
}
