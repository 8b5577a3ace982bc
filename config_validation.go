package medx

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/hengadev/errsx"
)

// MaxMasterKeyAliasLength bounds MasterKeyAlias.
const MaxMasterKeyAliasLength = 256

var (
	masterKeyBackends = []string{BackendMemory, BackendVault, BackendAWS}
	sealerBackends    = []string{BackendNone, BackendVault, BackendAWS}
	logLevels         = []string{"debug", "info", "warn", "error"}
	logFormats        = []string{"json", "text"}
)

// Validate applies defaults to unset fields and checks the result. Every
// failure is reported, keyed by field name, and matches
// ErrInvalidConfiguration.
//
// Example:
//
//	cfg := medx.Config{SealerBackend: medx.BackendAWS}
//	err := cfg.Validate()
//	// err reports that SealerKeyID is required
func (c *Config) Validate() error {
	c.applyDefaults()

	var errs errsx.Map

	if err := validateBaseURL(c.ABEBaseURL); err != nil {
		errs.Set("ABEBaseURL", err)
	}
	if err := validateBaseURL(c.IBEBaseURL); err != nil {
		errs.Set("IBEBaseURL", err)
	}

	if c.CallTimeout < 0 {
		errs.Set("CallTimeout", invalidf("must be positive, got %s", c.CallTimeout))
	}
	if c.MaxConcurrency < 0 {
		errs.Set("MaxConcurrency", invalidf("must be positive, got %d", c.MaxConcurrency))
	}
	if c.RetryMaxAttempts < 0 {
		errs.Set("RetryMaxAttempts", invalidf("must be positive, got %d", c.RetryMaxAttempts))
	}

	switch c.Ungoverned {
	case UngovernedOpen, UngovernedDeny:
	default:
		errs.Set("Ungoverned", invalidf("unknown mode %q", c.Ungoverned))
	}

	if err := validateAlias(c.MasterKeyAlias); err != nil {
		errs.Set("MasterKeyAlias", err)
	}
	if !slices.Contains(masterKeyBackends, c.MasterKeyBackend) {
		errs.Set("MasterKeyBackend", invalidf("unknown backend %q, want one of %s", c.MasterKeyBackend, strings.Join(masterKeyBackends, ", ")))
	}

	if !slices.Contains(sealerBackends, c.SealerBackend) {
		errs.Set("SealerBackend", invalidf("unknown backend %q, want one of %s", c.SealerBackend, strings.Join(sealerBackends, ", ")))
	} else if c.SealerBackend != BackendNone && strings.TrimSpace(c.SealerKeyID) == "" {
		errs.Set("SealerKeyID", invalidf("required for the %s sealer", c.SealerBackend))
	}

	if !slices.Contains(logLevels, strings.ToLower(c.LogLevel)) {
		errs.Set("LogLevel", invalidf("unknown level %q", c.LogLevel))
	}
	if !slices.Contains(logFormats, strings.ToLower(c.LogFormat)) {
		errs.Set("LogFormat", invalidf("unknown format %q", c.LogFormat))
	}

	return newValidationError(errs)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// validateBaseURL accepts an empty value or an absolute http(s) URL.
func validateBaseURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalidf("parse %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalidf("scheme of %q must be http or https", raw)
	}
	if u.Host == "" {
		return invalidf("%q has no host", raw)
	}
	return nil
}

func validateAlias(alias string) error {
	if len(alias) > MaxMasterKeyAliasLength {
		return invalidf("must be %d characters or less, got %d", MaxMasterKeyAliasLength, len(alias))
	}
	for _, char := range alias {
		if !isValidAliasChar(char) {
			return invalidf("invalid character '%c': only alphanumeric, hyphens, underscores allowed", char)
		}
	}
	return nil
}

func isValidAliasChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '_'
}
