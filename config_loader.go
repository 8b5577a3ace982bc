package medx

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hengadev/errsx"
	"github.com/joho/godotenv"
)

// LoadConfigFromEnvironment loads configuration from MEDX_* environment
// variables and returns the validated Config.
//
// Every variable is optional; unset ones take the defaults documented on
// Config. Malformed numbers and durations are reported together with the
// validation failures.
//
// Example usage (12-factor app):
//
//	// export MEDX_ABE_BASE_URL="http://abe:5000/api"
//	// export MEDX_SEALER_BACKEND="vault"
//	// export MEDX_SEALER_KEY_ID="medx-keys"
//
//	cfg, err := medx.LoadConfigFromEnvironment()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnvironment() (Config, error) {
	return loadConfig(os.Getenv)
}

// LoadConfigFromFiles reads dotenv files and then the environment. A
// variable set in the process environment wins over the files; among the
// files the first one to set a variable wins.
func LoadConfigFromFiles(paths ...string) (Config, error) {
	fileEnv, err := godotenv.Read(paths...)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read env files: %w", ErrInvalidConfiguration, err)
	}
	return loadConfig(func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return fileEnv[key]
	})
}

func loadConfig(getenv func(string) string) (Config, error) {
	var errs errsx.Map

	cfg := Config{
		ABEBaseURL:       getenv(EnvABEBaseURL),
		IBEBaseURL:       getenv(EnvIBEBaseURL),
		Ungoverned:       UngovernedMode(getenv(EnvUngovernedFields)),
		PolicyFile:       getenv(EnvPolicyFile),
		AuthzPolicyFile:  getenv(EnvAuthzPolicyFile),
		DBPath:           getenv(EnvDBPath),
		MasterKeyAlias:   getenv(EnvMasterKeyAlias),
		MasterKeyBackend: getenv(EnvMasterKeyBackend),
		SealerBackend:    getenv(EnvSealerBackend),
		SealerKeyID:      getenv(EnvSealerKeyID),
		AWSRegion:        getenv(EnvAWSRegion),
		LogLevel:         getenv(EnvLogLevel),
		LogFormat:        getenv(EnvLogFormat),
		LogFile:          getenv(EnvLogFile),
	}

	if raw := getenv(EnvCallTimeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			errs.Set(EnvCallTimeout, invalidf("want a positive duration, got %q", raw))
		}
		cfg.CallTimeout = d
	}
	cfg.MaxConcurrency = parsePositiveInt(getenv, EnvMaxConcurrency, &errs)
	cfg.RetryMaxAttempts = parsePositiveInt(getenv, EnvRetryMaxAttempts, &errs)

	if !errs.IsEmpty() {
		return Config{}, newValidationError(errs)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// parsePositiveInt returns 0 when key is unset so the default applies.
func parsePositiveInt(getenv func(string) string, key string, errs *errsx.Map) int {
	raw := getenv(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		errs.Set(key, invalidf("want a positive integer, got %q", raw))
		return 0
	}
	return n
}
