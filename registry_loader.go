package medx

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseRegistryConfig decodes a YAML policy table. Unknown keys are
// rejected so that typos do not silently leave a field ungoverned.
func ParseRegistryConfig(data []byte) (RegistryConfig, error) {
	var cfg RegistryConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return RegistryConfig{}, fmt.Errorf("%w: failed to parse policy table: %w", ErrInvalidConfiguration, err)
	}
	return cfg, nil
}

// LoadRegistryFile reads a YAML policy table and builds the registry.
func LoadRegistryFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read policy file %s: %w", ErrInvalidConfiguration, path, err)
	}
	cfg, err := ParseRegistryConfig(data)
	if err != nil {
		return nil, err
	}
	return NewRegistry(cfg)
}

// MarshalRegistryConfig renders cfg as YAML.
func MarshalRegistryConfig(cfg RegistryConfig) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
