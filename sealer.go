package medx

import (
	"context"
	"fmt"
	"slices"
)

// NoopSealer stores key halves as is. It is the default when no KMS is
// configured.
type NoopSealer struct{}

func (NoopSealer) Seal(ctx context.Context, plaintext []byte) ([]byte, error) {
	return slices.Clone(plaintext), nil
}

func (NoopSealer) Open(ctx context.Context, sealed []byte) ([]byte, error) {
	return slices.Clone(sealed), nil
}

func sealString(ctx context.Context, s KeySealer, v string) (string, error) {
	if v == "" {
		return "", nil
	}
	sealed, err := s.Seal(ctx, []byte(v))
	if err != nil {
		return "", fmt.Errorf("seal key material: %w", err)
	}
	return string(sealed), nil
}

func openString(ctx context.Context, s KeySealer, v string) (string, error) {
	if v == "" {
		return "", nil
	}
	opened, err := s.Open(ctx, []byte(v))
	if err != nil {
		return "", fmt.Errorf("open key material: %w", err)
	}
	return string(opened), nil
}
