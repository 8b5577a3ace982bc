// Package security holds helpers for handling key material in memory.
//
// Sensitive data (master keys, derived keys) MUST be kept as []byte, never
// string: strings are immutable and cannot be erased.
//
//	key, _ := security.RandomBytes(32)
//	defer security.ZeroBytes(key)
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"runtime"
)

// ZeroBytes overwrites data with zeros.
func ZeroBytes(data []byte) {
	if len(data) == 0 {
		return
	}
	clear(data)
	// keep the writes from being optimized away
	runtime.KeepAlive(data)
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid random length: %d", n)
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// Equal compares a and b in constant time.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
