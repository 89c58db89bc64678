// Package auth implements the challenge-response handshake that proves both
// ends of a fresh connection hold the same shared secret.
package auth

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SecretSize is the length of a shared secret in bytes.
const SecretSize = 32

const deriveInfo = "toy-messenger session auth v1"

// Secret is the key both peers hold before connecting. It is never sent.
type Secret []byte

// NewSecret copies b into a Secret, rejecting keys of the wrong length.
func NewSecret(b []byte) (Secret, error) {
	if len(b) != SecretSize {
		return nil, fmt.Errorf("shared secret must be %d bytes, got %d", SecretSize, len(b))
	}
	s := make(Secret, SecretSize)
	copy(s, b)
	return s, nil
}

// DeriveSecret stretches a configured passphrase into a fixed-length Secret.
// Both peers must derive from the same passphrase.
func DeriveSecret(passphrase string) (Secret, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("shared secret passphrase is empty")
	}
	s := make(Secret, SecretSize)
	r := hkdf.New(sha256.New, []byte(passphrase), nil, []byte(deriveInfo))
	if _, err := io.ReadFull(r, s); err != nil {
		return nil, fmt.Errorf("failed to derive shared secret: %w", err)
	}
	return s, nil
}

// String keeps secrets out of logs.
func (s Secret) String() string {
	return fmt.Sprintf("Secret(%d bytes)", len(s))
}
