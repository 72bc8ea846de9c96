// Package vault encrypts provider credentials before they are persisted.
//
// Envelopes are AES-256-GCM with a fresh random nonce per call, encoded as
// hex(nonce):hex(tag):hex(ciphertext).
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	shared "github.com/trailblazerplus/server/pkg"
)

const (
	// EnvKey is the environment variable holding the hex-encoded 32-byte key.
	EnvKey = "ENCRYPTION_KEY"

	keySize   = 32
	nonceSize = 16
	tagSize   = 16
)

// Cipher is what token persistence needs from the vault.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(envelope string) (string, error)
}

// Vault holds the AEAD built from the configured key.
type Vault struct {
	aead cipher.AEAD
}

// New builds a vault from a hex-encoded key.
func New(keyHex string) (*Vault, error) {
	if keyHex == "" {
		return nil, &shared.ConfigurationError{Key: EnvKey}
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, &shared.ConfigurationError{Key: EnvKey, Reason: "must be hex encoded"}
	}
	if len(key) != keySize {
		return nil, &shared.ConfigurationError{Key: EnvKey, Reason: fmt.Sprintf("must decode to %d bytes, got %d", keySize, len(key))}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext into an envelope.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt opens an envelope. Any structural problem or authentication failure
// returns *shared.InvalidEnvelopeError.
func (v *Vault) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return "", &shared.InvalidEnvelopeError{Reason: fmt.Sprintf("expected 3 parts, got %d", len(parts))}
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", &shared.InvalidEnvelopeError{Reason: "bad nonce", Err: err}
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", &shared.InvalidEnvelopeError{Reason: "bad auth tag", Err: err}
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", &shared.InvalidEnvelopeError{Reason: "bad ciphertext", Err: err}
	}

	plaintext, err := v.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", &shared.InvalidEnvelopeError{Reason: "authentication failed", Err: err}
	}
	return string(plaintext), nil
}
