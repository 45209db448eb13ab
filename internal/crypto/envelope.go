// Package crypto provides envelope encryption for stored top-up codes.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// EnvelopeVersion is the current serialized envelope format version.
	EnvelopeVersion = "v1"

	// NonceSize is the size of the AES-GCM nonce (12 bytes standard).
	NonceSize = 12

	// KeySize is the size of the AES-256 key (32 bytes).
	KeySize = 32

	// TagSize is the size of the GCM authentication tag.
	TagSize = 16
)

// keyDerivationInfo binds derived keys to this usage so the same operator
// secret cannot be reused for an unrelated purpose with the same key.
const keyDerivationInfo = "cardhaven/code-envelope/v1"

var (
	// ErrEmptySecret indicates the operator master secret is missing.
	ErrEmptySecret = errors.New("master secret must not be empty")
	// ErrUnsupportedVersion indicates an envelope with an unknown version prefix.
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
	// ErrMalformedEnvelope indicates the envelope structure could not be parsed.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrDecryptionFailed indicates tag verification failed (tampering or corruption).
	ErrDecryptionFailed = errors.New("decryption failed")
)

// KeyManager seals plaintext codes into versioned envelopes and opens them again.
// The symmetric key is derived from an operator-supplied master secret via
// HKDF-SHA256; the secret itself is never persisted.
type KeyManager struct {
	key []byte
}

// NewKeyManager derives the envelope key from the operator master secret.
func NewKeyManager(masterSecret string) (*KeyManager, error) {
	if masterSecret == "" {
		return nil, ErrEmptySecret
	}

	key := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, []byte(masterSecret), nil, []byte(keyDerivationInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive envelope key: %w", err)
	}

	return &KeyManager{key: key}, nil
}

// Seal encrypts a plaintext code and serializes it as
// "v1:<base64 nonce>.<base64 ciphertext>.<base64 tag>".
// A fresh random nonce is generated on every call.
func (km *KeyManager) Seal(plaintext string) (string, error) {
	gcm, err := km.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	return fmt.Sprintf("%s:%s.%s.%s",
		EnvelopeVersion,
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(ciphertext),
		base64.StdEncoding.EncodeToString(tag),
	), nil
}

// Open parses and decrypts an envelope produced by Seal. It fails closed:
// unknown versions, malformed structure, and tag mismatches all return an
// error, never a best-guess plaintext.
func (km *KeyManager) Open(envelope string) (string, error) {
	version, rest, found := strings.Cut(envelope, ":")
	if !found {
		return "", ErrMalformedEnvelope
	}
	if version != EnvelopeVersion {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
	}

	parts := strings.Split(rest, ".")
	if len(parts) != 3 {
		return "", ErrMalformedEnvelope
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != NonceSize {
		return "", ErrMalformedEnvelope
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrMalformedEnvelope
	}
	tag, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(tag) != TagSize {
		return "", ErrMalformedEnvelope
	}

	gcm, err := km.aead()
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

func (km *KeyManager) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(km.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// GenerateMasterSecret generates a random master secret suitable for
// NewKeyManager. This should be done once during initial setup and the
// result stored securely by the operator.
func GenerateMasterSecret() (string, error) {
	raw := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate master secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}
