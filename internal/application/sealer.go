package application

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrInvalidSealedValue     = errors.New("invalid sealed value format")
	ErrIncompatibleSealFormat = errors.New("incompatible sealed value version")
	ErrSealKeyMismatch        = errors.New("sealed value cannot be opened with this secret")
)

const sealVersion = 1

// Argon2idParams tunes the key derivation used by TokenSealer.
type Argon2idParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
}

var DefaultArgon2idParams = Argon2idParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	KeyLength:   chacha20poly1305.KeySize,
}

// TokenSealer encrypts tokens before they reach durable storage. The key is
// derived once from the configured secret and a per-store salt.
type TokenSealer struct {
	key []byte
}

// NewTokenSealer derives the sealing key from secret and salt.
func NewTokenSealer(secret string, salt []byte, params Argon2idParams) (*TokenSealer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("seal secret must not be empty")
	}
	if len(salt) < 8 {
		return nil, fmt.Errorf("seal salt must be at least 8 bytes")
	}
	params.KeyLength = chacha20poly1305.KeySize
	key := argon2.IDKey([]byte(secret), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	return &TokenSealer{key: key}, nil
}

// Seal encrypts plaintext. The empty string seals to the empty string so that
// absent tokens stay absent.
func (s *TokenSealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)

	// Format is $xc20p$v=1$payload
	return fmt.Sprintf("$xc20p$v=%d$%s", sealVersion, base64.RawStdEncoding.EncodeToString(sealed)), nil
}

// Open reverses Seal.
func (s *TokenSealer) Open(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	parts := strings.Split(value, "$")
	if len(parts) != 4 || parts[0] != "" || parts[1] != "xc20p" {
		return "", ErrInvalidSealedValue
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return "", ErrInvalidSealedValue
	}
	if version != sealVersion {
		return "", ErrIncompatibleSealFormat
	}

	payload, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return "", ErrInvalidSealedValue
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	if len(payload) < aead.NonceSize()+aead.Overhead() {
		return "", ErrInvalidSealedValue
	}
	nonce, ciphertext := payload[:aead.NonceSize()], payload[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrSealKeyMismatch
	}
	return string(plaintext), nil
}
