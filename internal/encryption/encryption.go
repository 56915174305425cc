// Package encryption seals config values with AES-256-GCM under an
// operator-supplied master key.
//
// Tokens have the form base64(nonce):base64(tag):base64(ciphertext). A fresh
// random nonce is drawn for every call to Encrypt. The master key lives in a
// memguard enclave and is only decrypted into locked memory for the duration
// of a single seal or open.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/alfredjeanlab/confhub/internal/model"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize   = 32
	nonceSize = 12
	tagSize   = 16
)

// Service encrypts and decrypts serialized values. A Service built from an
// empty secret is unavailable: IsAvailable reports false and every operation
// fails with model.ErrEncryptionUnavailable.
type Service struct {
	key *memguard.Enclave
}

// New builds a Service from a hex-encoded 256-bit secret. An empty secret
// yields an unavailable service; a malformed one is a configuration error.
func New(hexKey string) (*Service, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return &Service{}, nil
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key must be hex encoded: %w", err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes (%d hex characters), got %d bytes",
			KeySize, KeySize*2, len(raw))
	}
	// NewEnclave wipes raw.
	return &Service{key: memguard.NewEnclave(raw)}, nil
}

// GenerateKey returns a new random hex-encoded 256-bit secret.
func GenerateKey() (string, error) {
	buf := make([]byte, KeySize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// IsAvailable reports whether a master key is configured.
func (s *Service) IsAvailable() bool {
	return s != nil && s.key != nil
}

// EnsureAvailable returns model.ErrEncryptionUnavailable when no key is configured.
func (s *Service) EnsureAvailable() error {
	if !s.IsAvailable() {
		return model.ErrEncryptionUnavailable
	}
	return nil
}

// Encrypt seals plaintext and returns the colon-delimited token.
func (s *Service) Encrypt(plaintext string) (string, error) {
	if err := s.EnsureAvailable(); err != nil {
		return "", err
	}
	aead, release, err := s.aead()
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrEncryptionFailed, err)
	}
	defer release()

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: nonce: %v", model.ErrEncryptionFailed, err)
	}
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	enc := base64.StdEncoding
	return enc.EncodeToString(nonce) + ":" + enc.EncodeToString(tag) + ":" + enc.EncodeToString(ciphertext), nil
}

// Decrypt opens a token produced by Encrypt. Any malformed or tampered token
// fails with model.ErrDecryptionFailed.
func (s *Service) Decrypt(token string) (string, error) {
	if err := s.EnsureAvailable(); err != nil {
		return "", err
	}
	nonce, tag, ciphertext, err := splitToken(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrDecryptionFailed, err)
	}

	aead, release, err := s.aead()
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrDecryptionFailed, err)
	}
	defer release()

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(append(sealed, ciphertext...), tag...)
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", model.ErrDecryptionFailed)
	}
	return string(plaintext), nil
}

// LooksEncrypted reports whether s has the shape of an encryption token.
func LooksEncrypted(s string) bool {
	_, _, _, err := splitToken(s)
	return err == nil
}

func splitToken(token string) (nonce, tag, ciphertext []byte, err error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return nil, nil, nil, fmt.Errorf("expected 3 token parts, got %d", len(parts))
	}
	// Strict decoding rejects non-zero padding bits, so every character of
	// the token is significant.
	enc := base64.StdEncoding.Strict()
	if nonce, err = enc.DecodeString(parts[0]); err != nil {
		return nil, nil, nil, fmt.Errorf("nonce: %v", err)
	}
	if tag, err = enc.DecodeString(parts[1]); err != nil {
		return nil, nil, nil, fmt.Errorf("tag: %v", err)
	}
	if ciphertext, err = enc.DecodeString(parts[2]); err != nil {
		return nil, nil, nil, fmt.Errorf("ciphertext: %v", err)
	}
	if len(nonce) != nonceSize {
		return nil, nil, nil, fmt.Errorf("nonce must be %d bytes", nonceSize)
	}
	if len(tag) != tagSize {
		return nil, nil, nil, fmt.Errorf("tag must be %d bytes", tagSize)
	}
	return nonce, tag, ciphertext, nil
}

// aead opens the enclave and builds a GCM instance. The returned release
// func destroys the plaintext key buffer.
func (s *Service) aead() (cipher.AEAD, func(), error) {
	lb, err := s.key.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open key enclave: %w", err)
	}
	block, err := aes.NewCipher(lb.Bytes())
	if err != nil {
		lb.Destroy()
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		lb.Destroy()
		return nil, nil, err
	}
	return gcm, lb.Destroy, nil
}
