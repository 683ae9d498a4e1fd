// Package secrets decrypts provider credentials just before use.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/llm-router/internal/apperr"
)

const ivSize = 12

// ErrInvalidFormat is wrapped by every decryption failure.
var ErrInvalidFormat = errors.New("secrets: invalid ciphertext")

// plaintextPrefixes mark values that were never encrypted.
var plaintextPrefixes = []string{"sk-", "http://", "https://", "AKIA", "ASIA", "AIza"}

// Resolver turns stored credential values into plaintext. It holds no
// decrypted material between calls.
type Resolver struct {
	aead cipher.AEAD
}

// NewResolver derives an AES-256-GCM key from signingKey. An empty signing key
// yields a resolver that passes plaintext through and rejects ciphertext.
func NewResolver(signingKey string) *Resolver {
	if signingKey == "" {
		return &Resolver{}
	}
	sum := sha256.Sum256([]byte(signingKey))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		// sha256 output is always a valid AES-256 key
		panic(fmt.Sprintf("secrets: aes cipher: %v", err))
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		panic(fmt.Sprintf("secrets: gcm: %v", err))
	}
	return &Resolver{aead: aead}
}

// Resolve returns value in plaintext. Already-plaintext values come back
// unchanged; ciphertext that cannot be decrypted fails with a credential error.
func (r *Resolver) Resolve(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" || !IsEncrypted(value) {
		return value, nil
	}
	if r == nil || r.aead == nil {
		return "", apperr.Credential("invalid API key format", errors.New("secrets: signing key not configured"))
	}
	iv, ciphertext, err := split(value)
	if err != nil {
		return "", apperr.Credential("invalid API key format", err)
	}
	plain, err := r.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", apperr.Credential("invalid API key format", ErrInvalidFormat)
	}
	return string(plain), nil
}

// Encrypt produces the stored form of plaintext.
func (r *Resolver) Encrypt(plaintext string) (string, error) {
	if r == nil || r.aead == nil {
		return "", errors.New("secrets: signing key not configured")
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("secrets: generate iv: %w", err)
	}
	sealed := r.aead.Seal(nil, iv, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(iv) + "." + base64.StdEncoding.EncodeToString(sealed), nil
}

// IsEncrypted reports whether value has the shape of resolver ciphertext.
func IsEncrypted(value string) bool {
	for _, prefix := range plaintextPrefixes {
		if strings.HasPrefix(value, prefix) {
			return false
		}
	}
	_, _, err := split(value)
	return err == nil
}

func split(value string) ([]byte, []byte, error) {
	parts := strings.Split(value, ".")
	if len(parts) != 2 {
		return nil, nil, ErrInvalidFormat
	}
	iv, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return nil, nil, ErrInvalidFormat
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(ciphertext) == 0 {
		return nil, nil, ErrInvalidFormat
	}
	return iv, ciphertext, nil
}
