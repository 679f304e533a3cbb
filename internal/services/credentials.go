package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/99designs/keyring"
	"github.com/google/uuid"

	"github.com/Brownster/email-ai-assistant/internal/config"
)

// keyringPrefix marks a secrets value that only references a keyring item
const keyringPrefix = "keyring:"

// CredentialStore turns provider secrets into values safe to persist and back
type CredentialStore interface {
	// Seal stores plaintext and returns the value to keep in the secrets column
	Seal(name, plaintext string) (string, error)
	// Open returns the plaintext for a value produced by Seal
	Open(stored string) (string, error)
	// Remove forgets a sealed value
	Remove(stored string) error
}

// NewCredentialStore builds the store selected by cfg.CredentialBackend
func NewCredentialStore(cfg *config.Config) (CredentialStore, error) {
	aesStore := NewAESCredentialStore(cfg.GetEncryptionKey())
	if strings.ToLower(cfg.CredentialBackend) != "keyring" {
		return aesStore, nil
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName: cfg.KeyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(cfg.DataDir, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt(hex.EncodeToString(cfg.GetEncryptionKey())),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyringCredentialStore(ring, aesStore), nil
}

// AESCredentialStore encrypts secrets with AES-256-GCM
type AESCredentialStore struct {
	key []byte // 32 bytes for AES-256
}

// NewAESCredentialStore creates a store for encryptionKey
func NewAESCredentialStore(encryptionKey []byte) *AESCredentialStore {
	// Ensure key is 32 bytes for AES-256
	key := make([]byte, 32)
	copy(key, encryptionKey)
	return &AESCredentialStore{key: key}
}

// Seal encrypts plaintext using AES-256-GCM
func (s *AESCredentialStore) Seal(name, plaintext string) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncryptionFailed
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a value produced by Seal
func (s *AESCredentialStore) Open(stored string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrDecryptionFailed
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// Remove is a no-op; the ciphertext lives only in the row
func (s *AESCredentialStore) Remove(stored string) error {
	return nil
}

// KeyringCredentialStore keeps secrets in the system keyring and persists
// only a "keyring:<key>" reference. Values sealed before the backend was
// switched are still opened through the AES fallback.
type KeyringCredentialStore struct {
	ring     keyring.Keyring
	fallback *AESCredentialStore
}

// NewKeyringCredentialStore wraps ring
func NewKeyringCredentialStore(ring keyring.Keyring, fallback *AESCredentialStore) *KeyringCredentialStore {
	return &KeyringCredentialStore{ring: ring, fallback: fallback}
}

// Seal stores plaintext under a fresh key
func (s *KeyringCredentialStore) Seal(name, plaintext string) (string, error) {
	key := "provider-" + uuid.NewString() + "/" + name
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(plaintext),
		Label: "email-assistant " + name,
	})
	if err != nil {
		return "", fmt.Errorf("%w: setting credential %q: %v", ErrEncryptionFailed, key, err)
	}
	return keyringPrefix + key, nil
}

// Open reads the referenced keyring item
func (s *KeyringCredentialStore) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, keyringPrefix) {
		if s.fallback == nil {
			return "", ErrDecryptionFailed
		}
		return s.fallback.Open(stored)
	}

	item, err := s.ring.Get(strings.TrimPrefix(stored, keyringPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(item.Data), nil
}

// Remove deletes the referenced keyring item
func (s *KeyringCredentialStore) Remove(stored string) error {
	if !strings.HasPrefix(stored, keyringPrefix) {
		return nil
	}
	err := s.ring.Remove(strings.TrimPrefix(stored, keyringPrefix))
	if err == keyring.ErrKeyNotFound {
		return nil
	}
	return err
}
