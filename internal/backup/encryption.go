package backup

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100000
	keySize          = 32
	saltSize         = 16
)

// encryptedMagic prefixes every encrypted archive
var encryptedMagic = []byte("GBK1")

// IsEncrypted reports whether data carries the encrypted archive header
func IsEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, encryptedMagic)
}

// EncryptionManager seals archives with AES-256-GCM. Layout:
// magic | salt | nonce | ciphertext. The salt feeds PBKDF2 when the key
// comes from a passphrase and is ignored for raw keys.
type EncryptionManager struct {
	config *EncryptionConfig
}

// NewEncryptionManager creates a new encryption manager
func NewEncryptionManager(config *EncryptionConfig) *EncryptionManager {
	if config == nil {
		config = &EncryptionConfig{}
	}
	return &EncryptionManager{config: config}
}

// IsEnabled returns whether new archives are encrypted
func (em *EncryptionManager) IsEnabled() bool {
	return em.config.Enabled
}

// Encrypt seals data. It is a no-op when encryption is disabled.
func (em *EncryptionManager) Encrypt(data []byte) ([]byte, error) {
	if !em.config.Enabled {
		return data, nil
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, NewEncryptionError("failed to generate salt", err)
	}

	gcm, err := em.cipher(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, NewEncryptionError("failed to generate nonce", err)
	}

	out := make([]byte, 0, len(encryptedMagic)+saltSize+len(nonce)+len(data)+gcm.Overhead())
	out = append(out, encryptedMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

// Decrypt opens an archive produced by Encrypt. Unencrypted input is returned as is.
func (em *EncryptionManager) Decrypt(data []byte) ([]byte, error) {
	if !IsEncrypted(data) {
		return data, nil
	}
	if !em.config.hasKeyMaterial() {
		return nil, NewEncryptionError("archive is encrypted but no key is configured", nil)
	}

	body := data[len(encryptedMagic):]
	if len(body) < saltSize {
		return nil, NewCorruptionError("encrypted archive too short", nil)
	}
	salt, body := body[:saltSize], body[saltSize:]

	gcm, err := em.cipher(salt)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(body) < nonceSize {
		return nil, NewCorruptionError("encrypted archive too short", nil)
	}

	plaintext, err := gcm.Open(nil, body[:nonceSize], body[nonceSize:], nil)
	if err != nil {
		return nil, NewEncryptionError("failed to decrypt archive", err)
	}
	return plaintext, nil
}

func (em *EncryptionManager) cipher(salt []byte) (cipher.AEAD, error) {
	key, err := em.deriveKey(salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewEncryptionError("failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewEncryptionError("failed to create GCM cipher", err)
	}
	return gcm, nil
}

func (em *EncryptionManager) deriveKey(salt []byte) ([]byte, error) {
	raw, err := em.config.rawKey()
	if err != nil {
		return nil, NewEncryptionError("failed to load encryption key", err)
	}
	if raw != nil {
		return raw, nil
	}

	passphrase, err := em.config.passphrase()
	if err != nil {
		return nil, NewEncryptionError("failed to load encryption passphrase", err)
	}
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New), nil
}
