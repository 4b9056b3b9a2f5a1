// Package crypto provides encrypted key storage and resolution-request
// signing for the market authority.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// keyFileKind tags the envelope so a decryptor never feeds a foreign
	// blob into the KDF.
	keyFileKind = "chartbets/authority-key"
	// keyFileVersion is the envelope schema version.
	keyFileVersion = 1

	// kdfIterations is the OWASP-recommended minimum for PBKDF2-HMAC-SHA256.
	kdfIterations = 600_000
	saltLen       = 16
	aesKeyLen     = 32 // AES-256
)

// keyFile is the on-disk envelope for the encrypted authority key. Binary
// fields are hex encoded.
type keyFile struct {
	Kind       string `json:"kind"`
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig carries the sources LoadKey resolves the authority key from.
type KeyConfig struct {
	// RawPrivateKey is a hex-encoded private key (0x prefix optional). When
	// set it wins over the encrypted file.
	RawPrivateKey string

	// EncryptedKeyPath points at an envelope written by EncryptKey.
	EncryptedKeyPath string

	// KeyPassword decrypts the file at EncryptedKeyPath.
	KeyPassword string
}

// aeadFor derives the AES-256 key from the password and salt and returns the
// GCM instance sealing or opening the envelope.
func aeadFor(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, kdfIterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}

// EncryptKey seals a hex-encoded secp256k1 private key under a password,
// PBKDF2-HMAC-SHA256 into AES-256-GCM, and returns the JSON envelope for
// writing to disk.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(keyBytes))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := aeadFor(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	env := keyFile{
		Kind:       keyFileKind,
		Version:    keyFileVersion,
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}
	return json.MarshalIndent(env, "", "  ")
}

// DecryptKey opens an envelope produced by EncryptKey and returns the
// hex-encoded private key without the 0x prefix.
func DecryptKey(envelope []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var env keyFile
	if err := json.Unmarshal(envelope, &env); err != nil {
		return "", fmt.Errorf("crypto: parsing key file: %w", err)
	}
	if env.Kind != keyFileKind {
		return "", fmt.Errorf("crypto: key file kind %q, want %q", env.Kind, keyFileKind)
	}
	if env.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", env.Version)
	}

	salt, err := hex.DecodeString(env.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := hex.DecodeString(env.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := hex.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := aeadFor(password, salt)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// LoadKey resolves the authority key: a raw hex key when configured,
// otherwise the encrypted key file.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		k := strings.TrimPrefix(cfg.RawPrivateKey, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: raw private key is not valid hex: %w", err)
		}
		return k, nil
	}

	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}

	return "", errors.New("crypto: no authority key configured")
}
