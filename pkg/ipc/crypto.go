package ipc

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/pipeguard/pipeguard/internal/config"
	"github.com/pipeguard/pipeguard/pkg/types"
)

const (
	// KeySize is the channel key length (256 bits)
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the length of the random nonce prepended to every payload
	NonceSize = chacha20poly1305.NonceSize
	// TagSize is the length of the authentication tag appended by the AEAD
	TagSize = chacha20poly1305.Overhead

	keyDerivationInfo = "pipeguard-channel-key-v1"
)

// defaultKeyHex may be replaced at link time:
//
//	go build -ldflags "-X github.com/pipeguard/pipeguard/pkg/ipc.defaultKeyHex=<64 hex chars>"
var defaultKeyHex = "7c1e5a93d04b28f6e2a9c3175b8d6f0e4a2c9b71d3e85f06a4b7c2e9d1f03a58"

var defaultKey = mustDecodeKey(defaultKeyHex)

// ErrDecryptFailed is returned for every authentication failure. Tampering,
// a wrong key and a truncated tag are deliberately indistinguishable.
var ErrDecryptFailed = types.NewError(types.ErrCodeData, "message authentication failed")

func mustDecodeKey(s string) [KeySize]byte {
	var key [KeySize]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != KeySize {
		panic(fmt.Sprintf("ipc: compiled-in default key must be %d hex-encoded bytes", KeySize))
	}
	copy(key[:], b)
	return key
}

// DefaultKey returns the fallback key used when no key is supplied.
//
// The value is compiled into the library and is identical for every
// deployment that does not override it (at link time or by passing its own
// key). It only protects against passive observers that do not have the
// binary; it is not a substitute for a pre-shared or negotiated secret.
func DefaultKey() [KeySize]byte {
	return defaultKey
}

// DeriveKey stretches a passphrase into a channel key with HKDF-SHA256.
// Both peers must use the same passphrase and salt.
func DeriveKey(passphrase, salt []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "passphrase cannot be empty")
	}
	key := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, passphrase, salt, []byte(keyDerivationInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, types.WrapError(types.ErrCodeInternal, "key derivation failed", err)
	}
	return key, nil
}

// Cipher seals and opens channel payloads with ChaCha20-Poly1305.
// It holds no mutable state and may be shared by several channels.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a cipher from a 32-byte key
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("key must be %d bytes, got %d", KeySize, len(key)))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, types.WrapError(types.ErrCodeInvalidArgument, "failed to create AEAD", err)
	}
	return &Cipher{aead: aead}, nil
}

// NewDefaultCipher creates a cipher keyed with DefaultKey
func NewDefaultCipher() *Cipher {
	key := DefaultKey()
	c, err := NewCipher(key[:])
	if err != nil {
		panic(err)
	}
	return c
}

// CipherFromConfig builds the cipher described by cfg. It returns nil when
// encryption is disabled. An explicit key wins over a passphrase, and with
// neither the default key is used.
func CipherFromConfig(cfg config.CryptoConfig) (*Cipher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	key, err := cfg.KeyBytes()
	if err != nil {
		return nil, err
	}
	if key == nil && cfg.Passphrase != "" {
		key, err = DeriveKey([]byte(cfg.Passphrase), []byte(cfg.Salt))
		if err != nil {
			return nil, err
		}
	}
	if key == nil {
		return NewDefaultCipher(), nil
	}
	return NewCipher(key)
}

// Encrypt seals plaintext under a fresh random nonce and returns
// nonce || ciphertext || tag
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, types.WrapError(types.ErrCodeInternal, "failed to generate nonce", err)
	}
	return c.aead.Seal(out, out[:NonceSize], plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt. Payloads shorter than a nonce
// and payloads that fail authentication both yield a data error.
func (c *Cipher) Decrypt(payload []byte) ([]byte, error) {
	if len(payload) < NonceSize {
		return nil, types.NewError(types.ErrCodeData, "encrypted payload too short")
	}
	nonce, ciphertext := payload[:NonceSize], payload[NonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
