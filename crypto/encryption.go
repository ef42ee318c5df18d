package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ChannelKeySize is the length of a derived symmetric channel key.
const ChannelKeySize = 32

// NonceSize is the AEAD nonce length shared by both supported ciphers.
const NonceSize = 12

// HandshakeNonceSize is the length of the random handshake nonces mixed
// into key derivation.
const HandshakeNonceSize = 32

// ErrDecryptionFailed is returned for every decryption problem: tag
// mismatch, truncated ciphertext, or malformed envelope. Callers get no
// hint which check failed.
var ErrDecryptionFailed = errors.New("payload decryption failed")

// CipherSuite names a negotiable AEAD cipher.
type CipherSuite string

const (
	CipherAESGCM   CipherSuite = "AES-256-GCM"
	CipherChaCha20 CipherSuite = "CHACHA20-POLY1305"
)

// SupportedCiphers returns the ciphers this implementation accepts, in
// server preference order.
func SupportedCiphers() []CipherSuite {
	return []CipherSuite{CipherAESGCM, CipherChaCha20}
}

// NegotiateCipher picks the first server-preferred cipher also offered by
// the client.
func NegotiateCipher(offered []string) (CipherSuite, error) {
	for _, preferred := range SupportedCiphers() {
		for _, o := range offered {
			if CipherSuite(o) == preferred {
				return preferred, nil
			}
		}
	}
	return "", errors.New("no common cipher")
}

// aeadFor constructs the AEAD for a negotiated suite and channel key.
func aeadFor(suite CipherSuite, key []byte) (cipher.AEAD, error) {
	if len(key) != ChannelKeySize {
		return nil, fmt.Errorf("channel key must be %d bytes, got %d", ChannelKeySize, len(key))
	}
	switch suite {
	case CipherAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case CipherChaCha20:
		return chacha20poly1305.New(key)
	}
	return nil, fmt.Errorf("unsupported cipher suite %q", suite)
}

// DeriveChannelKey expands a raw ECDH shared secret into a channel key.
// The salt is clientNonce || serverNonce and the info string carries the
// protocol label, binding the key to exactly one handshake instance. The
// derivation is deterministic for identical inputs.
func DeriveChannelKey(sharedSecret, clientNonce, serverNonce, info []byte) ([]byte, error) {
	if len(sharedSecret) == 0 {
		return nil, errors.New("empty shared secret")
	}
	salt := make([]byte, 0, len(clientNonce)+len(serverNonce))
	salt = append(salt, clientNonce...)
	salt = append(salt, serverNonce...)

	key := make([]byte, ChannelKeySize)
	kdf := hkdf.New(sha256.New, sharedSecret, salt, info)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("HKDF expand: %w", err)
	}
	return key, nil
}

// GenerateNonce returns size cryptographically random bytes.
func GenerateNonce(size int) ([]byte, error) {
	nonce := make([]byte, size)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

// EncryptedPayload is the wire envelope for channel-encrypted data.
// Ciphertext, nonce and authentication tag travel independently; the
// ciphertext is never interpreted before the tag verifies.
type EncryptedPayload struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	Tag        []byte `json:"tag"`
}

// EncryptPayload seals plaintext under the channel key with a fresh random
// nonce. A nonce is never reused with the same key.
func EncryptPayload(plaintext, key []byte, suite CipherSuite) (*EncryptedPayload, error) {
	aead, err := aeadFor(suite, key)
	if err != nil {
		return nil, err
	}

	nonce, err := GenerateNonce(aead.NonceSize())
	if err != nil {
		return nil, err
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	tagStart := len(sealed) - aead.Overhead()
	return &EncryptedPayload{
		Ciphertext: sealed[:tagStart],
		Nonce:      nonce,
		Tag:        sealed[tagStart:],
	}, nil
}

// DecryptPayload opens an envelope. It fails closed: any tag mismatch,
// truncation or malformed field yields ErrDecryptionFailed, never partial
// plaintext.
func DecryptPayload(p *EncryptedPayload, key []byte, suite CipherSuite) ([]byte, error) {
	if p == nil {
		return nil, ErrDecryptionFailed
	}
	aead, err := aeadFor(suite, key)
	if err != nil {
		return nil, err
	}
	if len(p.Nonce) != aead.NonceSize() || len(p.Tag) != aead.Overhead() {
		return nil, ErrDecryptionFailed
	}

	sealed := make([]byte, 0, len(p.Ciphertext)+len(p.Tag))
	sealed = append(sealed, p.Ciphertext...)
	sealed = append(sealed, p.Tag...)

	plaintext, err := aead.Open(nil, p.Nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptJSON marshals v and seals it into an envelope.
func EncryptJSON(v any, key []byte, suite CipherSuite) (*EncryptedPayload, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return EncryptPayload(plaintext, key, suite)
}

// DecryptJSON opens an envelope and unmarshals the plaintext into T.
func DecryptJSON[T any](p *EncryptedPayload, key []byte, suite CipherSuite) (*T, error) {
	plaintext, err := DecryptPayload(p, key, suite)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(plaintext, &out); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &out, nil
}
