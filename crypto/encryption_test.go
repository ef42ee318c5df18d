package crypto

import (
	"bytes"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateNonce(ChannelKeySize)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, suite := range SupportedCiphers() {
		key := testKey(t)
		plaintext := []byte(`{"nodeId":"node-a","payload":"hello"}`)

		envelope, err := EncryptPayload(plaintext, key, suite)
		if err != nil {
			t.Fatalf("%s: encrypt: %v", suite, err)
		}

		decrypted, err := DecryptPayload(envelope, key, suite)
		if err != nil {
			t.Fatalf("%s: decrypt: %v", suite, err)
		}
		if !bytes.Equal(decrypted, plaintext) {
			t.Errorf("%s: round trip mismatch: got %q want %q", suite, decrypted, plaintext)
		}
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	for _, suite := range SupportedCiphers() {
		key := testKey(t)
		envelope, err := EncryptPayload([]byte("sensitive clinical payload"), key, suite)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}

		for bit := 0; bit < len(envelope.Ciphertext)*8; bit += 7 {
			tampered := &EncryptedPayload{
				Ciphertext: bytes.Clone(envelope.Ciphertext),
				Nonce:      envelope.Nonce,
				Tag:        envelope.Tag,
			}
			tampered.Ciphertext[bit/8] ^= 1 << (bit % 8)

			if _, err := DecryptPayload(tampered, key, suite); err == nil {
				t.Fatalf("%s: tampered ciphertext bit %d accepted", suite, bit)
			}
		}
	}
}

func TestDecryptRejectsTamperedTag(t *testing.T) {
	for _, suite := range SupportedCiphers() {
		key := testKey(t)
		envelope, err := EncryptPayload([]byte("payload"), key, suite)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}

		for i := range envelope.Tag {
			tampered := &EncryptedPayload{
				Ciphertext: envelope.Ciphertext,
				Nonce:      envelope.Nonce,
				Tag:        bytes.Clone(envelope.Tag),
			}
			tampered.Tag[i] ^= 0xff

			if _, err := DecryptPayload(tampered, key, suite); err == nil {
				t.Fatalf("%s: tampered tag byte %d accepted", suite, i)
			}
		}
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	key := testKey(t)
	otherKey := testKey(t)

	envelope, err := EncryptPayload([]byte("payload"), key, CipherAESGCM)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptPayload(envelope, otherKey, CipherAESGCM); err != ErrDecryptionFailed {
		t.Fatalf("wrong key: got err %v, want ErrDecryptionFailed", err)
	}
}

func TestDecryptRejectsTruncatedEnvelope(t *testing.T) {
	key := testKey(t)
	envelope, err := EncryptPayload([]byte("a longer plaintext for truncation"), key, CipherAESGCM)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	truncated := &EncryptedPayload{
		Ciphertext: envelope.Ciphertext[:len(envelope.Ciphertext)/2],
		Nonce:      envelope.Nonce,
		Tag:        envelope.Tag,
	}
	if _, err := DecryptPayload(truncated, key, CipherAESGCM); err != ErrDecryptionFailed {
		t.Fatalf("truncated ciphertext: got err %v, want ErrDecryptionFailed", err)
	}

	if _, err := DecryptPayload(nil, key, CipherAESGCM); err != ErrDecryptionFailed {
		t.Fatalf("nil envelope: got err %v, want ErrDecryptionFailed", err)
	}
	if _, err := DecryptPayload(&EncryptedPayload{}, key, CipherAESGCM); err != ErrDecryptionFailed {
		t.Fatalf("empty envelope: got err %v, want ErrDecryptionFailed", err)
	}
}

func TestEncryptUsesFreshNonces(t *testing.T) {
	key := testKey(t)
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		envelope, err := EncryptPayload([]byte("same plaintext"), key, CipherAESGCM)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		if seen[string(envelope.Nonce)] {
			t.Fatal("nonce reused across encryptions")
		}
		seen[string(envelope.Nonce)] = true
	}
}

func TestDeriveChannelKeyDeterministic(t *testing.T) {
	secret := []byte("raw ecdh shared secret material")
	clientNonce, _ := GenerateNonce(HandshakeNonceSize)
	serverNonce, _ := GenerateNonce(HandshakeNonceSize)
	info := []byte("nodelink-channel-v1.0")

	k1, err := DeriveChannelKey(secret, clientNonce, serverNonce, info)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	k2, err := DeriveChannelKey(secret, clientNonce, serverNonce, info)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("derivation not deterministic for identical inputs")
	}
	if len(k1) != ChannelKeySize {
		t.Errorf("derived key length %d, want %d", len(k1), ChannelKeySize)
	}

	// Swapping nonce order must change the key: the salt binds the key to
	// one handshake instance.
	k3, err := DeriveChannelKey(secret, serverNonce, clientNonce, info)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Error("nonce order does not affect derived key")
	}

	if _, err := DeriveChannelKey(nil, clientNonce, serverNonce, info); err == nil {
		t.Error("empty shared secret accepted")
	}
}

func TestNegotiateCipher(t *testing.T) {
	suite, err := NegotiateCipher([]string{"CHACHA20-POLY1305", "AES-256-GCM"})
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	// Server preference wins regardless of client ordering.
	if suite != CipherAESGCM {
		t.Errorf("negotiated %s, want %s", suite, CipherAESGCM)
	}

	suite, err = NegotiateCipher([]string{"CHACHA20-POLY1305"})
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if suite != CipherChaCha20 {
		t.Errorf("negotiated %s, want %s", suite, CipherChaCha20)
	}

	if _, err := NegotiateCipher([]string{"DES-EDE3", "RC4"}); err == nil {
		t.Error("negotiation succeeded with no common cipher")
	}
	if _, err := NegotiateCipher(nil); err == nil {
		t.Error("negotiation succeeded with empty offer")
	}
}

func TestEncryptJSONRoundTrip(t *testing.T) {
	type payload struct {
		NodeID string `json:"nodeId"`
		Count  int    `json:"count"`
	}

	key := testKey(t)
	envelope, err := EncryptJSON(&payload{NodeID: "node-a", Count: 7}, key, CipherAESGCM)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	out, err := DecryptJSON[payload](envelope, key, CipherAESGCM)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if out.NodeID != "node-a" || out.Count != 7 {
		t.Errorf("unexpected payload: %+v", out)
	}
}
