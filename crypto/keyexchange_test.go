package crypto

import (
	"bytes"
	"testing"
)

func TestKeyExchangeRoundTrip(t *testing.T) {
	for _, alg := range []KeyExchangeAlgorithm{ECDHP384, ECDHP256} {
		alice, err := GenerateEphemeralKeyPair(alg)
		if err != nil {
			t.Fatalf("%s: generate: %v", alg, err)
		}
		bob, err := GenerateEphemeralKeyPair(alg)
		if err != nil {
			t.Fatalf("%s: generate: %v", alg, err)
		}

		// Export/import must survive the wire.
		encoded := ExportPublicKey(alice.PublicKey())
		imported, err := ImportPublicKey(encoded, alg)
		if err != nil {
			t.Fatalf("%s: import: %v", alg, err)
		}

		s1, err := DeriveSharedSecret(bob, imported)
		if err != nil {
			t.Fatalf("%s: derive: %v", alg, err)
		}
		s2, err := DeriveSharedSecret(alice, bob.PublicKey())
		if err != nil {
			t.Fatalf("%s: derive: %v", alg, err)
		}
		if !bytes.Equal(s1, s2) {
			t.Errorf("%s: shared secrets differ", alg)
		}
	}
}

func TestImportPublicKeyRejectsMalformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":       {},
		"short":       {0x04, 0x01, 0x02},
		"not a point": bytes.Repeat([]byte{0xff}, 97),
	}
	for name, data := range cases {
		if _, err := ImportPublicKey(data, ECDHP384); err == nil {
			t.Errorf("%s encoding accepted", name)
		}
		if ValidatePublicKey(data, ECDHP384) {
			t.Errorf("%s encoding validated", name)
		}
	}

	// A P-256 point is not a valid P-384 point.
	p256, err := GenerateEphemeralKeyPair(ECDHP256)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if ValidatePublicKey(ExportPublicKey(p256.PublicKey()), ECDHP384) {
		t.Error("P-256 point validated against P-384")
	}
}

func TestUnsupportedAlgorithmRejected(t *testing.T) {
	if SupportedKeyExchange("ECDH-P521") {
		t.Error("P-521 is not on the allow-list")
	}
	if _, err := GenerateEphemeralKeyPair("X25519"); err == nil {
		t.Error("off-list algorithm accepted")
	}
}

func TestWithSecretZeroes(t *testing.T) {
	secret := []byte{1, 2, 3, 4}
	err := WithSecret(secret, func(b []byte) error {
		if !bytes.Equal(b, []byte{1, 2, 3, 4}) {
			t.Error("secret not passed through")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(secret, make([]byte, 4)) {
		t.Error("secret not zeroed after scope")
	}

	// Zeroing must happen on panic too.
	secret = []byte{9, 9, 9}
	func() {
		defer func() { _ = recover() }()
		_ = WithSecret(secret, func([]byte) error { panic("boom") })
	}()
	if !bytes.Equal(secret, make([]byte, 3)) {
		t.Error("secret not zeroed after panic")
	}
}
