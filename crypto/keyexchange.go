package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
)

// KeyExchangeAlgorithm names an ECDH curve accepted by the handshake. The
// protocol pins P-384 as the default; P-256 is accepted for interop.
type KeyExchangeAlgorithm string

const (
	ECDHP384 KeyExchangeAlgorithm = "ECDH-P384"
	ECDHP256 KeyExchangeAlgorithm = "ECDH-P256"
)

// DefaultKeyExchange is the algorithm offered by clients of this
// implementation.
const DefaultKeyExchange = ECDHP384

// curveFor maps an algorithm name to its curve. This is the complete
// allow-list; anything else is a protocol error.
func curveFor(alg KeyExchangeAlgorithm) (ecdh.Curve, error) {
	switch alg {
	case ECDHP384:
		return ecdh.P384(), nil
	case ECDHP256:
		return ecdh.P256(), nil
	}
	return nil, fmt.Errorf("unsupported key exchange algorithm %q", alg)
}

// SupportedKeyExchange reports whether alg is on the allow-list.
func SupportedKeyExchange(alg KeyExchangeAlgorithm) bool {
	_, err := curveFor(alg)
	return err == nil
}

// GenerateEphemeralKeyPair generates a fresh key pair on the named curve.
// Ephemeral keys live for exactly one handshake.
func GenerateEphemeralKeyPair(alg KeyExchangeAlgorithm) (*ecdh.PrivateKey, error) {
	curve, err := curveFor(alg)
	if err != nil {
		return nil, err
	}
	key, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	return key, nil
}

// ExportPublicKey encodes a public key as an uncompressed curve point.
func ExportPublicKey(pub *ecdh.PublicKey) []byte {
	return pub.Bytes()
}

// ImportPublicKey parses an uncompressed curve point for the named
// algorithm. Points not on the curve and malformed encodings are rejected
// with an error, never a panic.
func ImportPublicKey(data []byte, alg KeyExchangeAlgorithm) (*ecdh.PublicKey, error) {
	curve, err := curveFor(alg)
	if err != nil {
		return nil, err
	}
	pub, err := curve.NewPublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}

// ValidatePublicKey reports whether data is a well-formed on-curve public
// key for the named algorithm. Callers treat false as a protocol error.
func ValidatePublicKey(data []byte, alg KeyExchangeAlgorithm) bool {
	_, err := ImportPublicKey(data, alg)
	return err == nil
}

// DeriveSharedSecret performs the ECDH agreement. The returned bytes are raw
// secret material; callers must zero them as soon as the channel key has
// been derived (see WithSecret).
func DeriveSharedSecret(priv *ecdh.PrivateKey, pub *ecdh.PublicKey) ([]byte, error) {
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("ECDH: %w", err)
	}
	return secret, nil
}
