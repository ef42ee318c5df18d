package identity

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	// ErrBadCertificate covers malformed PEM and unparseable certificates.
	ErrBadCertificate = errors.New("malformed certificate")

	// ErrCertificateNotYetValid and ErrCertificateExpired report validity
	// window failures at registration time.
	ErrCertificateNotYetValid = errors.New("certificate not yet valid")
	ErrCertificateExpired     = errors.New("certificate expired")

	// ErrBadSignature is returned when a signature does not verify against
	// the certificate's public key.
	ErrBadSignature = errors.New("signature verification failed")
)

// ParseCertificatePEM decodes a PEM-encoded X.509 certificate.
func ParseCertificatePEM(pemData string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, ErrBadCertificate
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCertificate, err)
	}
	return cert, nil
}

// Fingerprint returns the SHA-256 digest of the DER certificate, hex
// encoded. This is the value nodes are pinned by.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// CheckValidity rejects certificates outside their own validity window.
func CheckValidity(cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return ErrCertificateNotYetValid
	}
	if now.After(cert.NotAfter) {
		return ErrCertificateExpired
	}
	return nil
}

// VerifySignature checks signature over message against the certificate's
// public key. ECDSA (ASN.1), Ed25519 and RSA PKCS#1 v1.5 keys are accepted;
// ECDSA and RSA signatures cover the SHA-256 digest of the message.
func VerifySignature(cert *x509.Certificate, message, signature []byte) error {
	switch pub := cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(message)
		if !ecdsa.VerifyASN1(pub, digest[:], signature) {
			return ErrBadSignature
		}
		return nil
	case ed25519.PublicKey:
		if !ed25519.Verify(pub, message, signature) {
			return ErrBadSignature
		}
		return nil
	case *rsa.PublicKey:
		digest := sha256.Sum256(message)
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err != nil {
			return ErrBadSignature
		}
		return nil
	}
	return fmt.Errorf("%w: unsupported public key type %T", ErrBadSignature, cert.PublicKey)
}

// SignMessage produces a signature verifiable by VerifySignature for the
// supported key types. Clients use it; servers only ever verify.
func SignMessage(key crypto.Signer, message []byte) ([]byte, error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		digest := sha256.Sum256(message)
		return ecdsa.SignASN1(rand.Reader, k, digest[:])
	case ed25519.PrivateKey:
		return ed25519.Sign(k, message), nil
	case *rsa.PrivateKey:
		digest := sha256.Sum256(message)
		return rsa.SignPKCS1v15(rand.Reader, k, crypto.SHA256, digest[:])
	}
	return nil, fmt.Errorf("unsupported signing key type %T", key)
}

// GenerateSelfSigned issues the self-signed certificate a node presents to
// its peers. Nodes are pinned by fingerprint, so no CA is involved.
func GenerateSelfSigned(commonName string, key crypto.Signer, validity time.Duration) (string, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return "", fmt.Errorf("create certificate: %w", err)
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})), nil
}
