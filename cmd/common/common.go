// Package common provides shared helpers for the nodelink command-line
// binaries: logger setup and identity key/certificate loading.
package common

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/curanet/nodelink/identity"
)

// SetupLogger builds the process logger. JSON output is meant for
// production; the text handler for local runs.
func SetupLogger(json, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// LoadOrGenerateKey loads a PEM-encoded ECDSA private key from path, or
// generates a P-384 key and writes it there when the file does not exist.
// An empty path generates an ephemeral key.
func LoadOrGenerateKey(path string) (*ecdsa.PrivateKey, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return parseKeyPEM(data)
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading key file: %w", err)
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	if path != "" {
		der, err := x509.MarshalECPrivateKey(key)
		if err != nil {
			return nil, err
		}
		block := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
		if err := os.WriteFile(path, block, 0o600); err != nil {
			return nil, fmt.Errorf("writing key file: %w", err)
		}
	}
	return key, nil
}

func parseKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in key file")
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key file does not hold an ECDSA key")
	}
	return key, nil
}

// LoadOrGenerateCertificate loads a PEM certificate from path, or issues a
// one-year self-signed certificate for the key and writes it there.
func LoadOrGenerateCertificate(path, commonName string, key *ecdsa.PrivateKey) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("reading certificate file: %w", err)
		}
	}

	certPEM, err := identity.GenerateSelfSigned(commonName, key, 365*24*time.Hour)
	if err != nil {
		return "", err
	}
	if path != "" {
		if err := os.WriteFile(path, []byte(certPEM), 0o644); err != nil {
			return "", fmt.Errorf("writing certificate file: %w", err)
		}
	}
	return certPEM, nil
}
