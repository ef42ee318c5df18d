// Package testutil provides helpers shared by nodelink tests: node
// credentials, signing shortcuts, and wire-message builders.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/curanet/nodelink/identity"
	"github.com/curanet/nodelink/protocol"
)

// NodeCredentials is a test node's key pair and self-issued certificate.
type NodeCredentials struct {
	NodeID         string
	NodeName       string
	PrivateKey     *ecdsa.PrivateKey
	CertificatePEM string
}

// GenerateNodeCredentials creates a P-384 key pair and a self-signed
// certificate valid for one hour.
func GenerateNodeCredentials(t *testing.T, nodeID string) *NodeCredentials {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)

	certPEM, err := identity.GenerateSelfSigned(nodeID, key, time.Hour)
	require.NoError(t, err)

	return &NodeCredentials{
		NodeID:         nodeID,
		NodeName:       "Test node " + nodeID,
		PrivateKey:     key,
		CertificatePEM: certPEM,
	}
}

// SignIdentify signs the phase-2 identification string.
func (c *NodeCredentials) SignIdentify(t *testing.T, channelID string, ts time.Time) []byte {
	t.Helper()
	msg := protocol.IdentifySigningString(channelID, c.NodeID, ts)
	sig, err := identity.SignMessage(c.PrivateKey, []byte(msg))
	require.NoError(t, err)
	return sig
}

// SignChallenge signs the phase-3 challenge string.
func (c *NodeCredentials) SignChallenge(t *testing.T, challengeData, channelID string, ts time.Time) []byte {
	t.Helper()
	msg := protocol.ChallengeSigningString(challengeData, channelID, c.NodeID, ts)
	sig, err := identity.SignMessage(c.PrivateKey, []byte(msg))
	require.NoError(t, err)
	return sig
}

// RegistrationRequest builds a well-formed registration payload for the
// credentials.
func (c *NodeCredentials) RegistrationRequest(level protocol.AccessLevel) *protocol.NodeRegistrationRequest {
	return &protocol.NodeRegistrationRequest{
		NodeID:             c.NodeID,
		NodeName:           c.NodeName,
		Certificate:        c.CertificatePEM,
		ContactInfo:        "ops@" + c.NodeID + ".example.org",
		InstitutionDetails: "Test institution",
		NodeURL:            "https://" + c.NodeID + ".example.org",
		RequestedLevel:     level,
	}
}
