// Package channel implements phase 1 of the nodelink protocol: the
// ephemeral key exchange that establishes a short-lived encrypted channel,
// and the TTL-bounded registry every later phase consults.
package channel

import (
	"time"

	"github.com/curanet/nodelink/crypto"
)

// Channel is the context established by a successful phase-1 handshake.
// It is read-only after creation and never renewed; key material is zeroed
// when the channel is removed or expires.
type Channel struct {
	ID          string
	Key         []byte
	Cipher      crypto.CipherSuite
	ClientNonce []byte
	ServerNonce []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the channel's fixed TTL has elapsed.
func (c *Channel) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Zero overwrites the symmetric key and derivation nonces.
func (c *Channel) Zero() {
	crypto.Zeroize(c.Key)
	crypto.Zeroize(c.ClientNonce)
	crypto.Zeroize(c.ServerNonce)
}

// Clone returns a copy with private key material. Zeroing the original
// does not affect the clone.
func (c *Channel) Clone() *Channel {
	dup := *c
	dup.Key = append([]byte(nil), c.Key...)
	dup.ClientNonce = append([]byte(nil), c.ClientNonce...)
	dup.ServerNonce = append([]byte(nil), c.ServerNonce...)
	return &dup
}
