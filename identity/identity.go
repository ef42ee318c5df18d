// Package identity manages node identity records and their authorization
// lifecycle: registration, identification, administrator approval, and
// certificate signature verification. Certificates are self-issued and
// trusted by pinned fingerprint, not by chain.
package identity

import (
	"time"

	"github.com/curanet/nodelink/protocol"
)

// NodeIdentity is the persisted record of a research node known to this
// peer. The certificate fingerprint is globally unique; the granted access
// level changes only through administrator action, never through
// re-registration.
type NodeIdentity struct {
	NodeID             string
	NodeName           string
	Certificate        string // PEM
	Fingerprint        string // SHA-256 over the DER certificate, hex
	ContactInfo        string
	InstitutionDetails string
	NodeURL            string
	RequestedLevel     protocol.AccessLevel
	GrantedLevel       protocol.AccessLevel
	Status             protocol.NodeStatus
	RegistrationID     string
	RegisteredAt       time.Time
	UpdatedAt          time.Time
	LastSeenAt         time.Time
	LastAuthenticated  time.Time
	Metadata           map[string]string
}

// Clone returns a deep copy so callers never mutate store-owned records.
func (n *NodeIdentity) Clone() *NodeIdentity {
	out := *n
	if n.Metadata != nil {
		out.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
