package protocol

import "time"

// ChannelOpenRequest is the phase-1 handshake request. It is the only
// protocol message sent in the clear.
type ChannelOpenRequest struct {
	Version              string    `json:"version"`
	EphemeralPublicKey   []byte    `json:"ephemeralPublicKey"`
	KeyExchangeAlgorithm string    `json:"keyExchangeAlgorithm"`
	SupportedCiphers     []string  `json:"supportedCiphers"`
	Nonce                []byte    `json:"nonce"`
	Timestamp            time.Time `json:"timestamp"`
}

// ChannelOpenResponse carries the server's half of the handshake. The channel
// identifier travels in the X-Channel-Id response header, not the body.
type ChannelOpenResponse struct {
	Version            string    `json:"version"`
	SelectedCipher     string    `json:"selectedCipher"`
	EphemeralPublicKey []byte    `json:"ephemeralPublicKey"`
	Nonce              []byte    `json:"nonce"`
	Timestamp          time.Time `json:"timestamp"`
}

// NodeRegistrationRequest is the phase-2 registration payload, sent inside
// the encrypted channel envelope.
type NodeRegistrationRequest struct {
	NodeID             string      `json:"nodeId"`
	NodeName           string      `json:"nodeName"`
	Certificate        string      `json:"certificate"` // PEM
	ContactInfo        string      `json:"contactInfo"`
	InstitutionDetails string      `json:"institutionDetails"`
	NodeURL            string      `json:"nodeUrl"`
	RequestedLevel     AccessLevel `json:"requestedAccessLevel"`
}

// NodeRegistrationResponse reports the resulting status. Re-registration of
// a known fingerprint returns the existing status unchanged.
type NodeRegistrationResponse struct {
	Success        bool       `json:"success"`
	Status         NodeStatus `json:"status"`
	RegistrationID string     `json:"registrationId"`
	Message        string     `json:"message,omitempty"`
}

// NodeIdentifyRequest asks whether this node is known to the peer. The
// signature covers channelId + nodeId + timestamp and is verified against
// the certificate presented here, not one on file.
type NodeIdentifyRequest struct {
	NodeID      string    `json:"nodeId"`
	Certificate string    `json:"certificate"` // PEM
	Signature   []byte    `json:"signature"`
	Timestamp   time.Time `json:"timestamp"`
}

// NodeIdentifyResponse tells the caller how to proceed. NextPhase is set
// only for Authorized nodes and is null otherwise.
type NodeIdentifyResponse struct {
	IsKnown   bool       `json:"isKnown"`
	Status    NodeStatus `json:"status"`
	NodeName  string     `json:"nodeName,omitempty"`
	NextPhase *string    `json:"nextPhase"`
}

// NodeStatusUpdateRequest is the administrative status mutation body.
type NodeStatusUpdateRequest struct {
	Status NodeStatus `json:"status"`
}

// ChallengeRequest asks for phase-3 challenge material. The channel id is
// repeated in the body so the binding is covered by the channel encryption.
type ChallengeRequest struct {
	ChannelID string    `json:"channelId"`
	NodeID    string    `json:"nodeId"`
	Timestamp time.Time `json:"timestamp"`
}

// ChallengeResponse carries single-use challenge material.
type ChallengeResponse struct {
	ChallengeData string    `json:"challengeData"`
	TTLSeconds    int       `json:"ttlSeconds"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// AuthenticateRequest completes phase 3. The signature covers
// challengeData + channelId + nodeId + timestamp.
type AuthenticateRequest struct {
	ChannelID     string    `json:"channelId"`
	NodeID        string    `json:"nodeId"`
	ChallengeData string    `json:"challengeData"`
	Signature     []byte    `json:"signature"`
	Timestamp     time.Time `json:"timestamp"`
}

// AuthenticateResponse returns the session grant.
type AuthenticateResponse struct {
	Authenticated    bool        `json:"authenticated"`
	SessionToken     string      `json:"sessionToken"`
	NodeID           string      `json:"nodeId"`
	GrantedLevel     AccessLevel `json:"grantedAccessLevel"`
	SessionExpiresAt time.Time   `json:"sessionExpiresAt"`
	NextPhase        string      `json:"nextPhase"`
}

// SessionRequest is the common body of phase-4 session operations. The
// bearer token travels inside the encrypted payload, never as a header.
type SessionRequest struct {
	SessionToken string `json:"sessionToken"`
}

// WhoAmIResponse describes the calling session.
type WhoAmIResponse struct {
	NodeID           string      `json:"nodeId"`
	ChannelID        string      `json:"channelId"`
	GrantedLevel     AccessLevel `json:"grantedAccessLevel"`
	ExpiresAt        time.Time   `json:"expiresAt"`
	RemainingSeconds int         `json:"remainingSeconds"`
	RequestCount     int64       `json:"requestCount"`
}

// SessionRenewRequest extends a session's expiry. Capability elevation is
// not possible through renewal.
type SessionRenewRequest struct {
	SessionToken      string `json:"sessionToken"`
	AdditionalSeconds int    `json:"additionalSeconds"`
}

// SessionRenewResponse reports the new expiry.
type SessionRenewResponse struct {
	ExpiresAt        time.Time `json:"expiresAt"`
	RemainingSeconds int       `json:"remainingSeconds"`
}

// SessionRevokeResponse acknowledges an explicit revocation.
type SessionRevokeResponse struct {
	Revoked bool `json:"revoked"`
}

// SessionSummary is a per-session line in the metrics response.
type SessionSummary struct {
	NodeID           string      `json:"nodeId"`
	GrantedLevel     AccessLevel `json:"grantedAccessLevel"`
	CreatedAt        time.Time   `json:"createdAt"`
	ExpiresAt        time.Time   `json:"expiresAt"`
	TotalRequests    int64       `json:"totalRequests"`
	RemainingSeconds int         `json:"remainingSeconds"`
}

// SessionMetricsResponse is the Admin-gated metrics snapshot.
type SessionMetricsResponse struct {
	ActiveSessions int              `json:"activeSessions"`
	TotalRequests  int64            `json:"totalRequests"`
	Sessions       []SessionSummary `json:"sessions,omitempty"`
}
