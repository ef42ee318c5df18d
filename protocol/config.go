package protocol

import "time"

// Version is the protocol version spoken by this implementation. A channel
// open request carrying any other version is rejected.
const Version = "1.0"

// KeyInfoLabel is the HKDF info string. Combined with the version it binds a
// derived channel key to exactly one protocol revision.
const KeyInfoLabel = "nodelink-channel-v" + Version

// ChannelIDHeader carries the channel identifier on every encrypted
// request and on the channel-open response.
const ChannelIDHeader = "X-Channel-Id"

// Next-phase markers returned to clients so they know how to proceed.
const (
	NextPhaseAuthenticate = "phase3_authenticate"
	NextPhaseSession      = "phase4_session"
)

// Config provides the tunable parameters of the protocol. Instances are
// constructed once and injected into the services that need them; there is
// no global configuration state.
type Config struct {
	// ChannelTTL is the fixed lifetime of an encrypted channel. Channels
	// are never extended; an expired channel requires a new handshake.
	ChannelTTL time.Duration `json:"channel_ttl,string"`

	// ChallengeTTL is the lifetime of an issued authentication challenge.
	ChallengeTTL time.Duration `json:"challenge_ttl,string"`

	// SessionTTL is the initial lifetime of a session. Sessions may be
	// renewed before expiry.
	SessionTTL time.Duration `json:"session_ttl,string"`

	// MaxRenewal caps the extension a single renew call may request.
	MaxRenewal time.Duration `json:"max_renewal,string"`

	// TimestampSkew is the tolerance applied to signed timestamps in
	// handshake and authentication messages.
	TimestampSkew time.Duration `json:"timestamp_skew,string"`

	// MinNonceSize is the minimum accepted handshake nonce length in bytes.
	MinNonceSize int `json:"min_nonce_size"`

	// DefaultRateLimit is the per-session request budget per rate window.
	DefaultRateLimit int `json:"default_rate_limit"`

	// MaintenanceRateLimit is the elevated budget granted to session
	// maintenance endpoints so a throttled client can still renew or
	// revoke its own session.
	MaintenanceRateLimit int `json:"maintenance_rate_limit"`

	// RateWindow is the width of the sliding rate-limiting window.
	RateWindow time.Duration `json:"rate_window,string"`
}

// DefaultConfig returns the protocol parameters used in production.
func DefaultConfig() *Config {
	return &Config{
		ChannelTTL:           30 * time.Minute,
		ChallengeTTL:         5 * time.Minute,
		SessionTTL:           time.Hour,
		MaxRenewal:           time.Hour,
		TimestampSkew:        5 * time.Minute,
		MinNonceSize:         16,
		DefaultRateLimit:     60,
		MaintenanceRateLimit: 600,
		RateWindow:           time.Minute,
	}
}
