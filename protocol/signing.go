package protocol

import "time"

// Signed timestamps use RFC 3339, the round-trippable ISO-8601 profile.
// Both sides must format identically or signatures will not verify.
const TimestampFormat = time.RFC3339

// IdentifySigningString reconstructs the exact byte string signed by a node
// during phase-2 identification: channelId + nodeId + timestamp.
func IdentifySigningString(channelID, nodeID string, ts time.Time) string {
	return channelID + nodeID + ts.UTC().Format(TimestampFormat)
}

// ChallengeSigningString reconstructs the phase-3 signed string:
// challengeData + channelId + nodeId + timestamp.
func ChallengeSigningString(challengeData, channelID, nodeID string, ts time.Time) string {
	return challengeData + channelID + nodeID + ts.UTC().Format(TimestampFormat)
}

// WithinSkew reports whether ts falls inside the tolerance window around
// now. The boundary itself is accepted: a timestamp exactly skew away
// passes, one second past it fails.
func WithinSkew(ts, now time.Time, skew time.Duration) bool {
	diff := now.Sub(ts)
	if diff < 0 {
		diff = -diff
	}
	return diff <= skew
}
