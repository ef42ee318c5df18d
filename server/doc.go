// Package server implements the nodelink HTTP surface: the plaintext channel
// handshake endpoint, the channel-encrypted protocol endpoints for
// registration and authentication, session-gated operations, and the
// administrative node-approval plane.
//
// All protocol endpoints past /channel/open run behind the channel guard,
// which resolves the X-Channel-Id header, decrypts the request envelope, and
// encrypts every successful response with the channel key. Session endpoints
// additionally run behind the session guard, which validates the bearer token
// carried inside the decrypted payload, enforces the endpoint's minimum
// capability level, and charges the request against the session's rate
// budget. Error responses are always sent in the clear so a caller whose
// envelope failed integrity checks can still read the failure.
package server
