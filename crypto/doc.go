// Package crypto implements the cryptographic primitives of the nodelink
// handshake: ephemeral ECDH key exchange over a pinned allow-list of curves,
// HKDF channel-key derivation, and the authenticated encryption envelope
// used for every post-handshake payload.
//
// The package never persists secrets. Shared-secret bytes are expected to be
// zeroed by callers immediately after key derivation; WithSecret provides a
// scope that guarantees zeroing on every exit path.
package crypto
