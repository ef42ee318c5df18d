// Package protocol defines the wire messages, shared constants, and error
// taxonomy of the nodelink trust-establishment protocol.
//
// The protocol proceeds in four phases:
//
//  1. Channel open: ephemeral ECDH key exchange and cipher negotiation
//     producing a short-lived encrypted channel.
//  2. Identification: a node presents its self-issued certificate and is
//     registered as Pending until an administrator approves it.
//  3. Challenge-response: an authorized node proves possession of its
//     private key by signing a single-use challenge, yielding a session.
//  4. Session operation: every subsequent request is channel-encrypted and
//     gated by the session's capability level and rate budget.
//
// Types in this package are shared between the server handlers and the
// client; none of them hold key material.
package protocol
