// Package cmd provides the nodelink command-line binaries.
//
// # Commands
//
// nodelink: Runs a research-node protocol endpoint. Serves the channel
// handshake, registration/identification, challenge-response authentication
// and session endpoints, plus the token-guarded administrative plane.
//
//	go run ./cmd/nodelink --listen=:8080 --admin-token=secret
//	go run ./cmd/nodelink --listen=:8080 --metrics=:9090 --db-host=localhost --db-name=nodelink
//
// nodelink-client: Drives the four protocol phases against a remote peer
// from the command line. Useful for registering a node, checking its
// authorization status, and smoke-testing an endpoint.
//
//	go run ./cmd/nodelink-client --peer=http://localhost:8080 --node-id=node-a --key=node-a.pem register
//	go run ./cmd/nodelink-client --peer=http://localhost:8080 --node-id=node-a --key=node-a.pem whoami
//
// Identity keys are PEM-encoded ECDSA private keys; both commands generate
// and persist a fresh key and self-signed certificate when the configured
// files do not exist yet.
package cmd
