// Package client implements the caller's side of the nodelink protocol:
// channel handshake, registration and identification, challenge-response
// authentication, and session operations over the encrypted envelope.
package client

import (
	"bytes"
	"context"
	stdcrypto "crypto"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/curanet/nodelink/channel"
	nlcrypto "github.com/curanet/nodelink/crypto"
	"github.com/curanet/nodelink/identity"
	"github.com/curanet/nodelink/protocol"
)

// Config describes the remote peer and this node's credentials.
type Config struct {
	// BaseURL is the peer's protocol endpoint, without trailing slash.
	BaseURL string

	// Node identity presented during registration.
	NodeID             string
	NodeName           string
	ContactInfo        string
	InstitutionDetails string
	NodeURL            string
	RequestedLevel     protocol.AccessLevel

	// Signer holds the private key matching CertificatePEM.
	Signer         stdcrypto.Signer
	CertificatePEM string

	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client

	// Log defaults to slog.Default().
	Log *slog.Logger
}

// Node is a protocol client bound to one remote peer. It holds at most one
// channel and one session at a time; both are replaced by reconnecting.
type Node struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger

	mu           sync.Mutex
	channelID    string
	channelKey   []byte
	cipher       nlcrypto.CipherSuite
	sessionToken string
}

// New validates the configuration and returns an unconnected client.
func New(cfg Config) (*Node, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("node id is required")
	}
	if cfg.Signer == nil || cfg.CertificatePEM == "" {
		return nil, fmt.Errorf("signer and certificate are required")
	}
	if cfg.RequestedLevel == "" {
		cfg.RequestedLevel = protocol.LevelReadOnly
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Node{cfg: cfg, http: httpClient, log: log}, nil
}

// OpenChannel performs the phase-1 handshake and replaces any previous
// channel state. The raw shared secret never outlives key derivation.
func (n *Node) OpenChannel(ctx context.Context) error {
	priv, err := nlcrypto.GenerateEphemeralKeyPair(nlcrypto.ECDHP384)
	if err != nil {
		return err
	}
	nonce, err := nlcrypto.GenerateNonce(nlcrypto.HandshakeNonceSize)
	if err != nil {
		return err
	}

	offered := make([]string, 0, len(nlcrypto.SupportedCiphers()))
	for _, suite := range nlcrypto.SupportedCiphers() {
		offered = append(offered, string(suite))
	}
	req := &protocol.ChannelOpenRequest{
		Version:              protocol.Version,
		EphemeralPublicKey:   nlcrypto.ExportPublicKey(priv.PublicKey()),
		KeyExchangeAlgorithm: string(nlcrypto.ECDHP384),
		SupportedCiphers:     offered,
		Nonce:                nonce,
		Timestamp:            time.Now().UTC(),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.BaseURL+"/channel/open", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := n.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return decodeErrorResponse(httpResp)
	}

	channelID := httpResp.Header.Get(protocol.ChannelIDHeader)
	if channelID == "" {
		return fmt.Errorf("handshake response missing %s header", protocol.ChannelIDHeader)
	}
	var resp protocol.ChannelOpenResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return fmt.Errorf("malformed handshake response: %w", err)
	}

	serverPub, err := nlcrypto.ImportPublicKey(resp.EphemeralPublicKey, nlcrypto.ECDHP384)
	if err != nil {
		return err
	}
	shared, err := nlcrypto.DeriveSharedSecret(priv, serverPub)
	if err != nil {
		return err
	}
	// DeriveClientKey zeroes the shared secret on every path.
	key, err := channel.DeriveClientKey(shared, nonce, resp.Nonce)
	if err != nil {
		return err
	}

	n.mu.Lock()
	if n.channelKey != nil {
		nlcrypto.Zeroize(n.channelKey)
	}
	n.channelID = channelID
	n.channelKey = key
	n.cipher = nlcrypto.CipherSuite(resp.SelectedCipher)
	n.sessionToken = ""
	n.mu.Unlock()

	n.log.Info("channel opened", "channelId", channelID, "cipher", resp.SelectedCipher)
	return nil
}

// ChannelID returns the current channel identifier, empty if no channel is
// open.
func (n *Node) ChannelID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.channelID
}

// Register submits this node's identity for administrator approval.
func (n *Node) Register(ctx context.Context) (*protocol.NodeRegistrationResponse, error) {
	req := &protocol.NodeRegistrationRequest{
		NodeID:             n.cfg.NodeID,
		NodeName:           n.cfg.NodeName,
		Certificate:        n.cfg.CertificatePEM,
		ContactInfo:        n.cfg.ContactInfo,
		InstitutionDetails: n.cfg.InstitutionDetails,
		NodeURL:            n.cfg.NodeURL,
		RequestedLevel:     n.cfg.RequestedLevel,
	}
	var resp protocol.NodeRegistrationResponse
	if err := n.postEncrypted(ctx, "/node/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Identify asks the peer whether this node is known and how to proceed.
func (n *Node) Identify(ctx context.Context) (*protocol.NodeIdentifyResponse, error) {
	channelID := n.ChannelID()
	ts := time.Now().UTC()
	sig, err := identity.SignMessage(n.cfg.Signer,
		[]byte(protocol.IdentifySigningString(channelID, n.cfg.NodeID, ts)))
	if err != nil {
		return nil, err
	}
	req := &protocol.NodeIdentifyRequest{
		NodeID:      n.cfg.NodeID,
		Certificate: n.cfg.CertificatePEM,
		Signature:   sig,
		Timestamp:   ts,
	}
	var resp protocol.NodeIdentifyResponse
	if err := n.postEncrypted(ctx, "/node/identify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestChallenge asks for phase-3 challenge material.
func (n *Node) RequestChallenge(ctx context.Context) (*protocol.ChallengeResponse, error) {
	req := &protocol.ChallengeRequest{
		ChannelID: n.ChannelID(),
		NodeID:    n.cfg.NodeID,
		Timestamp: time.Now().UTC(),
	}
	var resp protocol.ChallengeResponse
	if err := n.postEncrypted(ctx, "/node/challenge", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Authenticate signs the challenge and, on success, stores the granted
// session token for subsequent session operations.
func (n *Node) Authenticate(ctx context.Context, challengeData string) (*protocol.AuthenticateResponse, error) {
	channelID := n.ChannelID()
	ts := time.Now().UTC()
	sig, err := identity.SignMessage(n.cfg.Signer,
		[]byte(protocol.ChallengeSigningString(challengeData, channelID, n.cfg.NodeID, ts)))
	if err != nil {
		return nil, err
	}
	req := &protocol.AuthenticateRequest{
		ChannelID:     channelID,
		NodeID:        n.cfg.NodeID,
		ChallengeData: challengeData,
		Signature:     sig,
		Timestamp:     ts,
	}
	var resp protocol.AuthenticateResponse
	if err := n.postEncrypted(ctx, "/node/authenticate", req, &resp); err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.sessionToken = resp.SessionToken
	n.mu.Unlock()
	return &resp, nil
}

// EstablishSession runs the full protocol: open a channel, identify (and
// register when unknown), then authenticate. It fails with the identify
// status when the node is not yet authorized, since approval is an
// out-of-band administrator action.
func (n *Node) EstablishSession(ctx context.Context) (*protocol.AuthenticateResponse, error) {
	if err := n.OpenChannel(ctx); err != nil {
		return nil, err
	}
	ident, err := n.Identify(ctx)
	if err != nil {
		return nil, err
	}
	if !ident.IsKnown {
		if _, err := n.Register(ctx); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("node registered, awaiting administrator approval")
	}
	if ident.Status != protocol.StatusAuthorized {
		return nil, fmt.Errorf("node is %s, cannot authenticate", ident.Status)
	}
	challenge, err := n.RequestChallenge(ctx)
	if err != nil {
		return nil, err
	}
	return n.Authenticate(ctx, challenge.ChallengeData)
}

// WhoAmI describes the current session as the peer sees it.
func (n *Node) WhoAmI(ctx context.Context) (*protocol.WhoAmIResponse, error) {
	var resp protocol.WhoAmIResponse
	if err := n.postEncrypted(ctx, "/session/whoami", n.sessionRequest(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RenewSession extends the session expiry by the given duration.
func (n *Node) RenewSession(ctx context.Context, additional time.Duration) (*protocol.SessionRenewResponse, error) {
	req := &protocol.SessionRenewRequest{
		SessionToken:      n.token(),
		AdditionalSeconds: int(additional.Seconds()),
	}
	var resp protocol.SessionRenewResponse
	if err := n.postEncrypted(ctx, "/session/renew", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RevokeSession explicitly ends the session and forgets the token.
func (n *Node) RevokeSession(ctx context.Context) error {
	var resp protocol.SessionRevokeResponse
	if err := n.postEncrypted(ctx, "/session/revoke", n.sessionRequest(), &resp); err != nil {
		return err
	}
	n.mu.Lock()
	n.sessionToken = ""
	n.mu.Unlock()
	return nil
}

// SessionMetrics fetches the admin-gated session snapshot.
func (n *Node) SessionMetrics(ctx context.Context) (*protocol.SessionMetricsResponse, error) {
	var resp protocol.SessionMetricsResponse
	if err := n.postEncrypted(ctx, "/session/metrics", n.sessionRequest(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Call posts an arbitrary payload to a session-gated endpoint on the peer.
// The session token is injected into the payload before encryption; this is
// the surface higher layers use for their own channel-encrypted requests.
func (n *Node) Call(ctx context.Context, path string, payload map[string]any, out any) error {
	if payload == nil {
		payload = make(map[string]any, 1)
	}
	payload["sessionToken"] = n.token()
	return n.postEncrypted(ctx, path, payload, out)
}

func (n *Node) token() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessionToken
}

func (n *Node) sessionRequest() *protocol.SessionRequest {
	return &protocol.SessionRequest{SessionToken: n.token()}
}

// postEncrypted sends body inside the channel envelope and decrypts the
// response into out. Error responses arrive in the clear.
func (n *Node) postEncrypted(ctx context.Context, path string, body, out any) error {
	n.mu.Lock()
	channelID, key, cipher := n.channelID, n.channelKey, n.cipher
	n.mu.Unlock()
	if channelID == "" {
		return fmt.Errorf("no open channel, call OpenChannel first")
	}

	envelope, err := nlcrypto.EncryptJSON(body, key, cipher)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(protocol.ChannelIDHeader, channelID)

	httpResp, err := n.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return decodeErrorResponse(httpResp)
	}

	var respEnvelope nlcrypto.EncryptedPayload
	if err := json.NewDecoder(httpResp.Body).Decode(&respEnvelope); err != nil {
		return fmt.Errorf("malformed response envelope: %w", err)
	}
	plaintext, err := nlcrypto.DecryptPayload(&respEnvelope, key, cipher)
	if err != nil {
		return err
	}
	return json.Unmarshal(plaintext, out)
}

// decodeErrorResponse turns a wire error envelope back into a typed
// protocol error so callers can switch on the code.
func decodeErrorResponse(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("peer returned status %d", resp.StatusCode)
	}
	var envelope protocol.ErrorEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Code == "" {
		return fmt.Errorf("peer returned status %d", resp.StatusCode)
	}
	return &protocol.Error{
		Code:       envelope.Error.Code,
		Message:    envelope.Error.Message,
		Details:    envelope.Error.Details,
		HTTPStatus: resp.StatusCode,
		Retryable:  envelope.Error.Retryable,
		RetryAfter: envelope.Error.RetryAfter,
	}
}
