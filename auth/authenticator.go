package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/curanet/nodelink/identity"
	"github.com/curanet/nodelink/protocol"
	"github.com/curanet/nodelink/session"
)

// Authenticator verifies phase-3 challenge responses and issues sessions.
//
// Every failure (missing or expired challenge, data mismatch, unauthorized
// node, bad signature, stale timestamp) produces the same uniform error on
// the wire, so callers cannot tell which check failed. The precise reason
// is logged server-side.
type Authenticator struct {
	challenges *ChallengeService
	registry   *identity.Registry
	sessions   *session.Service
	cfg        *protocol.Config
	log        *slog.Logger
	now        func() time.Time
}

// NewAuthenticator wires the phase-3 verifier.
func NewAuthenticator(challenges *ChallengeService, registry *identity.Registry, sessions *session.Service, cfg *protocol.Config, log *slog.Logger) *Authenticator {
	return &Authenticator{
		challenges: challenges,
		registry:   registry,
		sessions:   sessions,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// Authenticate consumes the outstanding challenge for (channel, node) and,
// on success, creates a session at the node's currently granted access
// level. The challenge is invalidated even when authentication fails.
func (a *Authenticator) Authenticate(ctx context.Context, req *protocol.AuthenticateRequest) (*protocol.AuthenticateResponse, error) {
	fail := func(reason string, args ...any) (*protocol.AuthenticateResponse, error) {
		args = append([]any{"channelId", req.ChannelID, "nodeId", req.NodeID, "reason", reason}, args...)
		a.log.Warn("authentication failed", args...)
		return nil, protocol.ErrAuthenticationFailed()
	}

	// Consume first: a failed attempt burns the challenge too.
	challenge, ok := a.challenges.take(req.ChannelID, req.NodeID)
	if !ok {
		return fail("no unexpired challenge for this channel/node pair")
	}
	if !challenge.matches(req.ChallengeData) {
		return fail("challenge data mismatch")
	}

	if !protocol.WithinSkew(req.Timestamp, a.now(), a.cfg.TimestampSkew) {
		return fail("timestamp outside accepted window", "timestamp", req.Timestamp)
	}

	node, err := a.registry.Get(ctx, req.NodeID)
	if errors.Is(err, identity.ErrNotFound) {
		return fail("node unknown")
	}
	if err != nil {
		return nil, err
	}
	if node.Status != protocol.StatusAuthorized {
		return fail("node not authorized", "status", node.Status)
	}

	// This time the signature is checked against the registered
	// certificate, not one supplied in the request.
	cert, err := identity.ParseCertificatePEM(node.Certificate)
	if err != nil {
		return nil, err
	}
	message := protocol.ChallengeSigningString(req.ChallengeData, req.ChannelID, req.NodeID, req.Timestamp)
	if err := identity.VerifySignature(cert, []byte(message), req.Signature); err != nil {
		return fail("signature verification failed")
	}

	sess, err := a.sessions.Create(req.NodeID, req.ChannelID, node.GrantedLevel)
	if err != nil {
		return nil, err
	}
	if err := a.registry.RecordAuthentication(ctx, req.NodeID); err != nil {
		a.log.Warn("could not record authentication time", "nodeId", req.NodeID, "err", err)
	}

	a.log.Info("node authenticated",
		"nodeId", req.NodeID,
		"channelId", req.ChannelID,
		"grantedLevel", node.GrantedLevel,
		"sessionExpiresAt", sess.ExpiresAt)

	return &protocol.AuthenticateResponse{
		Authenticated:    true,
		SessionToken:     sess.Token,
		NodeID:           req.NodeID,
		GrantedLevel:     node.GrantedLevel,
		SessionExpiresAt: sess.ExpiresAt,
		NextPhase:        protocol.NextPhaseSession,
	}, nil
}
