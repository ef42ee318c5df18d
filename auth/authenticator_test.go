package auth_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/curanet/nodelink/auth"
	"github.com/curanet/nodelink/identity"
	"github.com/curanet/nodelink/protocol"
	"github.com/curanet/nodelink/session"
	"github.com/curanet/nodelink/testutil"
)

type fixture struct {
	registry   *identity.Registry
	challenges *auth.ChallengeService
	auth       *auth.Authenticator
	sessions   *session.Service
	creds      *testutil.NodeCredentials
}

// setup registers and approves node-a so it is ready for phase 3.
func setup(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := protocol.DefaultConfig()
	ctx := context.Background()

	registry := identity.NewRegistry(identity.NewMemoryStore(), cfg, log)
	sessions := session.NewService(cfg, log)
	challenges := auth.NewChallengeService(registry, cfg, log)
	t.Cleanup(challenges.Close)

	creds := testutil.GenerateNodeCredentials(t, "node-a")
	_, err := registry.Register(ctx, creds.RegistrationRequest(protocol.LevelReadWrite))
	require.NoError(t, err)
	_, err = registry.Approve(ctx, "node-a")
	require.NoError(t, err)

	return &fixture{
		registry:   registry,
		challenges: challenges,
		auth:       auth.NewAuthenticator(challenges, registry, sessions, cfg, log),
		sessions:   sessions,
		creds:      creds,
	}
}

func (f *fixture) authRequest(t *testing.T, challengeData string) *protocol.AuthenticateRequest {
	t.Helper()
	now := time.Now()
	return &protocol.AuthenticateRequest{
		ChannelID:     "chan-1",
		NodeID:        "node-a",
		ChallengeData: challengeData,
		Signature:     f.creds.SignChallenge(t, challengeData, "chan-1", now),
		Timestamp:     now,
	}
}

func TestIssueRequiresAuthorizedNode(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// node-b is only Pending.
	credsB := testutil.GenerateNodeCredentials(t, "node-b")
	_, err := f.registry.Register(ctx, credsB.RegistrationRequest(protocol.LevelReadOnly))
	require.NoError(t, err)
	_, err = f.challenges.Issue(ctx, "chan-1", "node-b")
	require.Equal(t, protocol.CodeNodeNotAuthorized, protocol.AsProtocolError(err).Code)

	// Unknown nodes 404.
	_, err = f.challenges.Issue(ctx, "chan-1", "node-ghost")
	require.Equal(t, protocol.CodeNodeNotFound, protocol.AsProtocolError(err).Code)

	// Authorized nodes get challenge material with the configured TTL.
	resp, err := f.challenges.Issue(ctx, "chan-1", "node-a")
	require.NoError(t, err)
	require.NotEmpty(t, resp.ChallengeData)
	require.Equal(t, 300, resp.TTLSeconds)
}

func TestAuthenticateHappyPath(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	challenge, err := f.challenges.Issue(ctx, "chan-1", "node-a")
	require.NoError(t, err)

	resp, err := f.auth.Authenticate(ctx, f.authRequest(t, challenge.ChallengeData))
	require.NoError(t, err)
	require.True(t, resp.Authenticated)
	require.Equal(t, protocol.NextPhaseSession, resp.NextPhase)
	require.Equal(t, protocol.LevelReadWrite, resp.GrantedLevel)

	// The session is live and carries the node's granted level.
	sess, ok := f.sessions.Validate(resp.SessionToken)
	require.True(t, ok)
	require.Equal(t, "node-a", sess.NodeID)
	require.Equal(t, protocol.LevelReadWrite, sess.Level)

	node, err := f.registry.Get(ctx, "node-a")
	require.NoError(t, err)
	require.False(t, node.LastAuthenticated.IsZero())
}

func TestChallengeIsSingleUse(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	challenge, err := f.challenges.Issue(ctx, "chan-1", "node-a")
	require.NoError(t, err)

	_, err = f.auth.Authenticate(ctx, f.authRequest(t, challenge.ChallengeData))
	require.NoError(t, err)

	// Replaying the same challenge fails: it was consumed.
	_, err = f.auth.Authenticate(ctx, f.authRequest(t, challenge.ChallengeData))
	require.Equal(t, protocol.CodeAuthenticationFailed, protocol.AsProtocolError(err).Code)
}

func TestFailedAttemptConsumesChallenge(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	challenge, err := f.challenges.Issue(ctx, "chan-1", "node-a")
	require.NoError(t, err)

	// Wrong challenge data: fails and burns the outstanding challenge.
	_, err = f.auth.Authenticate(ctx, f.authRequest(t, "d2hhdGV2ZXI="))
	require.Equal(t, protocol.CodeAuthenticationFailed, protocol.AsProtocolError(err).Code)

	// The correct data no longer works either.
	_, err = f.auth.Authenticate(ctx, f.authRequest(t, challenge.ChallengeData))
	require.Equal(t, protocol.CodeAuthenticationFailed, protocol.AsProtocolError(err).Code)
}

func TestAuthenticateFailuresAreUniform(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// No challenge issued at all.
	_, errNoChallenge := f.auth.Authenticate(ctx, f.authRequest(t, "x"))

	// Bad signature.
	challenge, err := f.challenges.Issue(ctx, "chan-1", "node-a")
	require.NoError(t, err)
	req := f.authRequest(t, challenge.ChallengeData)
	req.Signature = []byte("garbage")
	_, errBadSig := f.auth.Authenticate(ctx, req)

	// Stale timestamp.
	challenge, err = f.challenges.Issue(ctx, "chan-1", "node-a")
	require.NoError(t, err)
	old := time.Now().Add(-10 * time.Minute)
	_, errStale := f.auth.Authenticate(ctx, &protocol.AuthenticateRequest{
		ChannelID:     "chan-1",
		NodeID:        "node-a",
		ChallengeData: challenge.ChallengeData,
		Signature:     f.creds.SignChallenge(t, challenge.ChallengeData, "chan-1", old),
		Timestamp:     old,
	})

	// Every failure mode is indistinguishable on the wire.
	for _, err := range []error{errNoChallenge, errBadSig, errStale} {
		perr := protocol.AsProtocolError(err)
		require.Equal(t, protocol.CodeAuthenticationFailed, perr.Code)
		require.Equal(t, "authentication failed", perr.Message)
		require.Empty(t, perr.Details)
	}
}

func TestChallengeBoundToChannelAndNode(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	challenge, err := f.challenges.Issue(ctx, "chan-1", "node-a")
	require.NoError(t, err)

	// Present the challenge on a different channel.
	now := time.Now()
	_, err = f.auth.Authenticate(ctx, &protocol.AuthenticateRequest{
		ChannelID:     "chan-2",
		NodeID:        "node-a",
		ChallengeData: challenge.ChallengeData,
		Signature:     f.creds.SignChallenge(t, challenge.ChallengeData, "chan-2", now),
		Timestamp:     now,
	})
	require.Equal(t, protocol.CodeAuthenticationFailed, protocol.AsProtocolError(err).Code)
}

func TestAuthenticateRevokedNode(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	challenge, err := f.challenges.Issue(ctx, "chan-1", "node-a")
	require.NoError(t, err)

	// Revocation between challenge and response closes the door.
	_, err = f.registry.UpdateStatus(ctx, "node-a", protocol.StatusRevoked)
	require.NoError(t, err)

	_, err = f.auth.Authenticate(ctx, f.authRequest(t, challenge.ChallengeData))
	require.Equal(t, protocol.CodeAuthenticationFailed, protocol.AsProtocolError(err).Code)
}
