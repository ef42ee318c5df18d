package identity_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/curanet/nodelink/identity"
	"github.com/curanet/nodelink/protocol"
	"github.com/curanet/nodelink/testutil"
)

func setupRegistry(t *testing.T) *identity.Registry {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return identity.NewRegistry(identity.NewMemoryStore(), protocol.DefaultConfig(), log)
}

func TestRegisterNewNodeIsPending(t *testing.T) {
	registry := setupRegistry(t)
	creds := testutil.GenerateNodeCredentials(t, "node-a")

	resp, err := registry.Register(context.Background(), creds.RegistrationRequest(protocol.LevelReadWrite))
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, protocol.StatusPending, resp.Status)
	require.NotEmpty(t, resp.RegistrationID)

	node, err := registry.Get(context.Background(), "node-a")
	require.NoError(t, err)
	require.Equal(t, protocol.StatusPending, node.Status)
	require.Equal(t, protocol.LevelReadWrite, node.RequestedLevel)
	// No level is granted until approval.
	require.False(t, node.GrantedLevel.Valid())
	require.NotEmpty(t, node.Fingerprint)
}

func TestReRegisterUpdatesDescriptiveFieldsOnly(t *testing.T) {
	registry := setupRegistry(t)
	creds := testutil.GenerateNodeCredentials(t, "node-a")
	ctx := context.Background()

	_, err := registry.Register(ctx, creds.RegistrationRequest(protocol.LevelReadOnly))
	require.NoError(t, err)
	_, err = registry.Approve(ctx, "node-a")
	require.NoError(t, err)

	// Re-register with new descriptive fields and a higher requested level.
	req := creds.RegistrationRequest(protocol.LevelAdmin)
	req.NodeName = "Renamed node"
	resp, err := registry.Register(ctx, req)
	require.NoError(t, err)
	require.True(t, resp.Success)
	// The existing status is reported, not reset to Pending.
	require.Equal(t, protocol.StatusAuthorized, resp.Status)

	node, err := registry.Get(ctx, "node-a")
	require.NoError(t, err)
	require.Equal(t, "Renamed node", node.NodeName)
	require.Equal(t, protocol.LevelAdmin, node.RequestedLevel)
	// Status and granted level are untouched: no self-elevation.
	require.Equal(t, protocol.StatusAuthorized, node.Status)
	require.Equal(t, protocol.LevelReadOnly, node.GrantedLevel)
}

func TestRegisterValidation(t *testing.T) {
	registry := setupRegistry(t)
	creds := testutil.GenerateNodeCredentials(t, "node-a")
	ctx := context.Background()

	req := creds.RegistrationRequest(protocol.LevelReadOnly)
	req.NodeID = ""
	_, err := registry.Register(ctx, req)
	require.Equal(t, protocol.CodeValidation, protocol.AsProtocolError(err).Code)

	req = creds.RegistrationRequest(protocol.LevelReadOnly)
	req.NodeName = ""
	_, err = registry.Register(ctx, req)
	require.Equal(t, protocol.CodeValidation, protocol.AsProtocolError(err).Code)

	req = creds.RegistrationRequest(protocol.LevelReadOnly)
	req.Certificate = "not a certificate"
	_, err = registry.Register(ctx, req)
	require.Equal(t, protocol.CodeInvalidCertificate, protocol.AsProtocolError(err).Code)

	req = creds.RegistrationRequest("superuser")
	_, err = registry.Register(ctx, req)
	require.Equal(t, protocol.CodeValidation, protocol.AsProtocolError(err).Code)
}

func TestRegisterConflicts(t *testing.T) {
	registry := setupRegistry(t)
	ctx := context.Background()
	credsA := testutil.GenerateNodeCredentials(t, "node-a")
	credsB := testutil.GenerateNodeCredentials(t, "node-b")

	_, err := registry.Register(ctx, credsA.RegistrationRequest(protocol.LevelReadOnly))
	require.NoError(t, err)

	// Same certificate under a different node id.
	req := credsA.RegistrationRequest(protocol.LevelReadOnly)
	req.NodeID = "node-impostor"
	_, err = registry.Register(ctx, req)
	require.Equal(t, protocol.CodeValidation, protocol.AsProtocolError(err).Code)

	// Same node id under a different certificate.
	req = credsB.RegistrationRequest(protocol.LevelReadOnly)
	req.NodeID = "node-a"
	_, err = registry.Register(ctx, req)
	require.Equal(t, protocol.CodeValidation, protocol.AsProtocolError(err).Code)
}

func TestStateMachineLifecycle(t *testing.T) {
	registry := setupRegistry(t)
	ctx := context.Background()
	creds := testutil.GenerateNodeCredentials(t, "node-a")

	_, err := registry.Register(ctx, creds.RegistrationRequest(protocol.LevelReadWrite))
	require.NoError(t, err)

	node, err := registry.Approve(ctx, "node-a")
	require.NoError(t, err)
	require.Equal(t, protocol.StatusAuthorized, node.Status)
	require.Equal(t, protocol.LevelReadWrite, node.GrantedLevel)

	// Approving twice is a conflict, not a no-op.
	_, err = registry.Approve(ctx, "node-a")
	perr := protocol.AsProtocolError(err)
	require.Equal(t, protocol.CodeInvalidStateTransition, perr.Code)
	require.Equal(t, "authorized", perr.Details["from"])

	node, err = registry.UpdateStatus(ctx, "node-a", protocol.StatusRevoked)
	require.NoError(t, err)
	require.Equal(t, protocol.StatusRevoked, node.Status)

	// Approve on a revoked node is rejected.
	_, err = registry.Approve(ctx, "node-a")
	require.Equal(t, protocol.CodeInvalidStateTransition, protocol.AsProtocolError(err).Code)

	// So is re-authorizing through the generic status endpoint.
	_, err = registry.UpdateStatus(ctx, "node-a", protocol.StatusAuthorized)
	require.Equal(t, protocol.CodeInvalidStateTransition, protocol.AsProtocolError(err).Code)
}

func TestRejectOnlyFromPending(t *testing.T) {
	registry := setupRegistry(t)
	ctx := context.Background()
	creds := testutil.GenerateNodeCredentials(t, "node-a")

	_, err := registry.Register(ctx, creds.RegistrationRequest(protocol.LevelReadOnly))
	require.NoError(t, err)

	node, err := registry.Reject(ctx, "node-a")
	require.NoError(t, err)
	require.Equal(t, protocol.StatusRevoked, node.Status)

	_, err = registry.Reject(ctx, "node-a")
	require.Equal(t, protocol.CodeInvalidStateTransition, protocol.AsProtocolError(err).Code)
}

func TestTransitionsOnUnknownNode(t *testing.T) {
	registry := setupRegistry(t)
	ctx := context.Background()

	_, err := registry.Approve(ctx, "node-ghost")
	require.Equal(t, protocol.CodeNodeNotFound, protocol.AsProtocolError(err).Code)

	_, err = registry.UpdateStatus(ctx, "node-ghost", protocol.StatusRevoked)
	require.Equal(t, protocol.CodeNodeNotFound, protocol.AsProtocolError(err).Code)
}

func TestVerifyIdentification(t *testing.T) {
	registry := setupRegistry(t)
	creds := testutil.GenerateNodeCredentials(t, "node-a")
	now := time.Now()

	req := &protocol.NodeIdentifyRequest{
		NodeID:      "node-a",
		Certificate: creds.CertificatePEM,
		Signature:   creds.SignIdentify(t, "chan-1", now),
		Timestamp:   now,
	}
	require.NoError(t, registry.VerifyIdentification("chan-1", req))

	// A signature bound to another channel must not verify.
	require.Error(t, registry.VerifyIdentification("chan-2", req))

	// A replayed old message is rejected on the timestamp window alone.
	old := now.Add(-6 * time.Minute)
	stale := &protocol.NodeIdentifyRequest{
		NodeID:      "node-a",
		Certificate: creds.CertificatePEM,
		Signature:   creds.SignIdentify(t, "chan-1", old),
		Timestamp:   old,
	}
	err := registry.VerifyIdentification("chan-1", stale)
	require.Equal(t, protocol.CodeInvalidTimestamp, protocol.AsProtocolError(err).Code)

	// A signature from a different key fails.
	other := testutil.GenerateNodeCredentials(t, "node-a")
	forged := &protocol.NodeIdentifyRequest{
		NodeID:      "node-a",
		Certificate: creds.CertificatePEM,
		Signature:   other.SignIdentify(t, "chan-1", now),
		Timestamp:   now,
	}
	require.Error(t, registry.VerifyIdentification("chan-1", forged))
}

func TestIdentifyUpdatesLastSeen(t *testing.T) {
	registry := setupRegistry(t)
	ctx := context.Background()
	creds := testutil.GenerateNodeCredentials(t, "node-a")

	_, err := registry.Register(ctx, creds.RegistrationRequest(protocol.LevelReadOnly))
	require.NoError(t, err)

	node, err := registry.Identify(ctx, "node-a")
	require.NoError(t, err)
	require.False(t, node.LastSeenAt.IsZero())

	_, err = registry.Identify(ctx, "node-ghost")
	require.ErrorIs(t, err, identity.ErrNotFound)
}
