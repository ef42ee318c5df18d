package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/curanet/nodelink/protocol"
)

// Registry is the node identity service behind phases 2 and 3. It enforces
// the authorization state machine and verifies identification signatures.
type Registry struct {
	store Store
	cfg   *protocol.Config
	log   *slog.Logger
	now   func() time.Time
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store Store, cfg *protocol.Config, log *slog.Logger) *Registry {
	return &Registry{store: store, cfg: cfg, log: log, now: time.Now}
}

// Register handles a phase-2 registration request.
//
// A previously unseen certificate fingerprint creates a new identity in
// Pending status. A known fingerprint updates descriptive metadata only;
// status and granted level are never touched by re-registration, and the
// existing status is returned.
func (r *Registry) Register(ctx context.Context, req *protocol.NodeRegistrationRequest) (*protocol.NodeRegistrationResponse, error) {
	if req.NodeID == "" {
		return nil, protocol.NewValidationError("nodeId is required")
	}
	if req.NodeName == "" {
		return nil, protocol.NewValidationError("nodeName is required")
	}
	if !req.RequestedLevel.Valid() {
		return nil, protocol.NewValidationError("unrecognized requested access level %q", req.RequestedLevel)
	}

	cert, err := ParseCertificatePEM(req.Certificate)
	if err != nil {
		return nil, certificateError(err)
	}
	now := r.now()
	if err := CheckValidity(cert, now); err != nil {
		return nil, certificateError(err)
	}
	fingerprint := Fingerprint(cert)

	existing, err := r.store.GetByFingerprint(ctx, fingerprint)
	switch {
	case err == nil:
		// Known fingerprint: descriptive update only.
		if existing.NodeID != req.NodeID {
			return nil, protocol.NewValidationError("certificate already registered to a different node")
		}
		existing.NodeName = req.NodeName
		existing.ContactInfo = req.ContactInfo
		existing.InstitutionDetails = req.InstitutionDetails
		existing.NodeURL = req.NodeURL
		existing.RequestedLevel = req.RequestedLevel
		existing.UpdatedAt = now
		if err := r.store.Save(ctx, existing); err != nil {
			return nil, err
		}
		r.log.Info("node re-registered", "nodeId", existing.NodeID, "status", existing.Status)
		return &protocol.NodeRegistrationResponse{
			Success:        true,
			Status:         existing.Status,
			RegistrationID: existing.RegistrationID,
			Message:        "registration updated",
		}, nil

	case errors.Is(err, ErrNotFound):
		// New fingerprint; the node id must also be unclaimed.
		if _, err := r.store.GetByNodeID(ctx, req.NodeID); err == nil {
			return nil, protocol.NewValidationError("node id already registered with a different certificate")
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		node := &NodeIdentity{
			NodeID:             req.NodeID,
			NodeName:           req.NodeName,
			Certificate:        req.Certificate,
			Fingerprint:        fingerprint,
			ContactInfo:        req.ContactInfo,
			InstitutionDetails: req.InstitutionDetails,
			NodeURL:            req.NodeURL,
			RequestedLevel:     req.RequestedLevel,
			Status:             protocol.StatusPending,
			RegistrationID:     uuid.NewString(),
			RegisteredAt:       now,
			UpdatedAt:          now,
		}
		if err := r.store.Save(ctx, node); err != nil {
			return nil, err
		}
		r.log.Info("node registered", "nodeId", node.NodeID, "fingerprint", fingerprint)
		return &protocol.NodeRegistrationResponse{
			Success:        true,
			Status:         protocol.StatusPending,
			RegistrationID: node.RegistrationID,
			Message:        "registration pending administrator approval",
		}, nil

	default:
		return nil, err
	}
}

// Identify is a pure lookup apart from last-seen bookkeeping. Unknown nodes
// return ErrNotFound, which callers translate to isKnown=false rather than
// an error response.
func (r *Registry) Identify(ctx context.Context, nodeID string) (*NodeIdentity, error) {
	node, err := r.store.GetByNodeID(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	node.LastSeenAt = r.now()
	if err := r.store.Save(ctx, node); err != nil {
		r.log.Warn("could not persist last-seen time", "nodeId", nodeID, "err", err)
	}
	return node, nil
}

// VerifyIdentification checks a phase-2 identification signature. The
// signed string is channelId + nodeId + timestamp and it is verified
// against the certificate presented in the request itself; trust comes
// from the pinned fingerprint later, not from our backing store here.
// Timestamps outside the skew window are rejected to stop replays.
func (r *Registry) VerifyIdentification(channelID string, req *protocol.NodeIdentifyRequest) error {
	cert, err := ParseCertificatePEM(req.Certificate)
	if err != nil {
		return certificateError(err)
	}
	if err := CheckValidity(cert, r.now()); err != nil {
		return certificateError(err)
	}
	if !protocol.WithinSkew(req.Timestamp, r.now(), r.cfg.TimestampSkew) {
		return protocol.NewProtocolError(protocol.CodeInvalidTimestamp,
			"timestamp outside the accepted window", false)
	}

	message := protocol.IdentifySigningString(channelID, req.NodeID, req.Timestamp)
	if err := VerifySignature(cert, []byte(message), req.Signature); err != nil {
		return protocol.NewProtocolError(protocol.CodeValidation,
			"identification signature invalid", false)
	}
	return nil
}

// Approve moves a Pending node to Authorized and grants its requested
// access level. Any other source status is a typed state conflict.
func (r *Registry) Approve(ctx context.Context, nodeID string) (*NodeIdentity, error) {
	return r.transition(ctx, nodeID, protocol.StatusAuthorized, func(node *NodeIdentity) error {
		if node.Status != protocol.StatusPending {
			return protocol.ErrStateConflict(node.Status, protocol.StatusAuthorized)
		}
		node.GrantedLevel = node.RequestedLevel
		return nil
	})
}

// Reject refuses a Pending node, moving it to Revoked.
func (r *Registry) Reject(ctx context.Context, nodeID string) (*NodeIdentity, error) {
	return r.transition(ctx, nodeID, protocol.StatusRevoked, func(node *NodeIdentity) error {
		if node.Status != protocol.StatusPending {
			return protocol.ErrStateConflict(node.Status, protocol.StatusRevoked)
		}
		return nil
	})
}

// UpdateStatus applies an arbitrary administrative status change, gated by
// the state machine. Existing sessions survive a revocation until they
// expire or are revoked themselves.
func (r *Registry) UpdateStatus(ctx context.Context, nodeID string, target protocol.NodeStatus) (*NodeIdentity, error) {
	if !target.Valid() {
		return nil, protocol.NewValidationError("unrecognized target status %q", target)
	}
	return r.transition(ctx, nodeID, target, func(node *NodeIdentity) error {
		if !node.Status.CanTransitionTo(target) {
			return protocol.ErrStateConflict(node.Status, target)
		}
		if target == protocol.StatusAuthorized {
			node.GrantedLevel = node.RequestedLevel
		}
		return nil
	})
}

// RecordAuthentication stamps a successful phase-3 authentication.
func (r *Registry) RecordAuthentication(ctx context.Context, nodeID string) error {
	node, err := r.store.GetByNodeID(ctx, nodeID)
	if err != nil {
		return err
	}
	node.LastAuthenticated = r.now()
	return r.store.Save(ctx, node)
}

// List returns all known identities for the administrative surface.
func (r *Registry) List(ctx context.Context) ([]*NodeIdentity, error) {
	return r.store.List(ctx)
}

// Get returns a single identity without bookkeeping side effects.
func (r *Registry) Get(ctx context.Context, nodeID string) (*NodeIdentity, error) {
	return r.store.GetByNodeID(ctx, nodeID)
}

func (r *Registry) transition(ctx context.Context, nodeID string, target protocol.NodeStatus, apply func(*NodeIdentity) error) (*NodeIdentity, error) {
	node, err := r.store.GetByNodeID(ctx, nodeID)
	if errors.Is(err, ErrNotFound) {
		return nil, protocol.ErrNodeNotFound(nodeID)
	}
	if err != nil {
		return nil, err
	}

	from := node.Status
	if err := apply(node); err != nil {
		return nil, err
	}
	node.Status = target
	node.UpdatedAt = r.now()

	if err := r.store.Save(ctx, node); err != nil {
		return nil, err
	}
	r.log.Info("node status changed", "nodeId", nodeID, "from", from, "to", target)
	return node, nil
}

func certificateError(err error) *protocol.Error {
	perr := protocol.NewProtocolError(protocol.CodeInvalidCertificate, "invalid certificate", false)
	switch {
	case errors.Is(err, ErrCertificateNotYetValid):
		perr.Message = "certificate not yet valid"
	case errors.Is(err, ErrCertificateExpired):
		perr.Message = "certificate expired"
	}
	return perr
}
