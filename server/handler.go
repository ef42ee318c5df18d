package server

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/curanet/nodelink/auth"
	"github.com/curanet/nodelink/channel"
	"github.com/curanet/nodelink/identity"
	"github.com/curanet/nodelink/metrics"
	"github.com/curanet/nodelink/protocol"
	"github.com/curanet/nodelink/session"
)

// Handler wires the protocol services into the HTTP router. It implements
// httpserver.RouteRegistrar.
type Handler struct {
	cfg        *protocol.Config
	channels   *channel.Service
	registry   *identity.Registry
	challenges *auth.ChallengeService
	auth       *auth.Authenticator
	sessions   *session.Service
	log        *slog.Logger
	now        func() time.Time

	// adminToken guards the administrative plane. An empty token disables
	// it entirely.
	adminToken string
}

// NewHandler creates the protocol handler.
func NewHandler(cfg *protocol.Config, channels *channel.Service, registry *identity.Registry,
	challenges *auth.ChallengeService, authenticator *auth.Authenticator,
	sessions *session.Service, adminToken string, log *slog.Logger,
) *Handler {
	return &Handler{
		cfg:        cfg,
		channels:   channels,
		registry:   registry,
		challenges: challenges,
		auth:       authenticator,
		sessions:   sessions,
		adminToken: adminToken,
		log:        log,
		now:        time.Now,
	}
}

// RegisterRoutes registers the protocol and administrative endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/channel/open", h.handleChannelOpen)

	// Everything past the handshake travels inside the encrypted envelope.
	r.Group(func(r chi.Router) {
		r.Use(h.ChannelGuard)
		r.Post("/node/register", h.handleNodeRegister)
		r.Post("/node/identify", h.handleNodeIdentify)
		r.Post("/node/challenge", h.handleChallenge)
		r.Post("/node/authenticate", h.handleAuthenticate)

		r.Group(func(r chi.Router) {
			r.Use(h.SessionGuard(protocol.LevelReadOnly, h.cfg.MaintenanceRateLimit))
			r.Post("/session/whoami", h.handleWhoAmI)
			r.Post("/session/renew", h.handleSessionRenew)
			r.Post("/session/revoke", h.handleSessionRevoke)
		})
		r.With(h.SessionGuard(protocol.LevelAdmin, 0)).Post("/session/metrics", h.handleSessionMetrics)
	})

	// Administrative plane. Plaintext, guarded by a static token, reachable
	// from operator tooling only.
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedMethods: []string{"GET", "POST", "PUT"},
			AllowedHeaders: []string{"Content-Type", "X-Admin-Token"},
		}))
		r.Use(h.AdminGuard)
		r.Get("/nodes", h.handleNodeList)
		r.Get("/node/{nodeID}", h.handleNodeGet)
		r.Put("/node/{nodeID}/status", h.handleNodeStatusUpdate)
		r.Post("/node/{nodeID}/approve", h.handleNodeApprove)
		r.Post("/node/{nodeID}/reject", h.handleNodeReject)
	})
}

// AdminGuard requires the static administrative token. When no token is
// configured the whole plane is disabled.
func (h *Handler) AdminGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get("X-Admin-Token")
		if h.adminToken == "" ||
			subtle.ConstantTimeCompare([]byte(presented), []byte(h.adminToken)) != 1 {
			writeError(w, h.log, &protocol.Error{
				Code:       protocol.CodeInsufficientPermissions,
				Message:    "administrative access denied",
				HTTPStatus: http.StatusForbidden,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleChannelOpen performs the phase-1 handshake. This is the only
// protocol endpoint that speaks plaintext JSON.
func (h *Handler) handleChannelOpen(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req protocol.ChannelOpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, protocol.NewValidationError("malformed handshake request"))
		return
	}

	resp, channelID, err := h.channels.Open(&req)
	if err != nil {
		metrics.HandshakeFailures.WithLabelValues(protocol.AsProtocolError(err).Code).Inc()
		writeError(w, h.log, err)
		return
	}
	metrics.ChannelsOpened.WithLabelValues(resp.SelectedCipher).Inc()

	w.Header().Set(protocol.ChannelIDHeader, channelID)
	writeJSON(w, h.log, http.StatusOK, resp)
}

func (h *Handler) handleNodeRegister(w http.ResponseWriter, r *http.Request) {
	req, err := decodePayload[protocol.NodeRegistrationRequest](r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	resp, err := h.registry.Register(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	ch, _ := ChannelFromContext(r.Context())
	h.writeEncrypted(w, ch, http.StatusOK, resp)
}

// handleNodeIdentify answers "do you know me". The signature is verified
// against the certificate presented in the request; the lookup result is
// advisory and nextPhase is set only for Authorized nodes.
func (h *Handler) handleNodeIdentify(w http.ResponseWriter, r *http.Request) {
	req, err := decodePayload[protocol.NodeIdentifyRequest](r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	ch, _ := ChannelFromContext(r.Context())

	if err := h.registry.VerifyIdentification(ch.ID, req); err != nil {
		writeError(w, h.log, err)
		return
	}

	resp := &protocol.NodeIdentifyResponse{Status: protocol.StatusUnknown}
	node, err := h.registry.Identify(r.Context(), req.NodeID)
	switch {
	case err == nil:
		resp.IsKnown = true
		resp.Status = node.Status
		resp.NodeName = node.NodeName
		if node.Status == protocol.StatusAuthorized {
			next := protocol.NextPhaseAuthenticate
			resp.NextPhase = &next
		}
	case isNotFound(err):
		// Unknown nodes are not an error here; the caller should register.
	default:
		writeError(w, h.log, err)
		return
	}

	h.writeEncrypted(w, ch, http.StatusOK, resp)
}

func (h *Handler) handleChallenge(w http.ResponseWriter, r *http.Request) {
	req, err := decodePayload[protocol.ChallengeRequest](r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	ch, _ := ChannelFromContext(r.Context())
	if req.ChannelID != ch.ID {
		writeError(w, h.log, protocol.NewValidationError("channel id mismatch"))
		return
	}
	if !protocol.WithinSkew(req.Timestamp, h.now(), h.cfg.TimestampSkew) {
		writeError(w, h.log, protocol.NewProtocolError(protocol.CodeInvalidTimestamp,
			"timestamp outside the accepted window", false))
		return
	}

	resp, err := h.challenges.Issue(r.Context(), ch.ID, req.NodeID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.writeEncrypted(w, ch, http.StatusOK, resp)
}

func (h *Handler) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	req, err := decodePayload[protocol.AuthenticateRequest](r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	ch, _ := ChannelFromContext(r.Context())
	if req.ChannelID != ch.ID {
		writeError(w, h.log, protocol.NewValidationError("channel id mismatch"))
		return
	}

	resp, err := h.auth.Authenticate(r.Context(), req)
	if err != nil {
		metrics.AuthenticationAttempts.WithLabelValues("failure").Inc()
		writeError(w, h.log, err)
		return
	}
	metrics.AuthenticationAttempts.WithLabelValues("success").Inc()
	metrics.ActiveSessions.Set(float64(h.sessions.Metrics("").ActiveSessions))

	h.writeEncrypted(w, ch, http.StatusOK, resp)
}

func (h *Handler) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	ch, _ := ChannelFromContext(r.Context())
	sess, _ := SessionFromContext(r.Context())
	h.writeEncrypted(w, ch, http.StatusOK, &protocol.WhoAmIResponse{
		NodeID:           sess.NodeID,
		ChannelID:        sess.ChannelID,
		GrantedLevel:     sess.Level,
		ExpiresAt:        sess.ExpiresAt,
		RemainingSeconds: sess.RemainingSeconds,
		RequestCount:     sess.TotalRequests,
	})
}

func (h *Handler) handleSessionRenew(w http.ResponseWriter, r *http.Request) {
	req, err := decodePayload[protocol.SessionRenewRequest](r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	renewed, ok := h.sessions.Renew(req.SessionToken, time.Duration(req.AdditionalSeconds)*time.Second)
	if !ok {
		writeError(w, h.log, protocol.ErrSessionInvalid())
		return
	}
	ch, _ := ChannelFromContext(r.Context())
	h.writeEncrypted(w, ch, http.StatusOK, &protocol.SessionRenewResponse{
		ExpiresAt:        renewed.ExpiresAt,
		RemainingSeconds: renewed.RemainingSeconds,
	})
}

func (h *Handler) handleSessionRevoke(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromContext(r.Context())
	revoked := h.sessions.Revoke(sess.Token)
	metrics.ActiveSessions.Set(float64(h.sessions.Metrics("").ActiveSessions))

	ch, _ := ChannelFromContext(r.Context())
	h.writeEncrypted(w, ch, http.StatusOK, &protocol.SessionRevokeResponse{Revoked: revoked})
}

func (h *Handler) handleSessionMetrics(w http.ResponseWriter, r *http.Request) {
	ch, _ := ChannelFromContext(r.Context())
	h.writeEncrypted(w, ch, http.StatusOK, h.sessions.Metrics(""))
}

// nodeView is the administrative representation of a node identity. The
// certificate itself is not echoed back, only its fingerprint.
type nodeView struct {
	NodeID             string               `json:"nodeId"`
	NodeName           string               `json:"nodeName"`
	Fingerprint        string               `json:"certificateFingerprint"`
	ContactInfo        string               `json:"contactInfo,omitempty"`
	InstitutionDetails string               `json:"institutionDetails,omitempty"`
	NodeURL            string               `json:"nodeUrl,omitempty"`
	RequestedLevel     protocol.AccessLevel `json:"requestedAccessLevel"`
	GrantedLevel       protocol.AccessLevel `json:"grantedAccessLevel,omitempty"`
	Status             protocol.NodeStatus  `json:"status"`
	RegistrationID     string               `json:"registrationId"`
	RegisteredAt       time.Time            `json:"registeredAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
	LastSeenAt         *time.Time           `json:"lastSeenAt,omitempty"`
	LastAuthenticated  *time.Time           `json:"lastAuthenticated,omitempty"`
}

func toNodeView(node *identity.NodeIdentity) *nodeView {
	view := &nodeView{
		NodeID:             node.NodeID,
		NodeName:           node.NodeName,
		Fingerprint:        node.Fingerprint,
		ContactInfo:        node.ContactInfo,
		InstitutionDetails: node.InstitutionDetails,
		NodeURL:            node.NodeURL,
		RequestedLevel:     node.RequestedLevel,
		GrantedLevel:       node.GrantedLevel,
		Status:             node.Status,
		RegistrationID:     node.RegistrationID,
		RegisteredAt:       node.RegisteredAt,
		UpdatedAt:          node.UpdatedAt,
	}
	if !node.LastSeenAt.IsZero() {
		view.LastSeenAt = &node.LastSeenAt
	}
	if !node.LastAuthenticated.IsZero() {
		view.LastAuthenticated = &node.LastAuthenticated
	}
	return view
}

func (h *Handler) handleNodeList(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.registry.List(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	views := make([]*nodeView, 0, len(nodes))
	for _, node := range nodes {
		views = append(views, toNodeView(node))
	}
	writeJSON(w, h.log, http.StatusOK, views)
}

func (h *Handler) handleNodeGet(w http.ResponseWriter, r *http.Request) {
	node, err := h.registry.Get(r.Context(), chi.URLParam(r, "nodeID"))
	if isNotFound(err) {
		writeError(w, h.log, protocol.ErrNodeNotFound(chi.URLParam(r, "nodeID")))
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, toNodeView(node))
}

func (h *Handler) handleNodeStatusUpdate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req protocol.NodeStatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, protocol.NewValidationError("malformed status update"))
		return
	}
	node, err := h.registry.UpdateStatus(r.Context(), chi.URLParam(r, "nodeID"), req.Status)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, toNodeView(node))
}

func (h *Handler) handleNodeApprove(w http.ResponseWriter, r *http.Request) {
	node, err := h.registry.Approve(r.Context(), chi.URLParam(r, "nodeID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, toNodeView(node))
}

func (h *Handler) handleNodeReject(w http.ResponseWriter, r *http.Request) {
	node, err := h.registry.Reject(r.Context(), chi.URLParam(r, "nodeID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, toNodeView(node))
}
