// Package session manages the capability-scoped, rate-limited sessions
// issued after successful challenge-response authentication.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/curanet/nodelink/protocol"
)

// tokenSize is the entropy of a session token in bytes.
const tokenSize = 32

// Session is an authenticated grant layered on top of a channel. The
// capability level is copied from the node at authentication time and is
// fixed for the session's lifetime; elevation requires re-authentication.
type Session struct {
	Token     string
	NodeID    string
	ChannelID string
	Level     protocol.AccessLevel
	CreatedAt time.Time

	// mu guards the expiry and the mutable rate-limiting state so updates
	// are atomic per session without serializing unrelated sessions.
	mu            sync.Mutex
	ExpiresAt     time.Time
	windowStart   time.Time
	windowCount   int
	totalRequests int64
}

// Snapshot is an immutable view of a session handed to request handlers.
type Snapshot struct {
	Token            string
	NodeID           string
	ChannelID        string
	Level            protocol.AccessLevel
	CreatedAt        time.Time
	ExpiresAt        time.Time
	TotalRequests    int64
	RemainingSeconds int
}

// Service owns the session table. Validation is read-mostly and does not
// serialize behind the write lock; per-session mutation locks only the
// session involved.
type Service struct {
	cfg *protocol.Config
	log *slog.Logger
	now func() time.Time

	mu       sync.RWMutex
	byToken  map[string]*Session
	byNodeID map[string]map[string]*Session
}

// NewService creates an empty session table.
func NewService(cfg *protocol.Config, log *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		byToken:  make(map[string]*Session),
		byNodeID: make(map[string]map[string]*Session),
	}
}

// Create issues a session for a freshly authenticated node.
func (s *Service) Create(nodeID, channelID string, level protocol.AccessLevel) (*Snapshot, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("cannot create session with invalid access level %q", level)
	}
	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.SessionTTL)
	sess := &Session{
		Token:       token,
		NodeID:      nodeID,
		ChannelID:   channelID,
		Level:       level,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
		windowStart: now,
	}

	s.mu.Lock()
	s.byToken[token] = sess
	if s.byNodeID[nodeID] == nil {
		s.byNodeID[nodeID] = make(map[string]*Session)
	}
	s.byNodeID[nodeID][token] = sess
	s.mu.Unlock()

	s.log.Info("session created", "nodeId", nodeID, "channelId", channelID,
		"level", level, "expiresAt", expiresAt)
	return s.snapshot(sess), nil
}

// Validate resolves a token to a session snapshot. Unknown and expired
// tokens are both absent; expired sessions are removed lazily here.
func (s *Service) Validate(token string) (*Snapshot, bool) {
	s.mu.RLock()
	sess, ok := s.byToken[token]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.expired(sess) {
		s.remove(sess)
		return nil, false
	}
	return s.snapshot(sess), true
}

// Renew extends a live session's expiry by additional, capped by the
// configured maximum per call. The new expiry is strictly later than the
// old one. The capability level is untouched.
func (s *Service) Renew(token string, additional time.Duration) (*Snapshot, bool) {
	if additional <= 0 || additional > s.cfg.MaxRenewal {
		additional = s.cfg.SessionTTL
	}

	s.mu.RLock()
	sess, ok := s.byToken[token]
	s.mu.RUnlock()
	if !ok || s.expired(sess) {
		return nil, false
	}

	sess.mu.Lock()
	sess.ExpiresAt = sess.ExpiresAt.Add(additional)
	newExpiry := sess.ExpiresAt
	sess.mu.Unlock()

	s.log.Info("session renewed", "nodeId", sess.NodeID, "expiresAt", newExpiry)
	return s.snapshot(sess), true
}

// Revoke destroys a session immediately. Returns false for unknown tokens.
func (s *Service) Revoke(token string) bool {
	s.mu.RLock()
	sess, ok := s.byToken[token]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	s.remove(sess)
	s.log.Info("session revoked", "nodeId", sess.NodeID)
	return true
}

// RecordRequest charges one request against the session's rate budget and
// reports whether the request is allowed. limitOverride replaces the
// default budget when positive; the service enforces whatever limit the
// caller supplies and holds no per-endpoint policy.
//
// The counter is incremented before the comparison: the request that makes
// the counter reach the limit is itself the first rejected one, so a limit
// of 60 admits 59 requests per window.
func (s *Service) RecordRequest(token string, limitOverride int) bool {
	limit := s.cfg.DefaultRateLimit
	if limitOverride > 0 {
		limit = limitOverride
	}

	s.mu.RLock()
	sess, ok := s.byToken[token]
	s.mu.RUnlock()
	if !ok || s.expired(sess) {
		return false
	}

	now := s.now()
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if now.Sub(sess.windowStart) >= s.cfg.RateWindow {
		sess.windowStart = now
		sess.windowCount = 0
	}
	sess.windowCount++
	sess.totalRequests++
	return sess.windowCount < limit
}

// RetryAfterSeconds estimates when the session's current window rolls over.
func (s *Service) RetryAfterSeconds(token string) int {
	s.mu.RLock()
	sess, ok := s.byToken[token]
	s.mu.RUnlock()
	if !ok {
		return int(s.cfg.RateWindow.Seconds())
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	remaining := s.cfg.RateWindow - s.now().Sub(sess.windowStart)
	if remaining < time.Second {
		remaining = time.Second
	}
	return int(remaining.Seconds())
}

// Metrics summarizes live sessions, either for one node or, with an empty
// node id, across the table.
func (s *Service) Metrics(nodeID string) *protocol.SessionMetricsResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []*Session
	if nodeID == "" {
		for _, sess := range s.byToken {
			sessions = append(sessions, sess)
		}
	} else {
		for _, sess := range s.byNodeID[nodeID] {
			sessions = append(sessions, sess)
		}
	}

	resp := &protocol.SessionMetricsResponse{}
	now := s.now()
	for _, sess := range sessions {
		// snapshot reads the expiry under the session lock; Renew may be
		// moving it concurrently.
		snap := s.snapshot(sess)
		if now.After(snap.ExpiresAt) {
			continue
		}
		resp.ActiveSessions++
		resp.TotalRequests += snap.TotalRequests
		resp.Sessions = append(resp.Sessions, protocol.SessionSummary{
			NodeID:           snap.NodeID,
			GrantedLevel:     snap.Level,
			CreatedAt:        snap.CreatedAt,
			ExpiresAt:        snap.ExpiresAt,
			TotalRequests:    snap.TotalRequests,
			RemainingSeconds: snap.RemainingSeconds,
		})
	}
	return resp
}

func (s *Service) expired(sess *Session) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.now().After(sess.ExpiresAt)
}

func (s *Service) remove(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byToken, sess.Token)
	if nodeSessions := s.byNodeID[sess.NodeID]; nodeSessions != nil {
		delete(nodeSessions, sess.Token)
		if len(nodeSessions) == 0 {
			delete(s.byNodeID, sess.NodeID)
		}
	}
}

func (s *Service) snapshot(sess *Session) *Snapshot {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	remaining := int(sess.ExpiresAt.Sub(s.now()).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return &Snapshot{
		Token:            sess.Token,
		NodeID:           sess.NodeID,
		ChannelID:        sess.ChannelID,
		Level:            sess.Level,
		CreatedAt:        sess.CreatedAt,
		ExpiresAt:        sess.ExpiresAt,
		TotalRequests:    sess.totalRequests,
		RemainingSeconds: remaining,
	}
}

func generateToken() (string, error) {
	raw := make([]byte, tokenSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
