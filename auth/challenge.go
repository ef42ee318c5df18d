// Package auth implements phase 3 of the nodelink protocol: single-use
// challenge issuance and certificate challenge-response authentication.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Velocidex/ttlcache/v2"

	"github.com/curanet/nodelink/crypto"
	"github.com/curanet/nodelink/identity"
	"github.com/curanet/nodelink/protocol"
)

// challengeSize is the length of the random challenge material in bytes.
const challengeSize = 32

// Challenge is outstanding challenge material bound to one (channel, node)
// pair. It is consumed by exactly one authentication attempt, successful or
// not.
type Challenge struct {
	Data      string
	ChannelID string
	NodeID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ChallengeService issues and consumes challenges. At most one challenge is
// outstanding per (channel, node) pair; issuing again replaces it.
type ChallengeService struct {
	registry *identity.Registry
	cfg      *protocol.Config
	log      *slog.Logger
	now      func() time.Time

	// mu serializes take-and-remove so a challenge can never be consumed
	// twice under concurrent authentication attempts.
	mu    sync.Mutex
	cache *ttlcache.Cache
}

// NewChallengeService creates the service. Challenges expire after the
// configured challenge TTL regardless of access.
func NewChallengeService(registry *identity.Registry, cfg *protocol.Config, log *slog.Logger) *ChallengeService {
	cache := ttlcache.NewCache()
	_ = cache.SetTTL(cfg.ChallengeTTL)
	cache.SkipTTLExtensionOnHit(true)
	return &ChallengeService{
		registry: registry,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		cache:    cache,
	}
}

// Close releases the challenge cache.
func (s *ChallengeService) Close() {
	s.cache.Close()
}

// Issue creates challenge material for an Authorized node. Nodes in any
// other status are refused; they must finish phase 2 first.
func (s *ChallengeService) Issue(ctx context.Context, channelID, nodeID string) (*protocol.ChallengeResponse, error) {
	node, err := s.registry.Get(ctx, nodeID)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, protocol.ErrNodeNotFound(nodeID)
	}
	if err != nil {
		return nil, err
	}
	if node.Status != protocol.StatusAuthorized {
		return nil, &protocol.Error{
			Code:       protocol.CodeNodeNotAuthorized,
			Message:    "node is not authorized for authentication",
			Details:    map[string]string{"status": string(node.Status)},
			HTTPStatus: 400,
		}
	}

	raw, err := crypto.GenerateNonce(challengeSize)
	if err != nil {
		return nil, err
	}

	now := s.now()
	challenge := &Challenge{
		Data:      base64.StdEncoding.EncodeToString(raw),
		ChannelID: channelID,
		NodeID:    nodeID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.ChallengeTTL),
	}

	s.mu.Lock()
	err = s.cache.Set(challengeKey(channelID, nodeID), challenge)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.log.Info("challenge issued", "channelId", channelID, "nodeId", nodeID,
		"expiresAt", challenge.ExpiresAt)

	return &protocol.ChallengeResponse{
		ChallengeData: challenge.Data,
		TTLSeconds:    int(s.cfg.ChallengeTTL.Seconds()),
		ExpiresAt:     challenge.ExpiresAt,
	}, nil
}

// take removes and returns the outstanding challenge for the pair. The
// removal happens whether or not the subsequent verification succeeds, so
// a challenge can never be replayed.
func (s *ChallengeService) take(channelID, nodeID string) (*Challenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := challengeKey(channelID, nodeID)
	value, err := s.cache.Get(key)
	if err != nil {
		return nil, false
	}
	_ = s.cache.Remove(key)

	challenge, ok := value.(*Challenge)
	if !ok || s.now().After(challenge.ExpiresAt) {
		return nil, false
	}
	return challenge, true
}

// matches compares challenge material in constant time; only an exact match
// passes.
func (c *Challenge) matches(data string) bool {
	return subtle.ConstantTimeCompare([]byte(c.Data), []byte(data)) == 1
}

func challengeKey(channelID, nodeID string) string {
	return channelID + "|" + nodeID
}
