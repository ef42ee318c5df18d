package identity

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by store lookups for unknown identifiers.
var ErrNotFound = errors.New("node identity not found")

// Store persists node identity records. Implementations must enforce
// fingerprint uniqueness. Lookups are the only operations in the core that
// touch external I/O, so every method takes a context.
type Store interface {
	// Save inserts or fully replaces a record keyed by node id.
	Save(ctx context.Context, node *NodeIdentity) error

	// GetByNodeID returns ErrNotFound for unknown ids.
	GetByNodeID(ctx context.Context, nodeID string) (*NodeIdentity, error)

	// GetByFingerprint returns ErrNotFound for unseen fingerprints.
	GetByFingerprint(ctx context.Context, fingerprint string) (*NodeIdentity, error)

	// List returns all records.
	List(ctx context.Context) ([]*NodeIdentity, error)

	// Close releases backing resources.
	Close() error
}

// MemoryStore is the in-memory Store used in tests and single-process
// deployments without a database.
type MemoryStore struct {
	mu            sync.RWMutex
	byNodeID      map[string]*NodeIdentity
	byFingerprint map[string]string // fingerprint -> node id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byNodeID:      make(map[string]*NodeIdentity),
		byFingerprint: make(map[string]string),
	}
}

func (s *MemoryStore) Save(_ context.Context, node *NodeIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.byFingerprint[node.Fingerprint]; ok && owner != node.NodeID {
		return errors.New("certificate fingerprint already registered")
	}
	if prev, ok := s.byNodeID[node.NodeID]; ok && prev.Fingerprint != node.Fingerprint {
		delete(s.byFingerprint, prev.Fingerprint)
	}

	s.byNodeID[node.NodeID] = node.Clone()
	s.byFingerprint[node.Fingerprint] = node.NodeID
	return nil
}

func (s *MemoryStore) GetByNodeID(_ context.Context, nodeID string) (*NodeIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.byNodeID[nodeID]
	if !ok {
		return nil, ErrNotFound
	}
	return node.Clone(), nil
}

func (s *MemoryStore) GetByFingerprint(_ context.Context, fingerprint string) (*NodeIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodeID, ok := s.byFingerprint[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byNodeID[nodeID].Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*NodeIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*NodeIdentity, 0, len(s.byNodeID))
	for _, node := range s.byNodeID {
		out = append(out, node.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
