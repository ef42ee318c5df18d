package channel

import (
	"time"

	"github.com/Velocidex/ttlcache/v2"
)

// Store is the concurrency-safe channel registry. Entries carry the fixed
// channel TTL from insertion; lookups never extend it. Expired entries are
// treated as absent even if the cache has not evicted them yet, and their
// key material is zeroed on eviction.
type Store struct {
	cache *ttlcache.Cache
	now   func() time.Time
}

// NewStore creates a store whose entries expire ttl after Put.
func NewStore(ttl time.Duration) *Store {
	cache := ttlcache.NewCache()
	_ = cache.SetTTL(ttl)
	cache.SkipTTLExtensionOnHit(true)
	cache.SetExpirationCallback(func(key string, value interface{}) error {
		if ch, ok := value.(*Channel); ok {
			ch.Zero()
		}
		return nil
	})
	return &Store{cache: cache, now: time.Now}
}

// Put registers a freshly established channel.
func (s *Store) Put(ch *Channel) error {
	return s.cache.Set(ch.ID, ch)
}

// Get returns the channel context, or false if the id is unknown or the
// channel has expired. Callers cannot distinguish the two cases. The
// returned channel is a copy: eviction zeroes the stored key material,
// which must not reach under a caller still encrypting with it.
func (s *Store) Get(id string) (*Channel, bool) {
	value, err := s.cache.Get(id)
	if err != nil {
		return nil, false
	}
	ch, ok := value.(*Channel)
	if !ok || ch.Expired(s.now()) {
		return nil, false
	}
	return ch.Clone(), true
}

// Remove deletes a channel and zeroes its key material.
func (s *Store) Remove(id string) {
	if value, err := s.cache.Get(id); err == nil {
		if ch, ok := value.(*Channel); ok {
			ch.Zero()
		}
	}
	_ = s.cache.Remove(id)
}

// Close releases the store and zeroes all remaining channels.
func (s *Store) Close() {
	s.cache.Close()
}
