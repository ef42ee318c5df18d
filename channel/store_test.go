package channel

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/curanet/nodelink/crypto"
)

func testChannel(id string, ttl time.Duration) *Channel {
	now := time.Now()
	return &Channel{
		ID:        id,
		Key:       []byte("0123456789abcdef0123456789abcdef"),
		Cipher:    crypto.CipherAESGCM,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestStorePutGet(t *testing.T) {
	store := NewStore(time.Minute)
	defer store.Close()

	ch := testChannel("chan-1", time.Minute)
	require.NoError(t, store.Put(ch))

	got, ok := store.Get("chan-1")
	require.True(t, ok)
	require.Equal(t, ch.ID, got.ID)
	require.Equal(t, ch.Key, got.Key)

	_, ok = store.Get("chan-unknown")
	require.False(t, ok)
}

func TestStoreExpiredChannelIsAbsent(t *testing.T) {
	store := NewStore(time.Minute)
	defer store.Close()

	// Entry still in the cache but past its logical expiry must be treated
	// as absent, not returned.
	ch := testChannel("chan-exp", time.Minute)
	require.NoError(t, store.Put(ch))
	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, ok := store.Get("chan-exp")
	require.False(t, ok)
}

func TestStoreRemoveZeroesKey(t *testing.T) {
	store := NewStore(time.Minute)
	defer store.Close()

	ch := testChannel("chan-z", time.Minute)
	key := ch.Key
	require.NoError(t, store.Put(ch))

	store.Remove("chan-z")
	_, ok := store.Get("chan-z")
	require.False(t, ok)
	require.Equal(t, make([]byte, len(key)), key)
}

func TestStoreGetReturnsPrivateCopy(t *testing.T) {
	store := NewStore(time.Minute)
	defer store.Close()

	ch := testChannel("chan-c", time.Minute)
	want := append([]byte(nil), ch.Key...)
	require.NoError(t, store.Put(ch))

	got, ok := store.Get("chan-c")
	require.True(t, ok)

	// Eviction zeroes the stored key; a copy already handed to a handler
	// must stay usable.
	store.Remove("chan-c")
	require.Equal(t, want, got.Key)
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := NewStore(time.Minute)
	defer store.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("chan-%d", i)
			require.NoError(t, store.Put(testChannel(id, time.Minute)))
			for j := 0; j < 100; j++ {
				if ch, ok := store.Get(id); ok {
					require.Len(t, ch.Key, 32)
				}
			}
		}(i)
	}
	wg.Wait()
}
