package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryProfile().Open()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "k", []byte("v1")))
	value, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), value)

	require.NoError(t, s.Put(ctx, "k", []byte("v2")))
	value, _, _ = s.Get(ctx, "k")
	assert.Equal(t, []byte("v2"), value)
}

func TestMemoryStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryProfile().Open()

	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))

	_, ok, _ := s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryStore_SiblingSeesWrites(t *testing.T) {
	ctx := context.Background()
	profile := NewMemoryProfile()
	a := profile.Open()
	b := profile.Open()

	require.NoError(t, a.Put(ctx, "k", []byte("shared")))

	value, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("shared"), value)
}

func TestMemoryStore_WatchFiresForSiblingsOnly(t *testing.T) {
	ctx := context.Background()
	profile := NewMemoryProfile()
	a := profile.Open()
	b := profile.Open()

	var mu sync.Mutex
	var aChanges, bChanges []string
	a.Watch(func(key string, value []byte) {
		mu.Lock()
		defer mu.Unlock()
		aChanges = append(aChanges, key)
	})
	b.Watch(func(key string, value []byte) {
		mu.Lock()
		defer mu.Unlock()
		bChanges = append(bChanges, key)
	})

	require.NoError(t, a.Put(ctx, "k", []byte("v")))

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, aChanges, "a context's own writes must not fire its watchers")
	assert.Equal(t, []string{"k"}, bChanges)
}

func TestMemoryStore_WatchFiresNilOnDelete(t *testing.T) {
	ctx := context.Background()
	profile := NewMemoryProfile()
	a := profile.Open()
	b := profile.Open()

	require.NoError(t, a.Put(ctx, "k", []byte("v")))

	var mu sync.Mutex
	var gotNil bool
	b.Watch(func(key string, value []byte) {
		mu.Lock()
		defer mu.Unlock()
		if key == "k" && value == nil {
			gotNil = true
		}
	})

	require.NoError(t, a.Delete(ctx, "k"))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, gotNil)
}

func TestMemoryStore_ClosedHandleGetsNoNotifications(t *testing.T) {
	ctx := context.Background()
	profile := NewMemoryProfile()
	a := profile.Open()
	b := profile.Open()

	var mu sync.Mutex
	fired := false
	b.Watch(func(string, []byte) {
		mu.Lock()
		defer mu.Unlock()
		fired = true
	})

	require.NoError(t, b.Close())
	require.NoError(t, a.Put(ctx, "k", []byte("v")))

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, fired)
}

func TestContextTokenKey(t *testing.T) {
	assert.Equal(t, "session.token.tab-1", ContextTokenKey("tab-1"))
	assert.NotEqual(t, ContextTokenKey("tab-1"), ContextTokenKey("tab-2"))
}
