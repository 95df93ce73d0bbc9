package broadcast

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainsync "github.com/storefront/clientsync/internal/domain/sync"
)

func TestHub_DeliversToSiblingsNotSender(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(zap.NewNop())
	a := hub.Open()
	b := hub.Open()
	defer a.Close()
	defer b.Close()

	var mu sync.Mutex
	var aReceived, bReceived []domainsync.Envelope
	require.NoError(t, a.Subscribe(ctx, func(e domainsync.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		aReceived = append(aReceived, e)
	}))
	require.NoError(t, b.Subscribe(ctx, func(e domainsync.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		bReceived = append(bReceived, e)
	}))

	envelope := domainsync.NewLogout()
	require.NoError(t, a.Publish(ctx, envelope))

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, aReceived, "sender must not receive its own envelope")
	require.Len(t, bReceived, 1)
	assert.Equal(t, envelope.ID, bReceived[0].ID)
}

func TestHub_ClosedChannelNotDelivered(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(zap.NewNop())
	a := hub.Open()
	b := hub.Open()

	var mu sync.Mutex
	delivered := false
	require.NoError(t, b.Subscribe(ctx, func(domainsync.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		delivered = true
	}))
	require.NoError(t, b.Close())

	require.NoError(t, a.Publish(ctx, domainsync.NewLogout()))

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, delivered)
}

func TestHub_HandlerPanicDoesNotCrashSender(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(zap.NewNop())
	a := hub.Open()
	b := hub.Open()
	defer a.Close()
	defer b.Close()

	require.NoError(t, b.Subscribe(ctx, func(domainsync.Envelope) {
		panic("boom")
	}))

	assert.NotPanics(t, func() {
		_ = a.Publish(ctx, domainsync.NewLogout())
	})
}
