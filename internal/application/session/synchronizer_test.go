package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storefront/clientsync/internal/domain/session"
	"github.com/storefront/clientsync/internal/domain/shared"
	"github.com/storefront/clientsync/internal/infrastructure/store"

	domainsync "github.com/storefront/clientsync/internal/domain/sync"
)

type mockAuthority struct {
	mock.Mock
}

func (m *mockAuthority) CurrentSession(ctx context.Context) (*session.Snapshot, error) {
	args := m.Called(ctx)
	if snap := args.Get(0); snap != nil {
		return snap.(*session.Snapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAuthority) Login(ctx context.Context, creds session.Credentials) (*session.Snapshot, error) {
	args := m.Called(ctx, creds)
	if snap := args.Get(0); snap != nil {
		return snap.(*session.Snapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAuthority) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type mockBroadcaster struct {
	mock.Mock
}

func (m *mockBroadcaster) Publish(ctx context.Context, envelope domainsync.Envelope) error {
	args := m.Called(ctx, envelope)
	return args.Error(0)
}

type synchronizerFixture struct {
	authority   *mockAuthority
	broadcaster *mockBroadcaster
	store       *store.MemoryStore
	notifier    *shared.CollectingNotifier
	sync        *Synchronizer
}

func newFixture(t *testing.T, operators OperatorDirectory) *synchronizerFixture {
	t.Helper()
	f := &synchronizerFixture{
		authority:   new(mockAuthority),
		broadcaster: new(mockBroadcaster),
		store:       store.NewMemoryProfile().Open(),
		notifier:    &shared.CollectingNotifier{},
	}
	f.sync = NewSynchronizer(
		f.authority, f.store, f.broadcaster, operators,
		f.notifier, DefaultConfig(), zap.NewNop(),
	)
	return f
}

func aliceSnapshot() *session.Snapshot {
	return &session.Snapshot{
		UserID:        7,
		Username:      "alice",
		Role:          session.RoleCustomer,
		FirstName:     "Alice",
		WalletBalance: decimal.NewFromInt(100),
		CheckedAt:     time.Now(),
	}
}

func (f *synchronizerFixture) seedCache(t *testing.T, snapshot *session.Snapshot, validatedAt time.Time) {
	t.Helper()
	data, err := json.Marshal(snapshot)
	require.NoError(t, err)
	require.NoError(t, f.store.Put(context.Background(), store.KeySessionSnapshot, data))
	require.NoError(t, f.store.Put(context.Background(), store.KeySessionValidatedAt,
		[]byte(validatedAt.Format(time.RFC3339))))
}

func (f *synchronizerFixture) noticeTitles() []string {
	var titles []string
	for _, n := range f.notifier.Notices() {
		titles = append(titles, n.Title)
	}
	return titles
}

func TestLoad_NoCacheNoRemoteSession(t *testing.T) {
	f := newFixture(t, nil)
	f.authority.On("CurrentSession", mock.Anything).Return(nil, nil)

	snap, err := f.sync.Load(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.Nil(t, f.sync.Current())
}

func TestLoad_RemoteConfirmationReplacesCache(t *testing.T) {
	f := newFixture(t, nil)
	cached := aliceSnapshot()
	cached.WalletBalance = decimal.NewFromInt(50) // stale balance
	f.seedCache(t, cached, time.Now())

	f.authority.On("CurrentSession", mock.Anything).Return(aliceSnapshot(), nil)

	snap, err := f.sync.Load(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.False(t, snap.FromCache)
	assert.True(t, snap.WalletBalance.Equal(decimal.NewFromInt(100)))
}

func TestLoad_NetworkFailureKeepsRecentCache(t *testing.T) {
	f := newFixture(t, nil)
	f.seedCache(t, aliceSnapshot(), time.Now().Add(-time.Minute))
	f.authority.On("CurrentSession", mock.Anything).Return(nil, shared.ErrNetworkFailure)

	snap, err := f.sync.Load(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "alice", snap.Username)
	assert.True(t, snap.FromCache)
}

func TestLoad_NetworkFailureDropsExpiredCache(t *testing.T) {
	f := newFixture(t, nil)
	f.seedCache(t, aliceSnapshot(), time.Now().Add(-10*time.Minute))
	f.authority.On("CurrentSession", mock.Anything).Return(nil, shared.ErrNetworkFailure)

	snap, err := f.sync.Load(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.Nil(t, f.sync.Current())
}

func TestLoad_RemoteRejectionClearsPersistedRecords(t *testing.T) {
	f := newFixture(t, nil)
	f.seedCache(t, aliceSnapshot(), time.Now())
	f.authority.On("CurrentSession", mock.Anything).Return(nil, nil)

	_, err := f.sync.Load(context.Background(), false)
	require.NoError(t, err)

	_, exists, err := f.store.Get(context.Background(), store.KeySessionSnapshot)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLoad_OperatorBypassSkipsRemote(t *testing.T) {
	f := newFixture(t, NewBootstrapDirectory("admin"))
	admin := aliceSnapshot()
	admin.Username = "admin"
	admin.Role = session.RoleAdmin
	f.seedCache(t, admin, time.Now())

	snap, err := f.sync.Load(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "admin", snap.Username)
	f.authority.AssertNotCalled(t, "CurrentSession", mock.Anything)
}

func TestLoad_ForceRemoteIgnoresCache(t *testing.T) {
	f := newFixture(t, NewBootstrapDirectory("admin"))
	admin := aliceSnapshot()
	admin.Username = "admin"
	f.seedCache(t, admin, time.Now())
	f.authority.On("CurrentSession", mock.Anything).Return(nil, nil)

	snap, err := f.sync.Load(context.Background(), true)
	require.NoError(t, err)
	assert.Nil(t, snap)
	f.authority.AssertCalled(t, "CurrentSession", mock.Anything)
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t, nil)
	f.authority.On("Login", mock.Anything, mock.Anything).Return(aliceSnapshot(), nil)
	f.broadcaster.On("Publish", mock.Anything, mock.MatchedBy(func(e domainsync.Envelope) bool {
		return e.Kind == domainsync.KindLogin && e.Session != nil && e.Session.Username == "alice"
	})).Return(nil)

	snap, err := f.sync.Login(context.Background(), session.Credentials{Username: "alice", Password: "wonderland"})
	require.NoError(t, err)
	assert.Equal(t, "alice", snap.Username)
	assert.Contains(t, f.noticeTitles(), "Welcome back")
	f.broadcaster.AssertExpectations(t)

	// Snapshot is persisted for the next startup
	_, exists, err := f.store.Get(context.Background(), store.KeySessionSnapshot)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t, nil)
	f.authority.On("Login", mock.Anything, mock.Anything).Return(nil, shared.ErrInvalidCredentials)

	_, err := f.sync.Login(context.Background(), session.Credentials{Username: "alice", Password: "nope"})
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	assert.Contains(t, f.noticeTitles(), "Login failed")
	f.broadcaster.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestLogin_EmptyCredentialsRejectedLocally(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.sync.Login(context.Background(), session.Credentials{})
	assert.Error(t, err)
	f.authority.AssertNotCalled(t, "Login", mock.Anything, mock.Anything)
}

func TestLogout_SucceedsDespiteRemoteFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.sync.setCurrent(aliceSnapshot())
	f.seedCache(t, aliceSnapshot(), time.Now())

	f.authority.On("Logout", mock.Anything).Return(shared.ErrNetworkFailure)
	f.broadcaster.On("Publish", mock.Anything, mock.MatchedBy(func(e domainsync.Envelope) bool {
		return e.Kind == domainsync.KindLogout
	})).Return(nil)

	hookFired := false
	f.sync.OnLogout(func() { hookFired = true })

	require.NoError(t, f.sync.Logout(context.Background()))
	assert.Nil(t, f.sync.Current())
	assert.True(t, hookFired)

	_, exists, err := f.store.Get(context.Background(), store.KeySessionSnapshot)
	require.NoError(t, err)
	assert.False(t, exists)
	f.broadcaster.AssertExpectations(t)
}

func TestRefresh_ThirdConsecutiveFailureExpiresSession(t *testing.T) {
	f := newFixture(t, nil)
	f.sync.setCurrent(aliceSnapshot())
	f.seedCache(t, aliceSnapshot(), time.Now())
	f.authority.On("CurrentSession", mock.Anything).Return(nil, shared.ErrNetworkFailure)

	ctx := context.Background()
	assert.ErrorIs(t, f.sync.Refresh(ctx), shared.ErrNetworkFailure)
	assert.ErrorIs(t, f.sync.Refresh(ctx), shared.ErrNetworkFailure)
	assert.NotNil(t, f.sync.Current(), "session survives the first two failures")

	assert.ErrorIs(t, f.sync.Refresh(ctx), shared.ErrSessionExpired)
	assert.Nil(t, f.sync.Current())
	assert.Contains(t, f.noticeTitles(), "Session expired")

	_, exists, err := f.store.Get(ctx, store.KeySessionSnapshot)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRefresh_SuccessResetsFailureCounter(t *testing.T) {
	f := newFixture(t, nil)
	f.sync.setCurrent(aliceSnapshot())

	f.authority.On("CurrentSession", mock.Anything).Return(nil, shared.ErrNetworkFailure).Twice()
	f.authority.On("CurrentSession", mock.Anything).Return(aliceSnapshot(), nil).Once()
	f.authority.On("CurrentSession", mock.Anything).Return(nil, shared.ErrNetworkFailure).Twice()

	ctx := context.Background()
	_ = f.sync.Refresh(ctx)
	_ = f.sync.Refresh(ctx)
	require.NoError(t, f.sync.Refresh(ctx))

	// Two more failures after a success must not expire the session
	assert.ErrorIs(t, f.sync.Refresh(ctx), shared.ErrNetworkFailure)
	assert.ErrorIs(t, f.sync.Refresh(ctx), shared.ErrNetworkFailure)
	assert.NotNil(t, f.sync.Current())
}

func TestRefresh_RemoteInvalidationExpiresImmediately(t *testing.T) {
	f := newFixture(t, nil)
	f.sync.setCurrent(aliceSnapshot())
	f.authority.On("CurrentSession", mock.Anything).Return(nil, nil)

	assert.ErrorIs(t, f.sync.Refresh(context.Background()), shared.ErrSessionExpired)
	assert.Nil(t, f.sync.Current())
}

func TestRefresh_NoopWhenUnauthenticated(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.sync.Refresh(context.Background()))
	f.authority.AssertNotCalled(t, "CurrentSession", mock.Anything)
}

func TestHandleEnvelope_SiblingLoginAdopted(t *testing.T) {
	f := newFixture(t, nil)

	f.sync.HandleEnvelope(domainsync.NewLogin(aliceSnapshot()))

	current := f.sync.Current()
	require.NotNil(t, current)
	assert.Equal(t, "alice", current.Username)
	assert.Equal(t, session.RoleCustomer, current.Role)
	assert.Contains(t, f.noticeTitles(), "Signed in")
}

func TestHandleEnvelope_SameUserWalletUpdateInPlace(t *testing.T) {
	f := newFixture(t, nil)
	f.sync.setCurrent(aliceSnapshot())

	updated := aliceSnapshot()
	updated.WalletBalance = decimal.NewFromInt(150)
	f.sync.HandleEnvelope(domainsync.NewLogin(updated))

	current := f.sync.Current()
	require.NotNil(t, current)
	assert.True(t, current.WalletBalance.Equal(decimal.NewFromInt(150)))
	assert.Empty(t, f.notifier.Notices(), "balance updates are silent")
}

func TestHandleEnvelope_SiblingLogoutClearsSession(t *testing.T) {
	f := newFixture(t, nil)
	f.sync.setCurrent(aliceSnapshot())

	hookFired := false
	f.sync.OnLogout(func() { hookFired = true })

	f.sync.HandleEnvelope(domainsync.NewLogout())

	assert.Nil(t, f.sync.Current())
	assert.Contains(t, f.noticeTitles(), "Signed out")
	assert.True(t, hookFired)
}

func TestHandleEnvelope_StaleEnvelopeIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.sync.setCurrent(aliceSnapshot())

	stale := domainsync.NewLogout()
	stale.SentAt = time.Now().Add(-31 * time.Second).UnixMilli()
	f.sync.HandleEnvelope(stale)

	assert.NotNil(t, f.sync.Current())
	assert.Empty(t, f.notifier.Notices())
}

func TestHandleEnvelope_LogoutWhenAlreadyUnauthenticatedIsSilent(t *testing.T) {
	f := newFixture(t, nil)

	f.sync.HandleEnvelope(domainsync.NewLogout())

	assert.Empty(t, f.notifier.Notices())
}
