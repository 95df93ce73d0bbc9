package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/storefront/clientsync/internal/domain/session"
	"github.com/storefront/clientsync/internal/domain/shared"
	"github.com/storefront/clientsync/internal/infrastructure/store"
	"go.uber.org/zap"

	domainsync "github.com/storefront/clientsync/internal/domain/sync"
)

// Authority is the remote identity endpoints the synchronizer depends on.
// CurrentSession returns (nil, nil) for a definitive "not authenticated".
type Authority interface {
	CurrentSession(ctx context.Context) (*session.Snapshot, error)
	Login(ctx context.Context, creds session.Credentials) (*session.Snapshot, error)
	Logout(ctx context.Context) error
}

// Broadcaster publishes envelopes to sibling contexts
type Broadcaster interface {
	Publish(ctx context.Context, envelope domainsync.Envelope) error
}

// Config contains synchronizer tuning
type Config struct {
	CacheTTL           time.Duration // how long an unconfirmed cached snapshot stays usable
	MaxRefreshFailures int           // consecutive failed confirmations before local teardown
	RefreshInterval    time.Duration // periodic confirmation cadence
}

// DefaultConfig returns the default tuning
func DefaultConfig() Config {
	return Config{
		CacheTTL:           session.CacheTTL,
		MaxRefreshFailures: session.MaxRefreshFailures,
		RefreshInterval:    time.Minute,
	}
}

// Synchronizer maintains one execution context's belief about who is logged
// in and keeps it eventually consistent with sibling contexts and the remote
// authority. It owns the snapshot exclusively; siblings only ever receive
// serialized copies.
type Synchronizer struct {
	authority   Authority
	store       store.Store
	broadcaster Broadcaster
	operators   OperatorDirectory
	notifier    shared.Notifier
	logger      *zap.Logger
	config      Config

	// onLogout fires after local teardown, e.g. to redirect the user to
	// the public landing surface.
	onLogout func()

	currentMu       sync.Mutex
	current         *session.Snapshot
	refreshFailures int
}

// NewSynchronizer creates a session synchronizer
func NewSynchronizer(
	authority Authority,
	st store.Store,
	broadcaster Broadcaster,
	operators OperatorDirectory,
	notifier shared.Notifier,
	config Config,
	logger *zap.Logger,
) *Synchronizer {
	if operators == nil {
		operators = NoOperators()
	}
	if notifier == nil {
		notifier = shared.NopNotifier{}
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = session.CacheTTL
	}
	if config.MaxRefreshFailures == 0 {
		config.MaxRefreshFailures = session.MaxRefreshFailures
	}
	return &Synchronizer{
		authority:   authority,
		store:       st,
		broadcaster: broadcaster,
		operators:   operators,
		notifier:    notifier,
		logger:      logger,
		config:      config,
	}
}

// OnLogout registers the post-teardown hook
func (s *Synchronizer) OnLogout(fn func()) {
	s.onLogout = fn
}

// Current returns a copy of the current snapshot, or nil when unauthenticated
func (s *Synchronizer) Current() *session.Snapshot {
	s.currentMu.Lock()
	defer s.currentMu.Unlock()
	return s.current.Clone()
}

// Load establishes the context's session belief on startup. Unless
// forceRemote is set, a cached snapshot is adopted optimistically (marked
// FromCache) to avoid a loading flash; a remote confirmation then always
// follows, except for built-in operator identities which are trusted
// directly from cache.
func (s *Synchronizer) Load(ctx context.Context, forceRemote bool) (*session.Snapshot, error) {
	var cached *session.Snapshot
	if !forceRemote {
		cached = s.readCached(ctx)
		if cached != nil {
			if s.operators.IsOperator(cached.Username) {
				// Bootstrap operator bypass: no remote round-trip
				s.logger.Info("adopting operator session from cache",
					zap.String("username", cached.Username))
				s.setCurrent(cached)
				return cached.Clone(), nil
			}

			optimistic := cached.Clone()
			optimistic.FromCache = true
			s.setCurrent(optimistic)
		}
	}

	remote, err := s.authority.CurrentSession(ctx)
	if err != nil {
		// Transient failure: keep the cached snapshot if it was validated
		// recently enough, otherwise clear.
		if cached != nil && s.validatedWithinTTL(ctx, cached) {
			s.logger.Warn("session confirmation failed, keeping cached snapshot",
				zap.String("username", cached.Username))
			return s.Current(), nil
		}
		s.clearLocal(ctx)
		return nil, nil
	}

	if remote == nil {
		// Authority definitively says: not authenticated
		s.clearLocal(ctx)
		return nil, nil
	}

	s.resetRefreshFailures()
	s.adoptConfirmed(ctx, remote)
	return remote.Clone(), nil
}

// Login authenticates against the authority, persists the returned snapshot
// and broadcasts it to sibling contexts.
func (s *Synchronizer) Login(ctx context.Context, creds session.Credentials) (*session.Snapshot, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	snapshot, err := s.authority.Login(ctx, creds)
	if err != nil {
		if err == shared.ErrInvalidCredentials {
			s.notifier.Notify(shared.NewNotice(shared.NoticeError,
				"Login failed", "Invalid username or password"))
		} else {
			s.notifier.Notify(shared.NewNotice(shared.NoticeError,
				"Login failed", "Could not reach the server, try again"))
		}
		return nil, err
	}

	s.resetRefreshFailures()
	s.adoptConfirmed(ctx, snapshot)

	if err := s.broadcaster.Publish(ctx, domainsync.NewLogin(snapshot)); err != nil {
		s.logger.Warn("failed to broadcast login", zap.Error(err))
	}

	s.notifier.Notify(shared.NewNotice(shared.NoticeSuccess,
		"Welcome back", "Signed in as "+snapshot.DisplayName()))
	s.logger.Info("logged in",
		zap.Int64("user_id", snapshot.UserID),
		zap.String("role", string(snapshot.Role)))
	return snapshot.Clone(), nil
}

// Logout tears the session down. Local cleanup always succeeds even when the
// remote call fails, so the user never feels stuck logged in.
func (s *Synchronizer) Logout(ctx context.Context) error {
	if err := s.authority.Logout(ctx); err != nil {
		s.logger.Warn("remote logout failed, clearing locally anyway", zap.Error(err))
	}

	s.clearLocal(ctx)

	if err := s.broadcaster.Publish(ctx, domainsync.NewLogout()); err != nil {
		s.logger.Warn("failed to broadcast logout", zap.Error(err))
	}

	if s.onLogout != nil {
		s.onLogout()
	}
	return nil
}

// Refresh re-runs remote confirmation. Bounded to MaxRefreshFailures
// consecutive failures before forcing local teardown and a "session expired"
// notice; the counter resets on any success.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	if s.Current() == nil {
		return nil
	}

	remote, err := s.authority.CurrentSession(ctx)
	if err != nil {
		failures := s.recordRefreshFailure()
		s.logger.Warn("session refresh failed",
			zap.Int("consecutive_failures", failures))
		if failures >= s.config.MaxRefreshFailures {
			s.expireLocally(ctx)
			return shared.ErrSessionExpired
		}
		return shared.ErrNetworkFailure
	}

	if remote == nil {
		// Remote confirmation of invalidation
		s.expireLocally(ctx)
		return shared.ErrSessionExpired
	}

	s.resetRefreshFailures()
	s.adoptConfirmed(ctx, remote)
	return nil
}

// Run drives periodic refreshes until ctx is done
func (s *Synchronizer) Run(ctx context.Context) {
	interval := s.config.RefreshInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Failures here are not retried immediately; the next tick is
			// the retry.
			if err := s.Refresh(ctx); err != nil && err != shared.ErrNetworkFailure {
				s.logger.Info("refresh loop stopped session", zap.Error(err))
			}
		}
	}
}

// HandleEnvelope applies a sibling context's envelope. Stale envelopes are
// ignored; the next Load or refresh pass reconciles reality instead.
func (s *Synchronizer) HandleEnvelope(envelope domainsync.Envelope) {
	if envelope.Stale(time.Now()) {
		return
	}

	switch envelope.Kind {
	case domainsync.KindLogin:
		s.handleSiblingLogin(envelope)
	case domainsync.KindLogout:
		s.handleSiblingLogout()
	}
}

func (s *Synchronizer) handleSiblingLogin(envelope domainsync.Envelope) {
	if envelope.Session == nil || envelope.Session.UserID <= 0 {
		// A login without a resolvable user is a sender-side bug, not state
		s.logger.Error("aborting sibling login", zap.Error(shared.ErrInvalidUserContext))
		return
	}
	incoming := envelope.Session.Clone()

	s.currentMu.Lock()
	current := s.current
	switch {
	case current != nil && current.UserID == incoming.UserID:
		if !current.WalletBalance.Equal(incoming.WalletBalance) {
			// In-place balance update, no full notification
			current.WalletBalance = incoming.WalletBalance
			s.currentMu.Unlock()
			s.logger.Debug("wallet balance updated from sibling",
				zap.Int64("user_id", incoming.UserID))
			return
		}
		s.currentMu.Unlock()
		return
	default:
		// Trust the sibling: it already round-tripped to the authority
		s.current = incoming
		s.currentMu.Unlock()
		s.notifier.Notify(shared.NewNotice(shared.NoticeInfo,
			"Signed in", "Your session is now active in all tabs"))
		s.logger.Info("adopted session from sibling context",
			zap.Int64("user_id", incoming.UserID))
	}
}

func (s *Synchronizer) handleSiblingLogout() {
	s.currentMu.Lock()
	wasAuthenticated := s.current != nil
	s.current = nil
	s.refreshFailures = 0
	s.currentMu.Unlock()

	if !wasAuthenticated {
		return
	}
	s.notifier.Notify(shared.NewNotice(shared.NoticeInfo,
		"Signed out", "You were signed out in another tab"))
	s.logger.Info("cleared session after sibling logout")
	if s.onLogout != nil {
		s.onLogout()
	}
}

// --- internal state helpers ---

func (s *Synchronizer) setCurrent(snapshot *session.Snapshot) {
	s.currentMu.Lock()
	s.current = snapshot.Clone()
	s.currentMu.Unlock()
}

func (s *Synchronizer) resetRefreshFailures() {
	s.currentMu.Lock()
	s.refreshFailures = 0
	s.currentMu.Unlock()
}

func (s *Synchronizer) recordRefreshFailure() int {
	s.currentMu.Lock()
	defer s.currentMu.Unlock()
	s.refreshFailures++
	return s.refreshFailures
}

// adoptConfirmed replaces the snapshot with an authoritative one and persists it
func (s *Synchronizer) adoptConfirmed(ctx context.Context, snapshot *session.Snapshot) {
	confirmed := snapshot.Clone()
	confirmed.FromCache = false
	if confirmed.CheckedAt.IsZero() {
		confirmed.CheckedAt = time.Now()
	}
	s.setCurrent(confirmed)
	s.persist(ctx, confirmed)
}

// persist writes the snapshot and validation time. Persistence failures are
// logged and swallowed: the durability layer is best-effort and must never
// surface to callers.
func (s *Synchronizer) persist(ctx context.Context, snapshot *session.Snapshot) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Error("failed to serialize session snapshot", zap.Error(err))
		return
	}
	if err := s.store.Put(ctx, store.KeySessionSnapshot, data); err != nil {
		s.logger.Warn("failed to persist session snapshot", zap.Error(err))
		return
	}
	stamp := snapshot.CheckedAt
	if stamp.IsZero() {
		stamp = time.Now()
	}
	if err := s.store.Put(ctx, store.KeySessionValidatedAt, []byte(stamp.Format(time.RFC3339))); err != nil {
		s.logger.Warn("failed to persist session validation time", zap.Error(err))
	}
}

// readCached loads the persisted snapshot, if any
func (s *Synchronizer) readCached(ctx context.Context) *session.Snapshot {
	data, ok, err := s.store.Get(ctx, store.KeySessionSnapshot)
	if err != nil || !ok {
		if err != nil {
			s.logger.Warn("failed to read cached session", zap.Error(err))
		}
		return nil
	}
	var snapshot session.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.logger.Warn("cached session is malformed, discarding", zap.Error(err))
		return nil
	}
	return &snapshot
}

// validatedWithinTTL reports whether the persisted validation stamp is
// recent enough to keep trusting the cached snapshot.
func (s *Synchronizer) validatedWithinTTL(ctx context.Context, cached *session.Snapshot) bool {
	data, ok, err := s.store.Get(ctx, store.KeySessionValidatedAt)
	if err != nil || !ok {
		return cached.ValidatedWithin(s.config.CacheTTL, time.Now())
	}
	stamp, err := time.Parse(time.RFC3339, string(data))
	if err != nil {
		return false
	}
	return time.Since(stamp) <= s.config.CacheTTL
}

// clearLocal drops the in-memory snapshot and all session-related persisted
// records. The cart record survives: a signed-out visitor keeps their cart.
func (s *Synchronizer) clearLocal(ctx context.Context) {
	s.currentMu.Lock()
	s.current = nil
	s.refreshFailures = 0
	s.currentMu.Unlock()

	for _, key := range []string{store.KeySessionSnapshot, store.KeySessionValidatedAt} {
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to clear session record",
				zap.String("key", key), zap.Error(err))
		}
	}
}

// expireLocally is logout-equivalent cleanup after remote invalidation
func (s *Synchronizer) expireLocally(ctx context.Context) {
	s.clearLocal(ctx)
	s.notifier.Notify(shared.NewNotice(shared.NoticeError,
		"Session expired", "Please sign in again"))
	if s.onLogout != nil {
		s.onLogout()
	}
}
