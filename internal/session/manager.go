package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gatepass-agent/internal/domain"
	"gatepass-agent/internal/observability"

	"github.com/google/uuid"
)

// Manager owns the in-memory session state and the lifecycle operations
// over it: one-shot bootstrap, login/logout, token handout, company
// switching, and the periodic permission sync. The local store keeps the
// persisted copy; the Manager keeps the derived in-memory copy and every
// mutation writes through to both.
type Manager struct {
	api        domain.AuthAPI
	cache      *Cache
	refresher  *Refresher
	policy     Policy
	now        func() time.Time
	instanceID string

	bootOnce sync.Once

	// refreshMu serializes every read-refresh-write cycle. The backend
	// rotates the refresh token on each exchange, so two concurrent
	// refreshes would log the loser out of its own session.
	refreshMu sync.Mutex

	mu    sync.Mutex
	epoch uint64 // bumped on login/logout so late sync results are dropped
	state sessionState
}

func NewManager(api domain.AuthAPI, cache *Cache, policy Policy) *Manager {
	now := time.Now
	if policy.Now != nil {
		now = policy.Now
	}
	m := &Manager{
		api:        api,
		cache:      cache,
		refresher:  NewRefresher(api, cache),
		policy:     policy,
		now:        now,
		instanceID: uuid.New().String(),
	}
	m.refresher.now = now
	m.state.state = StateUninitialized
	return m
}

// InstanceID identifies this agent process in logs and health output.
func (m *Manager) InstanceID() string {
	return m.instanceID
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.state
}

// Snapshot returns a copy of the in-memory session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.snapshot()
}

// Bootstrap restores session state from the local cache, refreshing tokens
// when they are close to expiry. It runs at most once per process; later
// calls return the settled state. Every failure path resolves to
// Unauthenticated, never to an indeterminate state.
func (m *Manager) Bootstrap(ctx context.Context) State {
	m.bootOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				observability.Error("bootstrap panic", "panic", fmt.Sprint(r))
				m.dispatch(initComplete{state: StateUnauthenticated})
				observability.BootstrapTotal.WithLabelValues("error").Inc()
			}
		}()
		m.bootstrap(ctx)
	})
	return m.State()
}

func (m *Manager) bootstrap(ctx context.Context) {
	m.dispatch(checking{})

	rec := m.cache.Get(ctx)
	if rec.AccessToken == "" || rec.RefreshToken == "" || rec.User == nil {
		// Nothing cached, or a partial record not worth trusting. The
		// cache is left untouched; there may be nothing to clear.
		m.dispatch(initComplete{state: StateUnauthenticated})
		observability.BootstrapTotal.WithLabelValues("no_session").Inc()
		return
	}

	if m.policy.Expired(rec.AccessExpiresAt) {
		m.clearBestEffort(ctx)
		m.dispatch(initComplete{state: StateUnauthenticated})
		observability.BootstrapTotal.WithLabelValues("expired").Inc()
		return
	}

	if m.policy.NearExpiry(rec.AccessExpiresAt) {
		m.refreshMu.Lock()
		_, err := m.refresher.Refresh(ctx)
		m.refreshMu.Unlock()
		if err != nil {
			m.clearBestEffort(ctx)
			m.dispatch(initComplete{state: StateUnauthenticated})
			observability.BootstrapTotal.WithLabelValues("refresh_failed").Inc()
			return
		}
	}

	// Re-read so just-rotated tokens and the stored profile publish together.
	rec = m.cache.Get(ctx)
	m.dispatch(initComplete{state: StateAuthenticated, rec: rec})
	observability.BootstrapTotal.WithLabelValues("authenticated").Inc()

	// Best-effort completion of the record; failure does not revert the
	// Authenticated transition.
	go func() {
		syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := m.SyncProfile(syncCtx); err != nil {
			observability.Warn("post-bootstrap profile sync failed", "error", err.Error())
		}
	}()
}

// Login authenticates against the backend and persists the partial session
// record (identity + tokens, permissions not yet loaded) before reporting
// success. The profile sync that completes the record is best-effort.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return domain.ErrInvalidInput
	}

	res, err := m.api.Login(ctx, email, password)
	if err != nil {
		observability.LoginAttemptsTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("login: %w", err)
	}

	now := m.now()
	accessExpires := now.Add(res.Grant.AccessTTL)
	refreshExpires := now.Add(res.Grant.RefreshTTL)

	err = m.cache.Upsert(ctx, Update{
		Replace:          true,
		User:             res.User,
		AccessToken:      &res.Grant.AccessToken,
		RefreshToken:     &res.Grant.RefreshToken,
		AccessExpiresAt:  &accessExpires,
		RefreshExpiresAt: &refreshExpires,
	})
	if err != nil {
		// An unpersisted session token is unsafe to treat as persisted.
		observability.LoginAttemptsTotal.WithLabelValues("store_failure").Inc()
		return fmt.Errorf("persist session: %w", err)
	}

	m.mu.Lock()
	m.epoch++
	applyEvent(&m.state, loginSucceeded{user: res.User, accessExpiresAt: accessExpires})
	m.mu.Unlock()
	observability.LoginAttemptsTotal.WithLabelValues("success").Inc()

	if err := m.SyncProfile(ctx); err != nil {
		observability.Warn("post-login profile sync failed", "error", err.Error())
	}
	return nil
}

// Logout always wins: in-memory state flips first so any in-flight sync
// completion is dropped, then the persisted record is deleted.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.epoch++
	applyEvent(&m.state, loggedOut{})
	m.mu.Unlock()

	return m.cache.Clear(ctx)
}

// Token returns a valid access token for outbound calls, refreshing first
// when the cached token is near or past expiry. Concurrent callers are
// serialized so at most one refresh hits the backend. A refresh that
// cannot succeed (no usable refresh token, exchange rejected) kills the
// session: cache cleared, state Unauthenticated.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	rec := m.cache.Get(ctx)
	if rec.AccessToken == "" || rec.User == nil {
		return "", domain.ErrNotAuthenticated
	}

	if !m.policy.NearExpiry(rec.AccessExpiresAt) {
		return rec.AccessToken, nil
	}

	if m.policy.Expired(rec.RefreshExpiresAt) {
		m.expire(ctx)
		return "", domain.ErrNotAuthenticated
	}

	grant, err := m.refresher.Refresh(ctx)
	if err != nil {
		m.expire(ctx)
		return "", fmt.Errorf("refresh session: %w", err)
	}

	m.dispatch(tokensUpdated{accessExpiresAt: m.now().Add(grant.AccessTTL)})
	return grant.AccessToken, nil
}

// ForceRefresh rotates the token pair regardless of expiry. Unlike the
// Token path a failure here does not kill the session; the caller decides
// whether to retry later or log out.
func (m *Manager) ForceRefresh(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	rec := m.cache.Get(ctx)
	if rec.RefreshToken == "" || rec.User == nil {
		return domain.ErrNotAuthenticated
	}

	grant, err := m.refresher.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}

	m.dispatch(tokensUpdated{accessExpiresAt: m.now().Add(grant.AccessTTL)})
	return nil
}

// SwitchCompany changes the current company to another of the user's
// memberships. The in-memory switch is the source of truth; the cache sync
// is best-effort and corrected by the next write cycle if it fails.
func (m *Manager) SwitchCompany(ctx context.Context, companyID string) error {
	m.mu.Lock()
	if m.state.state != StateAuthenticated {
		m.mu.Unlock()
		return domain.ErrNotAuthenticated
	}
	user := m.state.user
	var company *domain.Company
	for i := range user.Companies {
		if user.Companies[i].ID == companyID {
			c := user.Companies[i]
			company = &c
			break
		}
	}
	if company == nil {
		m.mu.Unlock()
		return domain.ErrUnknownCompany
	}
	applyEvent(&m.state, companySwitched{company: company})
	m.mu.Unlock()

	if err := m.cache.Upsert(ctx, Update{CurrentCompany: company}); err != nil {
		observability.Warn("company switch cache sync failed", "error", err.Error())
	}
	return nil
}

// ChangePassword proxies to the backend using a freshly validated token.
func (m *Manager) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return domain.ErrInvalidInput
	}
	token, err := m.Token(ctx)
	if err != nil {
		return err
	}
	if err := m.api.ChangePassword(ctx, token, oldPassword, newPassword); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	return nil
}

// SyncProfile fetches the full current-session info and merges it into
// both copies. A result that arrives after a logout or re-login is dropped
// rather than written, so a dead session cannot be resurrected in memory.
func (m *Manager) SyncProfile(ctx context.Context) error {
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()

	token := m.cache.AccessToken(ctx)
	if token == "" {
		return domain.ErrNotAuthenticated
	}

	start := time.Now()
	profile, err := m.api.Me(ctx, token)
	observability.PermissionSyncDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("fetch session info: %w", err)
	}

	m.mu.Lock()
	if m.epoch != epoch || m.state.state != StateAuthenticated {
		m.mu.Unlock()
		return nil
	}
	// The previously selected company must still be a membership; fall
	// back to the default membership when it is not.
	company := m.state.company
	if company == nil || !profile.User.HasCompany(company.ID) {
		company = profile.User.DefaultCompany()
	}
	applyEvent(&m.state, profileUpdated{
		user:        profile.User,
		permissions: profile.Permissions,
		company:     company,
	})
	m.mu.Unlock()

	loaded := true
	upd := Update{
		User:              profile.User,
		Permissions:       profile.Permissions,
		PermissionsLoaded: &loaded,
	}
	if company != nil {
		upd.CurrentCompany = company
	} else {
		upd.ClearCompany = true
	}
	if err := m.cache.Upsert(ctx, upd); err != nil {
		observability.Warn("session cache sync failed", "error", err.Error())
	}
	return nil
}

// RunPermissionSync re-fetches the session profile on a fixed interval
// until ctx is cancelled. Fires while unauthenticated are skipped;
// overlapping fires are not deduplicated, the writes are idempotent.
func (m *Manager) RunPermissionSync(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.State() != StateAuthenticated {
				continue
			}
			if err := m.SyncProfile(ctx); err != nil {
				observability.FromContext(ctx).Warn("permission sync failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

// expire drops a session that cannot be recovered: clear both copies.
func (m *Manager) expire(ctx context.Context) {
	m.mu.Lock()
	m.epoch++
	applyEvent(&m.state, loggedOut{})
	m.mu.Unlock()
	m.clearBestEffort(ctx)
}

func (m *Manager) clearBestEffort(ctx context.Context) {
	if err := m.cache.Clear(ctx); err != nil {
		observability.Warn("failed to clear session cache", "error", err.Error())
	}
}

func (m *Manager) dispatch(e event) {
	m.mu.Lock()
	applyEvent(&m.state, e)
	m.mu.Unlock()
}
