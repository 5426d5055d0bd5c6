package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatepass-agent/internal/domain"
	"gatepass-agent/internal/testutil"
)

func TestRefresher_NoRefreshToken(t *testing.T) {
	cache, _ := newTestCache(t)
	api := &testutil.MockAuthAPI{}
	refresher := NewRefresher(api, cache)

	_, err := refresher.Refresh(context.Background())
	if !errors.Is(err, domain.ErrNoRefreshToken) {
		t.Errorf("expected ErrNoRefreshToken, got %v", err)
	}
	if api.RefreshCount() != 0 {
		t.Error("remote endpoint must not be called without a refresh token")
	}
}

func TestRefresher_Success(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	user := testutil.NewTestUser()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if err := cache.Upsert(ctx, Update{
		User:         user,
		AccessToken:  strPtr("old-access"),
		RefreshToken: strPtr("old-refresh"),
	}); err != nil {
		t.Fatalf("seed Upsert failed: %v", err)
	}

	api := &testutil.MockAuthAPI{
		RefreshFunc: func(ctx context.Context, refreshToken string) (*domain.TokenGrant, error) {
			if refreshToken != "old-refresh" {
				t.Errorf("refresh called with %q, want old-refresh", refreshToken)
			}
			return &domain.TokenGrant{
				AccessToken:  "new-access",
				RefreshToken: "new-refresh",
				AccessTTL:    15 * time.Minute,
				RefreshTTL:   24 * time.Hour,
			}, nil
		},
	}
	refresher := NewRefresher(api, cache)
	refresher.now = func() time.Time { return now }

	grant, err := refresher.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if grant.AccessToken != "new-access" {
		t.Errorf("grant access token = %q", grant.AccessToken)
	}

	rec := cache.Get(ctx)
	if rec.AccessToken != "new-access" || rec.RefreshToken != "new-refresh" {
		t.Errorf("rotated tokens not persisted: %q %q", rec.AccessToken, rec.RefreshToken)
	}
	// Absolute expiries are local clock + relative lifetime
	if !rec.AccessExpiresAt.Equal(now.Add(15 * time.Minute)) {
		t.Errorf("access expiry = %v, want %v", rec.AccessExpiresAt, now.Add(15*time.Minute))
	}
	if !rec.RefreshExpiresAt.Equal(now.Add(24 * time.Hour)) {
		t.Errorf("refresh expiry = %v, want %v", rec.RefreshExpiresAt, now.Add(24*time.Hour))
	}
	// The user survives a token-only write
	if rec.User == nil || rec.User.ID != user.ID {
		t.Error("user should be preserved by the refresh write")
	}
}

func TestRefresher_RemoteFailureLeavesCacheUntouched(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	if err := cache.Upsert(ctx, Update{
		User:         testutil.NewTestUser(),
		AccessToken:  strPtr("old-access"),
		RefreshToken: strPtr("old-refresh"),
	}); err != nil {
		t.Fatalf("seed Upsert failed: %v", err)
	}

	remoteErr := errors.New("connection refused")
	api := &testutil.MockAuthAPI{
		RefreshFunc: func(ctx context.Context, refreshToken string) (*domain.TokenGrant, error) {
			return nil, remoteErr
		},
	}
	refresher := NewRefresher(api, cache)

	_, err := refresher.Refresh(ctx)
	if !errors.Is(err, remoteErr) {
		t.Errorf("expected wrapped remote error, got %v", err)
	}

	// The caller decides whether the session is dead; the cache stays as-is
	rec := cache.Get(ctx)
	if rec.AccessToken != "old-access" || rec.RefreshToken != "old-refresh" {
		t.Errorf("cache must be untouched on refresh failure: %q %q", rec.AccessToken, rec.RefreshToken)
	}
}

func TestRefresher_StoreFailurePropagates(t *testing.T) {
	kv := testutil.NewMockKV()
	cache := NewCache(kv)
	ctx := context.Background()

	if err := cache.Upsert(ctx, Update{
		User:         testutil.NewTestUser(),
		RefreshToken: strPtr("old-refresh"),
	}); err != nil {
		t.Fatalf("seed Upsert failed: %v", err)
	}
	kv.PutFunc = func(ctx context.Context, key string, value []byte) error {
		return testutil.ErrMockUnavailable
	}

	api := &testutil.MockAuthAPI{
		RefreshFunc: func(ctx context.Context, refreshToken string) (*domain.TokenGrant, error) {
			return &domain.TokenGrant{AccessToken: "a", RefreshToken: "r"}, nil
		},
	}
	refresher := NewRefresher(api, cache)

	_, err := refresher.Refresh(ctx)
	if !errors.Is(err, testutil.ErrMockUnavailable) {
		t.Errorf("an unpersisted token must surface the store failure, got %v", err)
	}
}
