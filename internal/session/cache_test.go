package session

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"gatepass-agent/internal/domain"
	"gatepass-agent/internal/testutil"
)

func newTestCache(t *testing.T) (*Cache, *testutil.MockKV) {
	t.Helper()
	kv := testutil.NewMockKV()
	cache := NewCache(kv)
	cache.now = func() time.Time {
		return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	}
	return cache, kv
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func TestCache_Get_MissingRecord(t *testing.T) {
	cache, _ := newTestCache(t)

	rec := cache.Get(context.Background())
	if !rec.IsZero() {
		t.Errorf("expected zero record on miss, got %+v", rec)
	}
	if rec.AccessToken != "" || rec.RefreshToken != "" {
		t.Error("expected empty tokens on miss")
	}
	if rec.User != nil || rec.CurrentCompany != nil {
		t.Error("expected nil user and company on miss")
	}
	if !rec.AccessExpiresAt.IsZero() {
		t.Error("expected zero expiry on miss")
	}
}

func TestCache_Get_StoreFailureTreatedAsMiss(t *testing.T) {
	cache, kv := newTestCache(t)
	kv.FailAll = true

	rec := cache.Get(context.Background())
	if !rec.IsZero() {
		t.Errorf("expected zero record when store unavailable, got %+v", rec)
	}
}

func TestCache_Get_CorruptRecordTreatedAsMiss(t *testing.T) {
	cache, kv := newTestCache(t)
	kv.Values["session"] = []byte("{not json")

	rec := cache.Get(context.Background())
	if !rec.IsZero() {
		t.Errorf("expected zero record for corrupt value, got %+v", rec)
	}
}

func TestCache_RoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	user := testutil.NewTestUser()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	company := user.DefaultCompany()
	loaded := true

	err := cache.Upsert(ctx, Update{
		User:              user,
		Permissions:       []string{"gate.entry.view", "qc.inspection.view"},
		PermissionsLoaded: &loaded,
		CurrentCompany:    company,
		AccessToken:       strPtr("access-1"),
		RefreshToken:      strPtr("refresh-1"),
		AccessExpiresAt:   timePtr(now.Add(time.Hour)),
		RefreshExpiresAt:  timePtr(now.Add(24 * time.Hour)),
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	rec := cache.Get(ctx)
	if rec.User == nil || rec.User.ID != user.ID {
		t.Errorf("user did not round-trip: %+v", rec.User)
	}
	if !reflect.DeepEqual(rec.Permissions, []string{"gate.entry.view", "qc.inspection.view"}) {
		t.Errorf("permissions did not round-trip: %v", rec.Permissions)
	}
	if !rec.PermissionsLoaded {
		t.Error("permissions_loaded did not round-trip")
	}
	if rec.CurrentCompany == nil || rec.CurrentCompany.ID != company.ID {
		t.Errorf("company did not round-trip: %+v", rec.CurrentCompany)
	}
	if rec.AccessToken != "access-1" || rec.RefreshToken != "refresh-1" {
		t.Errorf("tokens did not round-trip: %q %q", rec.AccessToken, rec.RefreshToken)
	}
	if !rec.AccessExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("access expiry did not round-trip: %v", rec.AccessExpiresAt)
	}
	if !rec.RefreshExpiresAt.Equal(now.Add(24 * time.Hour)) {
		t.Errorf("refresh expiry did not round-trip: %v", rec.RefreshExpiresAt)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be stamped on write")
	}
}

func TestCache_Upsert_MergePreservesUnsetFields(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	user := testutil.NewTestUser()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if err := cache.Upsert(ctx, Update{
		User:             user,
		Permissions:      []string{"gate.entry.view"},
		AccessToken:      strPtr("access-1"),
		RefreshToken:     strPtr("refresh-1"),
		AccessExpiresAt:  timePtr(now.Add(time.Hour)),
		RefreshExpiresAt: timePtr(now.Add(24 * time.Hour)),
	}); err != nil {
		t.Fatalf("initial Upsert failed: %v", err)
	}

	// Token-only update, like a refresh does
	if err := cache.Upsert(ctx, Update{
		AccessToken:      strPtr("access-2"),
		RefreshToken:     strPtr("refresh-2"),
		AccessExpiresAt:  timePtr(now.Add(2 * time.Hour)),
		RefreshExpiresAt: timePtr(now.Add(48 * time.Hour)),
	}); err != nil {
		t.Fatalf("token Upsert failed: %v", err)
	}

	rec := cache.Get(ctx)
	if rec.AccessToken != "access-2" {
		t.Errorf("access token not updated: %q", rec.AccessToken)
	}
	if rec.User == nil || rec.User.ID != user.ID {
		t.Error("user should be preserved across a token-only update")
	}
	if len(rec.Permissions) != 1 {
		t.Error("permissions should be preserved across a token-only update")
	}
}

func TestCache_Upsert_Idempotent(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	user := testutil.NewTestUser()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	update := Update{
		User:             user,
		AccessToken:      strPtr("access-1"),
		RefreshToken:     strPtr("refresh-1"),
		AccessExpiresAt:  timePtr(now.Add(time.Hour)),
		RefreshExpiresAt: timePtr(now.Add(24 * time.Hour)),
	}

	if err := cache.Upsert(ctx, update); err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}
	first := cache.Get(ctx)

	if err := cache.Upsert(ctx, update); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	second := cache.Get(ctx)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated identical update changed the record:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestCache_Upsert_RejectsTokenWithoutUser(t *testing.T) {
	cache, kv := newTestCache(t)
	ctx := context.Background()

	err := cache.Upsert(ctx, Update{AccessToken: strPtr("orphan-token")})
	if !errors.Is(err, domain.ErrUserRequired) {
		t.Errorf("expected ErrUserRequired, got %v", err)
	}
	if kv.Len() != 0 {
		t.Error("rejected update must not be persisted")
	}
}

func TestCache_Upsert_NormalizesStaleCompany(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	user := testutil.NewTestUser()

	stale := domain.Company{ID: "company-gone", Name: "Defunct Co"}
	if err := cache.Upsert(ctx, Update{User: user, CurrentCompany: &stale}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	rec := cache.Get(ctx)
	def := user.DefaultCompany()
	if rec.CurrentCompany == nil || rec.CurrentCompany.ID != def.ID {
		t.Errorf("stale company should reset to default membership, got %+v", rec.CurrentCompany)
	}
}

func TestCache_Upsert_CompanyResetToNoneWithoutMemberships(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	user := &domain.User{ID: "user-1", Email: "solo@example.com"}

	stale := domain.Company{ID: "company-gone"}
	if err := cache.Upsert(ctx, Update{User: user, CurrentCompany: &stale}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if rec := cache.Get(ctx); rec.CurrentCompany != nil {
		t.Errorf("company should reset to none when user has no memberships, got %+v", rec.CurrentCompany)
	}
}

func TestCache_Upsert_DeduplicatesPermissions(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	err := cache.Upsert(ctx, Update{
		User:        testutil.NewTestUser(),
		Permissions: []string{"a", "b", "a", "c", "b"},
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	rec := cache.Get(ctx)
	if !reflect.DeepEqual(rec.Permissions, []string{"a", "b", "c"}) {
		t.Errorf("expected deduplicated permissions in order, got %v", rec.Permissions)
	}
}

func TestCache_Upsert_PropagatesStoreFailure(t *testing.T) {
	cache, kv := newTestCache(t)
	kv.PutFunc = func(ctx context.Context, key string, value []byte) error {
		return testutil.ErrMockUnavailable
	}

	err := cache.Upsert(context.Background(), Update{User: testutil.NewTestUser()})
	if !errors.Is(err, testutil.ErrMockUnavailable) {
		t.Errorf("expected store failure to propagate, got %v", err)
	}
}

func TestCache_Clear(t *testing.T) {
	cache, kv := newTestCache(t)
	ctx := context.Background()

	if err := cache.Upsert(ctx, Update{User: testutil.NewTestUser()}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := cache.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if kv.Len() != 0 {
		t.Error("store should be empty after Clear")
	}
	if rec := cache.Get(ctx); !rec.IsZero() {
		t.Error("Get after Clear should return the zero record")
	}
}

func TestCache_TypedGetters(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	user := testutil.NewTestUser()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if err := cache.Upsert(ctx, Update{
		User:            user,
		Permissions:     []string{"gate.entry.view"},
		CurrentCompany:  user.DefaultCompany(),
		AccessToken:     strPtr("access-1"),
		RefreshToken:    strPtr("refresh-1"),
		AccessExpiresAt: timePtr(now.Add(time.Hour)),
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if got := cache.AccessToken(ctx); got != "access-1" {
		t.Errorf("AccessToken() = %q", got)
	}
	if got := cache.RefreshToken(ctx); got != "refresh-1" {
		t.Errorf("RefreshToken() = %q", got)
	}
	if got := cache.User(ctx); got == nil || got.ID != user.ID {
		t.Errorf("User() = %+v", got)
	}
	if got := cache.Permissions(ctx); len(got) != 1 {
		t.Errorf("Permissions() = %v", got)
	}
	if got := cache.CurrentCompany(ctx); got == nil {
		t.Error("CurrentCompany() = nil")
	}
	if got := cache.AccessExpiresAt(ctx); !got.Equal(now.Add(time.Hour)) {
		t.Errorf("AccessExpiresAt() = %v", got)
	}
}
