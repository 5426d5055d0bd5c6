// Package session implements the client-side session lifecycle: the typed
// cache accessor over the local store, the token-validity policy, the
// refresh orchestrator, and the manager that owns bootstrap, login/logout,
// and the periodic permission sync.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gatepass-agent/internal/domain"
	"gatepass-agent/internal/observability"
	"gatepass-agent/internal/store"
)

// The one well-known key. At most one session record exists at any time.
const cacheKey = "session"

// Cache is the typed accessor over the single-slot local store.
type Cache struct {
	kv  store.KV
	now func() time.Time
}

func NewCache(kv store.KV) *Cache {
	return &Cache{kv: kv, now: time.Now}
}

// Get returns the cached session record. A missing record, an unreadable
// store, or a corrupt value all yield the zero record: readers must treat
// zero/empty fields as "absent", never as an error.
func (c *Cache) Get(ctx context.Context) domain.Record {
	blob, err := c.kv.Get(ctx, cacheKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			observability.Warn("session cache unreadable, treating as empty", "error", err.Error())
		}
		return domain.Record{}
	}

	var rec domain.Record
	if err := json.Unmarshal(blob, &rec); err != nil {
		observability.Warn("session cache corrupt, treating as empty", "error", err.Error())
		return domain.Record{}
	}
	return rec
}

// AccessToken returns the cached access token, empty when absent.
func (c *Cache) AccessToken(ctx context.Context) string {
	return c.Get(ctx).AccessToken
}

// RefreshToken returns the cached refresh token, empty when absent.
func (c *Cache) RefreshToken(ctx context.Context) string {
	return c.Get(ctx).RefreshToken
}

// User returns the cached user, nil when absent.
func (c *Cache) User(ctx context.Context) *domain.User {
	return c.Get(ctx).User
}

// Permissions returns the cached permission strings, empty when absent.
func (c *Cache) Permissions(ctx context.Context) []string {
	return c.Get(ctx).Permissions
}

// CurrentCompany returns the cached company selection, nil when absent.
func (c *Cache) CurrentCompany(ctx context.Context) *domain.Company {
	return c.Get(ctx).CurrentCompany
}

// AccessExpiresAt returns the cached access-token expiry, zero when absent.
func (c *Cache) AccessExpiresAt(ctx context.Context) time.Time {
	return c.Get(ctx).AccessExpiresAt
}

// Update is a partial mutation of the session record. Nil fields keep the
// previous value; Replace starts from an empty record instead of merging.
type Update struct {
	Replace bool

	User              *domain.User
	Permissions       []string // non-nil replaces, including empty
	PermissionsLoaded *bool
	CurrentCompany    *domain.Company
	ClearCompany      bool
	AccessToken       *string
	RefreshToken      *string
	AccessExpiresAt   *time.Time
	RefreshExpiresAt  *time.Time
}

// Upsert merges u into the stored record and writes it back. Writes are
// last-write-wins. The merged record is normalized before the write:
//
//   - tokens without a user are rejected (domain.ErrUserRequired)
//   - a current company no longer among the user's memberships is reset to
//     the default membership, or cleared when there is none
//
// Store failures propagate; the caller decides whether the write was on a
// critical path (login/refresh) or best-effort (company switch sync).
func (c *Cache) Upsert(ctx context.Context, u Update) error {
	rec := domain.Record{}
	if !u.Replace {
		rec = c.Get(ctx)
	}

	if u.User != nil {
		rec.User = u.User
	}
	if u.Permissions != nil {
		rec.Permissions = dedupe(u.Permissions)
	}
	if u.PermissionsLoaded != nil {
		rec.PermissionsLoaded = *u.PermissionsLoaded
	}
	if u.ClearCompany {
		rec.CurrentCompany = nil
	} else if u.CurrentCompany != nil {
		rec.CurrentCompany = u.CurrentCompany
	}
	if u.AccessToken != nil {
		rec.AccessToken = *u.AccessToken
	}
	if u.RefreshToken != nil {
		rec.RefreshToken = *u.RefreshToken
	}
	if u.AccessExpiresAt != nil {
		rec.AccessExpiresAt = *u.AccessExpiresAt
	}
	if u.RefreshExpiresAt != nil {
		rec.RefreshExpiresAt = *u.RefreshExpiresAt
	}

	if rec.AccessToken != "" && rec.User == nil {
		return domain.ErrUserRequired
	}
	if rec.CurrentCompany != nil && !rec.User.HasCompany(rec.CurrentCompany.ID) {
		rec.CurrentCompany = rec.User.DefaultCompany()
	}

	rec.UpdatedAt = c.now()

	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	if err := c.kv.Put(ctx, cacheKey, blob); err != nil {
		return fmt.Errorf("write session record: %w", err)
	}
	return nil
}

// Clear deletes the session record.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.kv.Delete(ctx, cacheKey); err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	return nil
}

// dedupe drops duplicate permission strings, preserving first-seen order.
// Consumers don't require uniqueness, but duplicates are dead weight.
func dedupe(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
