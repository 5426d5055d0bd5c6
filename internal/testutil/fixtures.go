package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"gatepass-agent/internal/domain"
)

// Counter for generating unique IDs
var idCounter atomic.Int64

// nextID generates a unique ID for test fixtures
func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idCounter.Add(1))
}

// NewTestCompany creates a test company membership
func NewTestCompany(name string, isDefault bool) domain.Company {
	return domain.Company{
		ID:      nextID("company"),
		Name:    name,
		Default: isDefault,
	}
}

// NewTestUser creates a test user with two company memberships, the first
// one marked default.
func NewTestUser() *domain.User {
	id := nextID("user")
	return &domain.User{
		ID:    id,
		Email: id + "@example.com",
		Name:  "Test Operator",
		Companies: []domain.Company{
			NewTestCompany("Acme Steel", true),
			NewTestCompany("Acme Cement", false),
		},
	}
}

// NewTestGrant creates a token grant with the given lifetimes
func NewTestGrant(accessTTL, refreshTTL time.Duration) domain.TokenGrant {
	return domain.TokenGrant{
		AccessToken:  nextID("access"),
		RefreshToken: nextID("refresh"),
		AccessTTL:    accessTTL,
		RefreshTTL:   refreshTTL,
	}
}

// NewTestRecord creates a complete session record for the given user with
// tokens valid for an hour.
func NewTestRecord(user *domain.User, now time.Time) domain.Record {
	return domain.Record{
		User:              user,
		Permissions:       []string{"gate.entry.view", "gate.entry.create"},
		PermissionsLoaded: true,
		CurrentCompany:    user.DefaultCompany(),
		AccessToken:       nextID("access"),
		RefreshToken:      nextID("refresh"),
		AccessExpiresAt:   now.Add(time.Hour),
		RefreshExpiresAt:  now.Add(24 * time.Hour),
		UpdatedAt:         now,
	}
}
