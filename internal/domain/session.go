package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoRefreshToken   = errors.New("no refresh token")
	ErrUserRequired     = errors.New("session record with tokens requires a user")
	ErrUnknownCompany   = errors.New("company not in user's memberships")
	ErrInvalidInput     = errors.New("invalid input")
)

// Company is one of a user's company memberships.
type Company struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

// User identifies the authenticated operator.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Staff     bool      `json:"staff"`
	Companies []Company `json:"companies,omitempty"`
}

// DefaultCompany returns the user's default membership. When no membership
// is marked default, the first membership is used; nil if there are none.
func (u *User) DefaultCompany() *Company {
	if u == nil || len(u.Companies) == 0 {
		return nil
	}
	for i := range u.Companies {
		if u.Companies[i].Default {
			c := u.Companies[i]
			return &c
		}
	}
	c := u.Companies[0]
	return &c
}

// HasCompany reports whether id is among the user's memberships.
func (u *User) HasCompany(id string) bool {
	if u == nil {
		return false
	}
	for i := range u.Companies {
		if u.Companies[i].ID == id {
			return true
		}
	}
	return false
}

// Record is the single persisted session snapshot. Zero values mean
// "absent": empty tokens, nil user/company, zero expiry instants.
type Record struct {
	User              *User     `json:"user,omitempty"`
	Permissions       []string  `json:"permissions,omitempty"`
	PermissionsLoaded bool      `json:"permissions_loaded"`
	CurrentCompany    *Company  `json:"current_company,omitempty"`
	AccessToken       string    `json:"access_token,omitempty"`
	RefreshToken      string    `json:"refresh_token,omitempty"`
	AccessExpiresAt   time.Time `json:"access_expires_at,omitzero"`
	RefreshExpiresAt  time.Time `json:"refresh_expires_at,omitzero"`
	UpdatedAt         time.Time `json:"updated_at,omitzero"`
}

// IsZero reports whether the record carries no session at all.
func (r *Record) IsZero() bool {
	return r.User == nil && r.AccessToken == "" && r.RefreshToken == "" &&
		len(r.Permissions) == 0 && r.CurrentCompany == nil
}

// TokenGrant is a freshly issued token pair. Lifetimes are relative to the
// moment the grant was received; absolute expiries are always computed
// locally from them.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
}

// LoginResult is the outcome of a successful credential login: identity
// plus tokens, no permissions yet.
type LoginResult struct {
	User  *User
	Grant TokenGrant
}

// Profile is the full current-session info returned by the backend.
type Profile struct {
	User        *User
	Permissions []string
}

// AuthAPI is the remote authentication service boundary.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error)
	Me(ctx context.Context, accessToken string) (*Profile, error)
	ChangePassword(ctx context.Context, accessToken, oldPassword, newPassword string) error
}
