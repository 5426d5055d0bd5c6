package session

import (
	"time"

	"gatepass-agent/internal/domain"
	"gatepass-agent/internal/observability"
)

// State is the bootstrap lifecycle state. Authenticated and
// Unauthenticated are terminal per process run; a fresh run starts over
// from Uninitialized.
type State int

const (
	StateUninitialized State = iota
	StateChecking
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateChecking:
		return "checking"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time copy of the in-memory session state, safe to
// hand out to the agent API.
type Snapshot struct {
	State             State
	User              *domain.User
	Permissions       []string
	PermissionsLoaded bool
	CurrentCompany    *domain.Company
	AccessExpiresAt   time.Time
}

// sessionState is the single in-memory copy of the session, owned by the
// Manager and mutated only through the event types below.
type sessionState struct {
	state             State
	user              *domain.User
	permissions       []string
	permissionsLoaded bool
	company           *domain.Company
	accessExpiresAt   time.Time
}

func (s *sessionState) snapshot() Snapshot {
	perms := make([]string, len(s.permissions))
	copy(perms, s.permissions)
	return Snapshot{
		State:             s.state,
		User:              s.user,
		Permissions:       perms,
		PermissionsLoaded: s.permissionsLoaded,
		CurrentCompany:    s.company,
		AccessExpiresAt:   s.accessExpiresAt,
	}
}

// event is one of the closed set of in-memory state transitions.
type event interface {
	apply(s *sessionState)
}

// checking marks the start of bootstrap.
type checking struct{}

func (checking) apply(s *sessionState) {
	s.state = StateChecking
}

// initComplete settles bootstrap into its terminal state, publishing the
// cached record when the outcome is Authenticated.
type initComplete struct {
	state State
	rec   domain.Record
}

func (e initComplete) apply(s *sessionState) {
	s.state = e.state
	if e.state != StateAuthenticated {
		return
	}
	s.user = e.rec.User
	s.permissions = e.rec.Permissions
	s.permissionsLoaded = e.rec.PermissionsLoaded
	s.company = e.rec.CurrentCompany
	s.accessExpiresAt = e.rec.AccessExpiresAt
}

// loginSucceeded publishes a fresh partial session: identity and tokens,
// permissions not yet loaded.
type loginSucceeded struct {
	user            *domain.User
	accessExpiresAt time.Time
}

func (e loginSucceeded) apply(s *sessionState) {
	s.state = StateAuthenticated
	s.user = e.user
	s.permissions = nil
	s.permissionsLoaded = false
	s.company = nil
	s.accessExpiresAt = e.accessExpiresAt
}

// tokensUpdated records a rotated token pair.
type tokensUpdated struct {
	accessExpiresAt time.Time
}

func (e tokensUpdated) apply(s *sessionState) {
	s.accessExpiresAt = e.accessExpiresAt
}

// profileUpdated merges a fetched profile: user, permissions, and the
// normalized company selection.
type profileUpdated struct {
	user        *domain.User
	permissions []string
	company     *domain.Company
}

func (e profileUpdated) apply(s *sessionState) {
	s.user = e.user
	s.permissions = e.permissions
	s.permissionsLoaded = true
	s.company = e.company
}

// companySwitched changes the current company selection.
type companySwitched struct {
	company *domain.Company
}

func (e companySwitched) apply(s *sessionState) {
	s.company = e.company
}

// loggedOut drops everything.
type loggedOut struct{}

func (loggedOut) apply(s *sessionState) {
	*s = sessionState{state: StateUnauthenticated}
}

// applyEvent mutates s and keeps the authenticated gauge in step. Callers
// hold the Manager mutex.
func applyEvent(s *sessionState, e event) {
	e.apply(s)
	if s.state == StateAuthenticated {
		observability.SessionAuthenticated.Set(1)
	} else {
		observability.SessionAuthenticated.Set(0)
	}
}
