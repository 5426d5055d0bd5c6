// Package testutil provides shared test utilities, mocks, and fixtures
// for testing the gatepass-agent application.
package testutil

import (
	"context"
	"errors"
	"sync"

	"gatepass-agent/internal/domain"
	"gatepass-agent/internal/store"
)

// Common test errors
var (
	ErrMockNotImplemented = errors.New("mock function not implemented")
	ErrMockUnavailable    = errors.New("mock: store unavailable")
)

// MockKV implements store.KV for testing, with per-operation overrides and
// failure injection.
type MockKV struct {
	mu sync.RWMutex

	// Function overrides - set these to customize behavior
	GetFunc    func(ctx context.Context, key string) ([]byte, error)
	PutFunc    func(ctx context.Context, key string, value []byte) error
	DeleteFunc func(ctx context.Context, key string) error

	// FailAll makes every operation return ErrMockUnavailable
	FailAll bool

	// In-memory storage for simple tests
	Values map[string][]byte

	// Call counters
	Gets, Puts, Deletes int
}

// NewMockKV creates a new MockKV with initialized maps
func NewMockKV() *MockKV {
	return &MockKV{Values: make(map[string][]byte)}
}

func (m *MockKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	m.Gets++
	m.mu.Unlock()

	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	if m.FailAll {
		return nil, ErrMockUnavailable
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.Values[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *MockKV) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	m.Puts++
	m.mu.Unlock()

	if m.PutFunc != nil {
		return m.PutFunc(ctx, key, value)
	}
	if m.FailAll {
		return ErrMockUnavailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	m.Values[key] = stored
	return nil
}

func (m *MockKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	m.Deletes++
	m.mu.Unlock()

	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}
	if m.FailAll {
		return ErrMockUnavailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Values, key)
	return nil
}

// Len reports the number of stored keys
func (m *MockKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Values)
}

// MockAuthAPI implements domain.AuthAPI for testing
type MockAuthAPI struct {
	mu sync.Mutex

	LoginFunc          func(ctx context.Context, email, password string) (*domain.LoginResult, error)
	RefreshFunc        func(ctx context.Context, refreshToken string) (*domain.TokenGrant, error)
	MeFunc             func(ctx context.Context, accessToken string) (*domain.Profile, error)
	ChangePasswordFunc func(ctx context.Context, accessToken, oldPassword, newPassword string) error

	// Call counters
	Logins, Refreshes, Mes, PasswordChanges int
}

func (m *MockAuthAPI) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	m.mu.Lock()
	m.Logins++
	m.mu.Unlock()

	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password)
	}
	return nil, ErrMockNotImplemented
}

func (m *MockAuthAPI) Refresh(ctx context.Context, refreshToken string) (*domain.TokenGrant, error) {
	m.mu.Lock()
	m.Refreshes++
	m.mu.Unlock()

	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return nil, ErrMockNotImplemented
}

func (m *MockAuthAPI) Me(ctx context.Context, accessToken string) (*domain.Profile, error) {
	m.mu.Lock()
	m.Mes++
	m.mu.Unlock()

	if m.MeFunc != nil {
		return m.MeFunc(ctx, accessToken)
	}
	return nil, ErrMockNotImplemented
}

func (m *MockAuthAPI) ChangePassword(ctx context.Context, accessToken, oldPassword, newPassword string) error {
	m.mu.Lock()
	m.PasswordChanges++
	m.mu.Unlock()

	if m.ChangePasswordFunc != nil {
		return m.ChangePasswordFunc(ctx, accessToken, oldPassword, newPassword)
	}
	return ErrMockNotImplemented
}

// RefreshCount returns the number of Refresh calls, safely.
func (m *MockAuthAPI) RefreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Refreshes
}

// MeCount returns the number of Me calls, safely.
func (m *MockAuthAPI) MeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Mes
}
