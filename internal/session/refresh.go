package session

import (
	"context"
	"fmt"
	"time"

	"gatepass-agent/internal/domain"
	"gatepass-agent/internal/observability"
)

// Refresher exchanges the cached refresh token for a new token pair and
// writes the rotated pair through the cache. Exactly one attempt per call,
// no retry. It holds no concurrency guard of its own; the Manager
// serializes callers so two paths cannot race the same refresh token
// against the backend's rotation.
type Refresher struct {
	api   domain.AuthAPI
	cache *Cache
	now   func() time.Time
}

func NewRefresher(api domain.AuthAPI, cache *Cache) *Refresher {
	return &Refresher{api: api, cache: cache, now: time.Now}
}

// Refresh performs the exchange. On failure the cache is left untouched:
// the caller decides whether the session is dead (clear) or the failure
// was transient. Absolute expiries are computed here from the
// server-reported relative lifetimes; server-side absolute timestamps are
// never trusted.
func (r *Refresher) Refresh(ctx context.Context) (*domain.TokenGrant, error) {
	refreshToken := r.cache.RefreshToken(ctx)
	if refreshToken == "" {
		observability.TokenRefreshTotal.WithLabelValues("no_token").Inc()
		return nil, domain.ErrNoRefreshToken
	}

	grant, err := r.api.Refresh(ctx, refreshToken)
	if err != nil {
		observability.TokenRefreshTotal.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("refresh token exchange: %w", err)
	}

	now := r.now()
	accessExpires := now.Add(grant.AccessTTL)
	refreshExpires := now.Add(grant.RefreshTTL)

	err = r.cache.Upsert(ctx, Update{
		AccessToken:      &grant.AccessToken,
		RefreshToken:     &grant.RefreshToken,
		AccessExpiresAt:  &accessExpires,
		RefreshExpiresAt: &refreshExpires,
	})
	if err != nil {
		// An unpersisted token must not be treated as persisted.
		observability.TokenRefreshTotal.WithLabelValues("store_failure").Inc()
		return nil, fmt.Errorf("persist refreshed tokens: %w", err)
	}

	observability.TokenRefreshTotal.WithLabelValues("success").Inc()
	return grant, nil
}
