// Package token owns the provider access/refresh token lifecycle for
// one user at a time.  The manager is pure with respect to storage: it
// takes a bundle value and returns a new one, signalling the caller to
// persist it.  It never mutates shared state.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/envisionapp/envision-api/internal/model"
)

// RefreshMargin is the safety window applied before the reported
// expiry.  A token inside the margin is refreshed even though it is
// nominally still valid, so an outgoing call never carries a token that
// expires mid-flight.
const RefreshMargin = 60 * time.Second

// ErrNotConnected is returned when the user has no stored access token.
var ErrNotConnected = errors.New("no provider connection for user")

// ErrRefreshTokenMissing is returned when a refresh is needed but no
// refresh token is stored.
var ErrRefreshTokenMissing = errors.New("refresh token missing")

// ErrRefreshFailed is returned when the upstream refresh call is
// rejected.
var ErrRefreshFailed = errors.New("token refresh failed")

// Refresher performs the upstream refresh-token grant.  *canva.Client
// satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (model.TokenBundle, error)
}

// Manager decides when a bundle needs refreshing and performs the
// refresh synchronously.
type Manager struct {
	refresher Refresher
	now       func() time.Time // injectable clock for tests
}

// NewManager returns a Manager backed by the given refresher.
func NewManager(r Refresher) *Manager {
	return &Manager{refresher: r, now: time.Now}
}

// ValidAccessToken returns a bundle whose access token is safe to use
// for an outgoing call.  When the stored token still has more than the
// refresh margin left, the input bundle is returned unchanged with
// refreshed=false.  Otherwise a synchronous refresh runs and the NEW
// bundle is returned with refreshed=true; the caller must persist it.
func (m *Manager) ValidAccessToken(ctx context.Context, bundle model.TokenBundle) (model.TokenBundle, bool, error) {
	if !bundle.Connected() {
		return model.TokenBundle{}, false, ErrNotConnected
	}
	if m.now().UTC().Before(bundle.ExpiresAt().Add(-RefreshMargin)) {
		return bundle, false, nil
	}
	if bundle.RefreshToken == "" {
		return model.TokenBundle{}, false, ErrRefreshTokenMissing
	}
	fresh, err := m.refresher.Refresh(ctx, bundle.RefreshToken)
	if err != nil {
		return model.TokenBundle{}, false, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	// The upstream may omit fields it did not rotate; carry the old
	// values over so a partial response never truncates the bundle.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = bundle.RefreshToken
	}
	if fresh.TokenType == "" {
		fresh.TokenType = bundle.TokenType
	}
	if fresh.Scope == "" {
		fresh.Scope = bundle.Scope
	}
	return fresh, true, nil
}
