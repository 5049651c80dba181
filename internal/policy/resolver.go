// Package policy resolves permissions and enforces their time, rate, quota,
// and token-budget rules against the counter store.
package policy

import (
	"context"
	"errors"
	"time"

	"github.com/glueco/keywarden/internal/model"
)

var (
	// ErrPermissionDenied covers missing permissions and permissions outside
	// their validity bounds. The caller does not learn which.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrRateLimited is returned when burst or sustained rate is exhausted.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrBudgetExceeded is returned when a request quota or token budget is
	// exhausted.
	ErrBudgetExceeded = errors.New("budget exceeded")
)

// PermissionSource looks up the single ACTIVE permission for an
// (app, resource, action) triple. Implementations return (nil, nil) when no
// active permission exists.
type PermissionSource interface {
	GetActivePermission(ctx context.Context, appID, resourceID, action string) (*model.Permission, error)
}

// Resolver matches an authenticated app against a resource and action, and
// checks the matched permission's time-bound validity.
type Resolver struct {
	perms PermissionSource
	loc   *time.Location
	now   func() time.Time
}

// NewResolver creates a Resolver evaluating time windows in loc (UTC if nil).
func NewResolver(perms PermissionSource, loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{perms: perms, loc: loc, now: time.Now}
}

// SetClock overrides the resolver's clock. Intended for tests.
func (r *Resolver) SetClock(now func() time.Time) { r.now = now }

// Resolve returns the active permission governing the call, or
// ErrPermissionDenied if none matches or the match is outside its validity
// window.
func (r *Resolver) Resolve(ctx context.Context, appID, resourceID, action string) (*model.Permission, error) {
	perm, err := r.perms.GetActivePermission(ctx, appID, resourceID, action)
	if err != nil {
		return nil, err
	}
	if perm == nil || perm.Status != model.PermissionActive {
		return nil, ErrPermissionDenied
	}

	now := r.now().In(r.loc)
	if perm.ValidFrom != nil && now.Before(*perm.ValidFrom) {
		return nil, ErrPermissionDenied
	}
	if perm.ExpiresAt != nil && !now.Before(*perm.ExpiresAt) {
		return nil, ErrPermissionDenied
	}
	if perm.Window != nil && !perm.Window.Contains(now) {
		return nil, ErrPermissionDenied
	}
	return perm, nil
}
