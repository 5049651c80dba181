package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/glueco/keywarden/internal/counter"
	"github.com/glueco/keywarden/internal/model"
)

// Enforcer runs the multi-dimensional policy checks for a resolved
// permission: burst, sustained rate, request quotas, and token budgets, in
// that order, each failing the request independently.
//
// Rate and quota enforcement happens inside the counter store's conditional
// increment, so concurrent requests cannot both pass a one-slot-remaining
// boundary. Window starts are part of the counter key; a new window is simply
// a new key, which makes resets deterministic and free of double-counting.
// Burst windows slide: the previous window's count is weighted by its
// remaining overlap, so a boundary crossing never grants a fresh full limit.
type Enforcer struct {
	counters counter.Store
	loc      *time.Location
	now      func() time.Time
}

// NewEnforcer creates an Enforcer. Calendar windows (daily/monthly) align to
// midnight and the first of the month in loc (UTC if nil).
func NewEnforcer(counters counter.Store, loc *time.Location) *Enforcer {
	if loc == nil {
		loc = time.UTC
	}
	return &Enforcer{counters: counters, loc: loc, now: time.Now}
}

// SetClock overrides the enforcer's clock. Intended for tests.
func (e *Enforcer) SetClock(now func() time.Time) { e.now = now }

// scope identifies the counter namespace for a permission. Keys are derived
// from the governing triple, not the permission row ID, so replacing a
// permission document does not reset in-flight windows.
func scope(p *model.Permission) string {
	return p.AppID + ":" + p.ResourceID + ":" + p.Action
}

// Check enforces every policy dimension configured on perm. A nil return
// means the request may proceed and its slot has been consumed.
func (e *Enforcer) Check(ctx context.Context, perm *model.Permission) error {
	now := e.now().In(e.loc)

	if b := perm.Burst; b != nil && b.Limit > 0 && b.WindowSeconds > 0 {
		if err := e.checkSliding(ctx, "burst", perm, int64(b.Limit), b.WindowSeconds, now, ErrRateLimited); err != nil {
			return err
		}
	}
	if r := perm.Rate; r != nil && r.MaxRequests > 0 && r.WindowSeconds > 0 {
		if err := e.checkWindow(ctx, "rate", perm, int64(r.MaxRequests), r.WindowSeconds, now, ErrRateLimited); err != nil {
			return err
		}
	}
	if q := perm.Quota; q != nil {
		if q.Daily > 0 {
			key := fmt.Sprintf("quota:d:%s:%s", scope(perm), dayKey(now))
			if err := e.incrCalendar(ctx, key, q.Daily, endOfDay(now).Sub(now)); err != nil {
				return err
			}
		}
		if q.Monthly > 0 {
			key := fmt.Sprintf("quota:m:%s:%s", scope(perm), monthKey(now))
			if err := e.incrCalendar(ctx, key, q.Monthly, endOfMonth(now).Sub(now)); err != nil {
				return err
			}
		}
	}
	if perm.Tokens != nil {
		// Token budgets are evaluated against spend already recorded; a
		// budget that is exhausted blocks further requests, but the request
		// currently in flight is not pre-charged (its cost is unknown until
		// the upstream responds).
		exhausted, err := e.BudgetExhausted(ctx, perm)
		if err != nil {
			return err
		}
		if exhausted {
			return ErrBudgetExceeded
		}
	}
	return nil
}

// BudgetExhausted reports whether the permission's recorded token spend has
// reached a configured budget. Also consulted mid-stream when the overrun
// policy cuts streams that run past their budget.
func (e *Enforcer) BudgetExhausted(ctx context.Context, perm *model.Permission) (bool, error) {
	t := perm.Tokens
	if t == nil {
		return false, nil
	}
	now := e.now().In(e.loc)
	if t.Daily > 0 {
		spent, err := e.counters.Get(ctx, fmt.Sprintf("tok:d:%s:%s", scope(perm), dayKey(now)))
		if err != nil {
			return false, err
		}
		if spent >= t.Daily {
			return true, nil
		}
	}
	if t.Monthly > 0 {
		spent, err := e.counters.Get(ctx, fmt.Sprintf("tok:m:%s:%s", scope(perm), monthKey(now)))
		if err != nil {
			return false, err
		}
		if spent >= t.Monthly {
			return true, nil
		}
	}
	return false, nil
}

// RecordUsage adds the observed token spend to the permission's daily and
// monthly budget counters. Called after the upstream response (or stream)
// completes.
func (e *Enforcer) RecordUsage(ctx context.Context, perm *model.Permission, usage model.Usage) error {
	if usage.TotalTokens == 0 {
		return nil
	}
	now := e.now().In(e.loc)
	dKey := fmt.Sprintf("tok:d:%s:%s", scope(perm), dayKey(now))
	if _, err := e.counters.Add(ctx, dKey, usage.TotalTokens, endOfDay(now).Sub(now)+time.Hour); err != nil {
		return err
	}
	mKey := fmt.Sprintf("tok:m:%s:%s", scope(perm), monthKey(now))
	if _, err := e.counters.Add(ctx, mKey, usage.TotalTokens, endOfMonth(now).Sub(now)+time.Hour); err != nil {
		return err
	}
	return nil
}

// checkSliding approximates a sliding window the way httprate's limiter
// does: the previous fixed window's count is weighted by how much of it still
// overlaps the sliding window, and the current window's allowance shrinks by
// that amount. The increment on the current window remains the atomic
// enforcement point, so a burst straddling a window boundary cannot admit a
// fresh full limit.
func (e *Enforcer) checkSliding(ctx context.Context, kind string, perm *model.Permission, limit int64, windowSeconds int, now time.Time, fail error) error {
	w := time.Duration(windowSeconds) * time.Second
	cur := now.Truncate(w)

	prevKey := fmt.Sprintf("%s:%s:%d", kind, scope(perm), cur.Add(-w).Unix())
	prevCount, err := e.counters.Get(ctx, prevKey)
	if err != nil {
		return err
	}
	overlap := 1 - float64(now.Sub(cur))/float64(w)
	allowance := limit - int64(float64(prevCount)*overlap)
	if allowance < 1 {
		return fail
	}

	key := fmt.Sprintf("%s:%s:%d", kind, scope(perm), cur.Unix())
	_, ok, err := e.counters.IncrWithLimit(ctx, key, allowance, 2*w)
	if err != nil {
		return err
	}
	if !ok {
		return fail
	}
	return nil
}

func (e *Enforcer) checkWindow(ctx context.Context, kind string, perm *model.Permission, limit int64, windowSeconds int, now time.Time, fail error) error {
	w := time.Duration(windowSeconds) * time.Second
	start := now.Truncate(w)
	key := fmt.Sprintf("%s:%s:%d", kind, scope(perm), start.Unix())
	_, ok, err := e.counters.IncrWithLimit(ctx, key, limit, 2*w)
	if err != nil {
		return err
	}
	if !ok {
		return fail
	}
	return nil
}

func (e *Enforcer) incrCalendar(ctx context.Context, key string, limit int64, ttl time.Duration) error {
	_, ok, err := e.counters.IncrWithLimit(ctx, key, limit, ttl+time.Hour)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBudgetExceeded
	}
	return nil
}

func dayKey(t time.Time) string   { return t.Format("2006-01-02") }
func monthKey(t time.Time) string { return t.Format("2006-01") }

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

func endOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, t.Location())
}
