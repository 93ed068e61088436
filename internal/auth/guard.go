package auth

import (
	"fmt"
	"time"

	"github.com/anhtran/teashop/internal/models"
)

// OutcomeKind tags the three results the guard can hand back to the login
// flow.
type OutcomeKind int

const (
	// Allowed: credentials matched and the account is usable.
	Allowed OutcomeKind = iota
	// DeniedRetryable: wrong credentials, account still active.
	DeniedRetryable
	// DeniedLocked: the account is locked, by failures or by an admin.
	DeniedLocked
)

// Outcome is what the guard reports for one attempt. For DeniedRetryable,
// AttemptsLeft is how many failures remain before lockout. For DeniedLocked,
// HoursLeft carries the countdown of a time-bound lock and AdminLock marks a
// lock that only an explicit unlock clears. Message is ready for end-user
// display.
type Outcome struct {
	Kind         OutcomeKind
	AttemptsLeft int
	HoursLeft    int
	AdminLock    bool
	Message      string
}

// Guard is the account lockout state machine. It mutates the lock fields on
// a loaded user in memory; persisting them is the caller's job. Admin
// accounts are exempt from failure lockout. The clock is injectable for
// tests.
type Guard struct {
	threshold int
	lockFor   time.Duration
	now       func() time.Time
}

type GuardOption func(*Guard)

func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

func NewGuard(threshold int, lockFor time.Duration, opts ...GuardOption) *Guard {
	if threshold < 1 {
		threshold = 5
	}
	if lockFor <= 0 {
		lockFor = 24 * time.Hour
	}
	g := &Guard{threshold: threshold, lockFor: lockFor, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check reports whether an account is currently locked, before any
// credential work is done. A time-bound lock whose deadline has passed does
// not block here; OnFailure and OnSuccess perform the actual reset at the
// next attempt.
func (g *Guard) Check(u *models.User) (Outcome, bool) {
	if !u.Locked {
		return Outcome{}, false
	}
	if u.LockUntil != nil && !g.now().Before(*u.LockUntil) {
		// Expired time lock; let the attempt proceed.
		return Outcome{}, false
	}
	return g.lockedOutcome(u), true
}

// OnFailure records a failed credential check and returns the outcome to
// surface. The transition rules:
//
//   - admin accounts never accumulate lockout state;
//   - an expired time lock resets to active with this failure counting as
//     the first new attempt;
//   - otherwise the counter increments, and reaching the threshold locks
//     the account for the configured duration.
func (g *Guard) OnFailure(u *models.User) Outcome {
	if u.IsAdmin {
		return Outcome{
			Kind:    DeniedRetryable,
			Message: "Invalid email or password",
		}
	}

	now := g.now()

	if u.Locked {
		if u.LockUntil != nil && !now.Before(*u.LockUntil) {
			clearLock(u)
			u.LoginAttempts = 1
		} else {
			return g.lockedOutcome(u)
		}
	} else {
		u.LoginAttempts++
	}

	if u.LoginAttempts >= g.threshold {
		until := now.Add(g.lockFor)
		u.Locked = true
		u.LockedReason = models.LockReasonFailedLogin
		u.LockedAt = &now
		u.LockUntil = &until
		return g.lockedOutcome(u)
	}

	left := g.threshold - u.LoginAttempts
	return Outcome{
		Kind:         DeniedRetryable,
		AttemptsLeft: left,
		Message:      fmt.Sprintf("Invalid email or password. %d attempt(s) left before your account is locked", left),
	}
}

// OnSuccess records a successful credential check, clearing any failure
// trail.
func (g *Guard) OnSuccess(u *models.User) {
	if u.LoginAttempts == 0 && !u.Locked {
		return
	}
	u.LoginAttempts = 0
	if u.Locked && u.LockUntil != nil && !g.now().Before(*u.LockUntil) {
		clearLock(u)
	}
	u.LockUntil = nil
}

func (g *Guard) lockedOutcome(u *models.User) Outcome {
	if u.LockUntil == nil {
		return Outcome{
			Kind:      DeniedLocked,
			AdminLock: true,
			Message:   "Your account has been locked. Please contact an administrator",
		}
	}
	remaining := u.LockUntil.Sub(g.now())
	hours := int((remaining.Milliseconds() + msPerHour - 1) / msPerHour)
	if hours < 1 {
		hours = 1
	}
	return Outcome{
		Kind:      DeniedLocked,
		HoursLeft: hours,
		Message:   fmt.Sprintf("Your account is locked. Try again in %d hour(s)", hours),
	}
}

const msPerHour = int64(time.Hour / time.Millisecond)

func clearLock(u *models.User) {
	u.Locked = false
	u.LockedReason = ""
	u.LockUntil = nil
	u.LockedAt = nil
	u.LockedBy = nil
}
