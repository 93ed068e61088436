package auth

import (
	"context"
	"errors"
	"log"

	"github.com/anhtran/teashop/internal/database"
	"github.com/anhtran/teashop/internal/models"
	"github.com/anhtran/teashop/internal/ratelimit"
)

// AccountStore is what the authenticator needs from persistence.
type AccountStore interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	SaveLockState(ctx context.Context, u *models.User) error
}

// LoginStatus classifies the result of a login attempt for the HTTP layer.
type LoginStatus int

const (
	LoginOK LoginStatus = iota
	LoginRateLimited
	LoginDenied
	LoginLockedOut
)

type LoginResult struct {
	Status        LoginStatus
	Message       string
	AttemptsLeft  int
	RetryAfterSec int
	Token         string
	User          *models.User
}

// Authenticator runs the full login pipeline: rate limiter first, then
// account lookup, lockout check, credential verification, guard transition,
// lock-state persistence, session issuance.
type Authenticator struct {
	accounts AccountStore
	limiter  ratelimit.Store
	guard    *Guard
	sessions *SessionManager
}

func NewAuthenticator(accounts AccountStore, limiter ratelimit.Store, guard *Guard, sessions *SessionManager) *Authenticator {
	return &Authenticator{
		accounts: accounts,
		limiter:  limiter,
		guard:    guard,
		sessions: sessions,
	}
}

// Login authenticates one attempt from clientIP for the submitted email.
//
// The rate limiter runs before any credential work and counts the attempt
// whatever its outcome. A failure to persist the mutated lock state is
// logged and swallowed: the decision was already made from the in-memory
// state, and a storage hiccup must not turn into a login denial.
func (a *Authenticator) Login(ctx context.Context, clientIP, email, password string) (LoginResult, error) {
	decision, err := a.limiter.Allow(ctx, ratelimit.Key(clientIP, email))
	if err != nil {
		return LoginResult{}, err
	}
	if !decision.Allowed {
		return LoginResult{
			Status:        LoginRateLimited,
			Message:       "Too many login attempts. Please try again later",
			RetryAfterSec: decision.RetryAfterSec(),
		}, nil
	}

	user, err := a.accounts.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return LoginResult{
				Status:  LoginDenied,
				Message: "Invalid email or password",
			}, nil
		}
		return LoginResult{}, err
	}

	if outcome, locked := a.guard.Check(user); locked {
		return lockedResult(outcome, user), nil
	}

	if !CheckPassword(user.PasswordHash, password) {
		outcome := a.guard.OnFailure(user)
		a.saveLockState(ctx, user)

		if outcome.Kind == DeniedLocked {
			return lockedResult(outcome, user), nil
		}
		return LoginResult{
			Status:       LoginDenied,
			Message:      outcome.Message,
			AttemptsLeft: outcome.AttemptsLeft,
		}, nil
	}

	a.guard.OnSuccess(user)
	a.saveLockState(ctx, user)

	token, err := a.sessions.Issue(user.ID, user.IsAdmin)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{Status: LoginOK, Token: token, User: user}, nil
}

func (a *Authenticator) saveLockState(ctx context.Context, u *models.User) {
	if err := a.accounts.SaveLockState(ctx, u); err != nil {
		log.Printf("save lock state for user %d: %v", u.ID, err)
	}
}

func lockedResult(outcome Outcome, user *models.User) LoginResult {
	return LoginResult{
		Status:  LoginLockedOut,
		Message: outcome.Message,
		User:    user,
	}
}
