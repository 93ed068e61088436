package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/anhtran/teashop/internal/database"
	"github.com/anhtran/teashop/internal/models"
)

const userColumns = `id, email, name, password_hash, is_admin,
	login_attempts, locked, locked_reason, lock_until, locked_at, locked_by,
	created_at, updated_at, version`

func CreateUser(ctx context.Context, db *sql.DB, email, name, passwordHash string, isAdmin bool) (*models.User, error) {
	user := &models.User{}

	query := `
		INSERT INTO users (email, name, password_hash, is_admin, login_attempts, locked, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, 0, FALSE, NOW(), NOW(), 1)
		RETURNING ` + userColumns

	err := db.QueryRowContext(ctx, query, email, name, passwordHash, isAdmin).Scan(userFields(user)...)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, database.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, db *sql.DB, id int64) (*models.User, error) {
	user := &models.User{}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(userFields(user)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

func GetUserByEmail(ctx context.Context, db *sql.DB, email string) (*models.User, error) {
	user := &models.User{}

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	err := db.QueryRowContext(ctx, query, email).Scan(userFields(user)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	return user, nil
}

// SaveLockState writes back the attempt counter and lock fields after the
// guard has mutated them. Last writer wins; concurrent attempts against the
// same account may under-count by design.
func SaveLockState(ctx context.Context, db *sql.DB, u *models.User) error {
	var reason interface{}
	if u.LockedReason != "" {
		reason = u.LockedReason
	}

	_, err := db.ExecContext(ctx,
		`UPDATE users
		 SET login_attempts = $1,
		     locked = $2,
		     locked_reason = $3,
		     lock_until = $4,
		     locked_at = $5,
		     locked_by = $6,
		     updated_at = NOW()
		 WHERE id = $7`,
		u.LoginAttempts, u.Locked, reason, u.LockUntil, u.LockedAt, u.LockedBy, u.ID)
	if err != nil {
		return fmt.Errorf("save lock state: %w", err)
	}

	return nil
}

// SetAdminLock imposes an administrator lock. No lock_until: only an
// explicit unlock clears it.
func SetAdminLock(ctx context.Context, db *sql.DB, userID, adminID int64, reason string) error {
	if reason != models.LockReasonAdminAction && reason != models.LockReasonSecurity {
		reason = models.LockReasonAdminAction
	}

	result, err := db.ExecContext(ctx,
		`UPDATE users
		 SET locked = TRUE,
		     locked_reason = $1,
		     lock_until = NULL,
		     locked_at = NOW(),
		     locked_by = $2,
		     updated_at = NOW()
		 WHERE id = $3`,
		reason, adminID, userID)
	if err != nil {
		return fmt.Errorf("set admin lock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrUserNotFound
	}

	return nil
}

// ClearLock removes any lock and resets the attempt counter.
func ClearLock(ctx context.Context, db *sql.DB, userID int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE users
		 SET login_attempts = 0,
		     locked = FALSE,
		     locked_reason = NULL,
		     lock_until = NULL,
		     locked_at = NULL,
		     locked_by = NULL,
		     updated_at = NOW()
		 WHERE id = $1`,
		userID)
	if err != nil {
		return fmt.Errorf("clear lock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrUserNotFound
	}

	return nil
}

// AccountDB adapts the store functions to the auth.AccountStore interface.
type AccountDB struct {
	DB *sql.DB
}

func (s *AccountDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return GetUserByEmail(ctx, s.DB, email)
}

func (s *AccountDB) SaveLockState(ctx context.Context, u *models.User) error {
	return SaveLockState(ctx, s.DB, u)
}

func userFields(u *models.User) []interface{} {
	return []interface{}{
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&u.IsAdmin,
		&u.LoginAttempts,
		&u.Locked,
		&nullString{&u.LockedReason},
		&u.LockUntil,
		&u.LockedAt,
		&u.LockedBy,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.Version,
	}
}

// nullString scans a nullable text column into a plain string, empty for
// NULL.
type nullString struct {
	s *string
}

func (n *nullString) Scan(value interface{}) error {
	if value == nil {
		*n.s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*n.s = v
	case []byte:
		*n.s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into string", value)
	}
	return nil
}
