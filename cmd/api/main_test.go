package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anhtran/teashop/internal/auth"
	"github.com/anhtran/teashop/internal/models"
)

func newMockApp(t *testing.T) (*application, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("Failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &application{db: db}, mock
}

func adminLockRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/admin/users/7/lock", strings.NewReader(body))
	claims := &auth.SessionClaims{
		IsAdmin: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "1",
		},
	}
	return req.WithContext(context.WithValue(req.Context(), claimsKey, claims))
}

func TestAdminLockRejectsMalformedBody(t *testing.T) {
	app, mock := newMockApp(t)

	rec := httptest.NewRecorder()
	app.handleAdminUser(rec, adminLockRequest(`{"reason": `))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet(), "malformed body must not reach the database")
}

func TestAdminLockEmptyBodyUsesDefaultReason(t *testing.T) {
	app, mock := newMockApp(t)

	mock.ExpectExec(`(?s)UPDATE users.+SET locked = TRUE`).
		WithArgs(models.LockReasonAdminAction, int64(1), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := httptest.NewRecorder()
	app.handleAdminUser(rec, adminLockRequest(""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdminLockPassesRequestedReason(t *testing.T) {
	app, mock := newMockApp(t)

	mock.ExpectExec(`(?s)UPDATE users.+SET locked = TRUE`).
		WithArgs(models.LockReasonSecurity, int64(1), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := httptest.NewRecorder()
	app.handleAdminUser(rec, adminLockRequest(`{"reason": "security"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
