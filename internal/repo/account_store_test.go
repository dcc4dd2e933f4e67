package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newGormWithMock(t *testing.T) (*GormAccountStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	g, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewAccountStore(g), mock
}

func TestGormStore_FindByID(t *testing.T) {
	s, mock := newGormWithMock(t)

	rows := sqlmock.NewRows([]string{"id", "email", "role", "is_active", "permissions", "password_hash"}).
		AddRow("a-1", "anna@church.org", "admin", true, []byte(`["members","reports"]`), "hash")
	mock.ExpectQuery(`(?s)SELECT \* FROM "accounts" WHERE id = \$1.*deleted_at" IS NULL`).
		WillReturnRows(rows)

	got, err := s.FindByID(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, "anna@church.org", got.Email)
	assert.Equal(t, []string{"members", "reports"}, []string(got.Permissions))
	assert.True(t, got.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_FindByID_NotFound(t *testing.T) {
	s, mock := newGormWithMock(t)
	mock.ExpectQuery(`SELECT \* FROM "accounts"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_FindByEmail_DBError(t *testing.T) {
	s, mock := newGormWithMock(t)
	mock.ExpectQuery(`SELECT \* FROM "accounts" WHERE email = \$1`).
		WillReturnError(errors.New("db down"))

	_, err := s.FindByEmail(context.Background(), "Anna@Church.org")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "db down")
}

func TestGormStore_EmailTaken(t *testing.T) {
	s, mock := newGormWithMock(t)
	mock.ExpectQuery(`(?s)SELECT count\(\*\) FROM "accounts" WHERE \(email = \$1 AND id <> \$2\)`).
		WithArgs("anna@church.org", "a-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	taken, err := s.EmailTaken(context.Background(), " ANNA@church.org", "a-1")
	require.NoError(t, err)
	assert.True(t, taken)
}

func TestGormStore_RotateRefreshToken(t *testing.T) {
	s, mock := newGormWithMock(t)
	q := `(?s)UPDATE "accounts" SET "refresh_token_hash"=\$1,"updated_at"=\$2 WHERE \(id = \$3 AND refresh_token_hash = \$4\)`

	mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.RotateRefreshToken(context.Background(), "a-1", "old", "new"))

	mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 0))
	err := s.RotateRefreshToken(context.Background(), "a-1", "old", "newer")
	assert.ErrorIs(t, err, ErrStaleToken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_ConsumeProfileToken_DuplicateEmail(t *testing.T) {
	s, mock := newGormWithMock(t)
	mock.ExpectExec(`(?s)UPDATE "accounts" SET .*"email"=.* WHERE \(id = \$\d+ AND profile_token_hash = \$\d+\)`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	email := "boris@church.org"
	err := s.ConsumeProfileToken(context.Background(), "a-1", "p1", ProfileChanges{Email: &email})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestGormStore_ConsumePasswordToken_Stale(t *testing.T) {
	s, mock := newGormWithMock(t)
	mock.ExpectExec(`(?s)UPDATE "accounts" SET .* WHERE \(id = \$\d+ AND password_token_hash = \$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.ConsumePasswordToken(context.Background(), "a-1", "pw", "h1")
	assert.ErrorIs(t, err, ErrStaleToken)
}

func TestGormStore_ResetPassword(t *testing.T) {
	s, mock := newGormWithMock(t)
	mock.ExpectExec(`(?s)UPDATE "accounts" SET .*"refresh_token_hash"=.* WHERE \(id = \$\d+ AND password_hash = \$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.ResetPassword(context.Background(), "a-1", "h0", "h1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_SweepExpiredTokens(t *testing.T) {
	s, mock := newGormWithMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`(?s)UPDATE "accounts" SET .* WHERE \(profile_token_expires_at IS NOT NULL`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`(?s)UPDATE "accounts" SET .* WHERE \(password_token_expires_at IS NOT NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.SweepExpiredTokens(context.Background(), now)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_RecordLoginFailure_WrapsError(t *testing.T) {
	s, mock := newGormWithMock(t)
	mock.ExpectExec(`UPDATE "accounts" SET`).WillReturnError(errors.New("conn reset"))

	err := s.RecordLoginFailure(context.Background(), "a-1", 3, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account write")
}
