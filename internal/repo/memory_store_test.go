package repo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shepherd/internal/models"
)

func seedAccount(t *testing.T, s *MemoryAccountStore, email string) *models.Account {
	t.Helper()
	a := &models.Account{Email: email, Name: "Anna", Role: models.RoleAdmin, IsActive: true, PasswordHash: "h0"}
	require.NoError(t, s.Create(context.Background(), a))
	return a
}

func TestMemoryStore_CreateNormalizesAndRejectsDuplicates(t *testing.T) {
	s := NewMemoryAccountStore()
	a := seedAccount(t, s, "  Anna@Church.ORG ")

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "anna@church.org", a.Email)

	err := s.Create(context.Background(), &models.Account{Email: "ANNA@church.org"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	got, err := s.FindByEmail(context.Background(), "anna@CHURCH.org")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryAccountStore()
	a := seedAccount(t, s, "anna@church.org")

	got, err := s.FindByID(context.Background(), a.ID)
	require.NoError(t, err)
	got.Name = "changed"

	again, err := s.FindByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Anna", again.Name)
}

func TestMemoryStore_FindMissing(t *testing.T) {
	s := NewMemoryAccountStore()
	_, err := s.FindByID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindByEmail(context.Background(), "nope@church.org")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_RotateRefreshToken(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAccountStore()
	a := seedAccount(t, s, "anna@church.org")

	require.NoError(t, s.RecordLogin(ctx, a.ID, "r1", time.Now()))
	require.NoError(t, s.RotateRefreshToken(ctx, a.ID, "r1", "r2"))
	assert.ErrorIs(t, s.RotateRefreshToken(ctx, a.ID, "r1", "r3"), ErrStaleToken)

	got, _ := s.FindByID(ctx, a.ID)
	require.NotNil(t, got.RefreshTokenHash)
	assert.Equal(t, "r2", *got.RefreshTokenHash)
}

func TestMemoryStore_ConcurrentRotateHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAccountStore()
	a := seedAccount(t, s, "anna@church.org")
	require.NoError(t, s.RecordLogin(ctx, a.ID, "r1", time.Now()))

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.RotateRefreshToken(ctx, a.ID, "r1", "next"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryStore_ClearRefreshTokenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAccountStore()
	a := seedAccount(t, s, "anna@church.org")

	require.NoError(t, s.ClearRefreshToken(ctx, a.ID))
	require.NoError(t, s.ClearRefreshToken(ctx, a.ID))
	require.NoError(t, s.ClearRefreshToken(ctx, "missing"))
}

func TestMemoryStore_ConsumeProfileToken(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAccountStore()
	a := seedAccount(t, s, "anna@church.org")
	seedAccount(t, s, "boris@church.org")

	exp := time.Now().Add(15 * time.Minute)
	require.NoError(t, s.SetProfileToken(ctx, a.ID, "p1", models.PurposeEmail, exp))

	taken := "Boris@church.org"
	assert.ErrorIs(t, s.ConsumeProfileToken(ctx, a.ID, "p1", ProfileChanges{Email: &taken}), ErrDuplicateEmail)

	email := "anna.new@church.org"
	name := "Anna K."
	assert.ErrorIs(t, s.ConsumeProfileToken(ctx, a.ID, "wrong", ProfileChanges{Email: &email}), ErrStaleToken)
	require.NoError(t, s.ConsumeProfileToken(ctx, a.ID, "p1", ProfileChanges{Email: &email, Name: &name}))

	got, err := s.FindByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, "Anna K.", got.Name)
	assert.Nil(t, got.ProfileTokenHash)
	assert.Nil(t, got.ProfileTokenPurpose)

	_, err = s.FindByEmail(ctx, "anna@church.org")
	assert.ErrorIs(t, err, ErrNotFound)

	// повторное гашение
	assert.ErrorIs(t, s.ConsumeProfileToken(ctx, a.ID, "p1", ProfileChanges{Name: &name}), ErrStaleToken)
}

func TestMemoryStore_ConsumePasswordTokenClearsSession(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAccountStore()
	a := seedAccount(t, s, "anna@church.org")
	require.NoError(t, s.RecordLogin(ctx, a.ID, "r1", time.Now()))
	require.NoError(t, s.SetPasswordToken(ctx, a.ID, "pw", time.Now().Add(time.Minute)))

	require.NoError(t, s.ConsumePasswordToken(ctx, a.ID, "pw", "h1"))
	got, _ := s.FindByID(ctx, a.ID)
	assert.Equal(t, "h1", got.PasswordHash)
	assert.Nil(t, got.RefreshTokenHash)
	assert.Nil(t, got.PasswordTokenHash)

	assert.ErrorIs(t, s.ConsumePasswordToken(ctx, a.ID, "pw", "h2"), ErrStaleToken)
}

func TestMemoryStore_ResetPasswordChecksExpectedHash(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAccountStore()
	a := seedAccount(t, s, "anna@church.org")
	locked := time.Now().Add(time.Hour)
	require.NoError(t, s.RecordLoginFailure(ctx, a.ID, 5, &locked))

	assert.ErrorIs(t, s.ResetPassword(ctx, a.ID, "other", "h1"), ErrStaleToken)
	require.NoError(t, s.ResetPassword(ctx, a.ID, "h0", "h1"))

	got, _ := s.FindByID(ctx, a.ID)
	assert.Equal(t, "h1", got.PasswordHash)
	assert.Zero(t, got.FailedLoginAttempts)
	assert.Nil(t, got.LockedUntil)
	assert.ErrorIs(t, s.ResetPassword(ctx, a.ID, "h0", "h2"), ErrStaleToken)
}

func TestMemoryStore_Sweep(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAccountStore()
	a := seedAccount(t, s, "anna@church.org")
	b := seedAccount(t, s, "boris@church.org")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SetProfileToken(ctx, a.ID, "p", models.PurposeProfile, now))
	require.NoError(t, s.SetPasswordToken(ctx, b.ID, "pw", now.Add(time.Second)))
	lock := now.Add(-time.Minute)
	require.NoError(t, s.RecordLoginFailure(ctx, b.ID, 5, &lock))

	n, err := s.SweepExpiredTokens(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.ReleaseExpiredLocks(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	gotB, _ := s.FindByID(ctx, b.ID)
	assert.NotNil(t, gotB.PasswordTokenHash)
	assert.Nil(t, gotB.LockedUntil)
	assert.Zero(t, gotB.FailedLoginAttempts)
}
