package repo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"shepherd/internal/models"
)

// MemoryAccountStore: in-memory хранилище для режима без БД и для тестов.
// Наружу всегда отдаются копии, условные обновления выполняются под одной блокировкой.
type MemoryAccountStore struct {
	mu      sync.RWMutex
	byID    map[string]*models.Account
	byEmail map[string]string
	now     func() time.Time
}

var _ AccountStore = (*MemoryAccountStore)(nil)

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		byID:    make(map[string]*models.Account),
		byEmail: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryAccountStore) Create(_ context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Email = models.NormalizeEmail(a.Email)
	if _, ok := m.byEmail[a.Email]; ok {
		return ErrDuplicateEmail
	}
	now := m.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	m.byID[a.ID] = a.Clone()
	m.byEmail[a.Email] = a.ID
	return nil
}

func (m *MemoryAccountStore) FindByID(_ context.Context, id string) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *MemoryAccountStore) FindByEmail(_ context.Context, email string) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[models.NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return m.byID[id].Clone(), nil
}

func (m *MemoryAccountStore) EmailTaken(_ context.Context, email, exceptID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[models.NormalizeEmail(email)]
	return ok && id != exceptID, nil
}

func (m *MemoryAccountStore) RecordLogin(_ context.Context, id, refreshHash string, at time.Time) error {
	return m.mutate(id, func(a *models.Account) error {
		a.RefreshTokenHash = &refreshHash
		a.LastLoginAt = &at
		a.FailedLoginAttempts = 0
		a.LockedUntil = nil
		return nil
	})
}

func (m *MemoryAccountStore) RecordLoginFailure(_ context.Context, id string, attempts int, lockedUntil *time.Time) error {
	return m.mutate(id, func(a *models.Account) error {
		a.FailedLoginAttempts = attempts
		a.LockedUntil = lockedUntil
		return nil
	})
}

func (m *MemoryAccountStore) Unlock(_ context.Context, id string) error {
	return m.mutate(id, func(a *models.Account) error {
		a.FailedLoginAttempts = 0
		a.LockedUntil = nil
		return nil
	})
}

func (m *MemoryAccountStore) RotateRefreshToken(_ context.Context, id, oldHash, newHash string) error {
	return m.mutate(id, func(a *models.Account) error {
		if a.RefreshTokenHash == nil || *a.RefreshTokenHash != oldHash {
			return ErrStaleToken
		}
		a.RefreshTokenHash = &newHash
		return nil
	})
}

func (m *MemoryAccountStore) ClearRefreshToken(_ context.Context, id string) error {
	err := m.mutate(id, func(a *models.Account) error {
		a.RefreshTokenHash = nil
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (m *MemoryAccountStore) SetProfileToken(_ context.Context, id, hash string, purpose models.TokenPurpose, expiresAt time.Time) error {
	return m.mutate(id, func(a *models.Account) error {
		a.ProfileTokenHash = &hash
		a.ProfileTokenExpiresAt = &expiresAt
		a.ProfileTokenPurpose = &purpose
		return nil
	})
}

func (m *MemoryAccountStore) SetPasswordToken(_ context.Context, id, hash string, expiresAt time.Time) error {
	return m.mutate(id, func(a *models.Account) error {
		a.PasswordTokenHash = &hash
		a.PasswordTokenExpiresAt = &expiresAt
		return nil
	})
}

func (m *MemoryAccountStore) ConsumeProfileToken(_ context.Context, id, hash string, changes ProfileChanges) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if a.ProfileTokenHash == nil || *a.ProfileTokenHash != hash {
		return ErrStaleToken
	}
	if changes.Email != nil {
		email := models.NormalizeEmail(*changes.Email)
		if owner, taken := m.byEmail[email]; taken && owner != id {
			return ErrDuplicateEmail
		}
		delete(m.byEmail, a.Email)
		a.Email = email
		m.byEmail[email] = id
	}
	if changes.Name != nil {
		a.Name = *changes.Name
	}
	if changes.Phone != nil {
		a.Phone = *changes.Phone
	}
	if changes.Position != nil {
		a.Position = *changes.Position
	}
	a.ProfileTokenHash = nil
	a.ProfileTokenExpiresAt = nil
	a.ProfileTokenPurpose = nil
	a.UpdatedAt = m.now()
	return nil
}

func (m *MemoryAccountStore) ConsumePasswordToken(_ context.Context, id, hash, passwordHash string) error {
	return m.mutate(id, func(a *models.Account) error {
		if a.PasswordTokenHash == nil || *a.PasswordTokenHash != hash {
			return ErrStaleToken
		}
		a.PasswordHash = passwordHash
		a.PasswordTokenHash = nil
		a.PasswordTokenExpiresAt = nil
		a.RefreshTokenHash = nil
		return nil
	})
}

func (m *MemoryAccountStore) ResetPassword(_ context.Context, id, expectedHash, passwordHash string) error {
	return m.mutate(id, func(a *models.Account) error {
		if a.PasswordHash != expectedHash {
			return ErrStaleToken
		}
		a.PasswordHash = passwordHash
		a.RefreshTokenHash = nil
		a.PasswordTokenHash = nil
		a.PasswordTokenExpiresAt = nil
		a.ProfileTokenHash = nil
		a.ProfileTokenExpiresAt = nil
		a.ProfileTokenPurpose = nil
		a.FailedLoginAttempts = 0
		a.LockedUntil = nil
		return nil
	})
}

func (m *MemoryAccountStore) SweepExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.byID {
		if a.ProfileTokenExpiresAt != nil && !now.Before(*a.ProfileTokenExpiresAt) {
			a.ProfileTokenHash = nil
			a.ProfileTokenExpiresAt = nil
			a.ProfileTokenPurpose = nil
			n++
		}
		if a.PasswordTokenExpiresAt != nil && !now.Before(*a.PasswordTokenExpiresAt) {
			a.PasswordTokenHash = nil
			a.PasswordTokenExpiresAt = nil
			n++
		}
	}
	return n, nil
}

func (m *MemoryAccountStore) ReleaseExpiredLocks(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.byID {
		if a.LockedUntil != nil && !now.Before(*a.LockedUntil) {
			a.LockedUntil = nil
			a.FailedLoginAttempts = 0
			n++
		}
	}
	return n, nil
}

func (m *MemoryAccountStore) mutate(id string, fn func(a *models.Account) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	// изменения применяются к копии и фиксируются только при успехе
	next := a.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.UpdatedAt = m.now()
	m.byID[id] = next
	return nil
}
